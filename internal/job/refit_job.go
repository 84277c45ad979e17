package job

import (
	"context"
	"log"
	"time"

	"qval-engine/internal/pipeline"

	"go.opentelemetry.io/otel/trace"
)

type PipelineRunner interface {
	RunPipeline(ctx context.Context) (*pipeline.Report, error)
}

// RefitJob reruns the research pipeline once a day so scores, model fits
// and backtests track newly published data.
type RefitJob struct {
	tracer    trace.Tracer
	runner    PipelineRunner
	refitHour int
}

func NewRefitJob(tracer trace.Tracer, runner PipelineRunner, refitHourUTC int) *RefitJob {
	if refitHourUTC < 0 || refitHourUTC > 23 {
		refitHourUTC = 0
	}
	return &RefitJob{tracer: tracer, runner: runner, refitHour: refitHourUTC}
}

func (j *RefitJob) Start(ctx context.Context) {
	if j.runner == nil {
		log.Println("Refit job disabled: no pipeline runner")
		<-ctx.Done()
		return
	}
	for {
		next := nextRunUTC(time.Now().UTC(), j.refitHour)
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.runOnce(ctx)
		}
	}
}

func (j *RefitJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "refit-job.run-once")
	defer span.End()

	report, err := j.runner.RunPipeline(ctx)
	if err != nil {
		log.Printf("Refit error: %v", err)
		return
	}
	for model, reason := range report.Failures {
		log.Printf("Refit model skipped model=%s reason=%s", model, reason)
	}
	if report.Latest != nil {
		log.Printf("Refit complete scaled=%.1f recommendation=%s", report.Latest.Scaled, report.Latest.Recommendation)
	}
}

func nextRunUTC(now time.Time, hour int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
