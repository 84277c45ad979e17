package bot

import (
	"fmt"
	"log"
	"strings"
	"time"

	"qval-engine/internal/domain"
	"qval-engine/internal/pipeline"

	tele "gopkg.in/telebot.v3"
)

type ReportSource interface {
	LatestReport() *pipeline.Report
}

// StartTelegramBot exposes the latest Q-VAL score over Telegram. A missing
// token disables the bot without failing startup.
func StartTelegramBot(token string, source ReportSource) {
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/score", func(c tele.Context) error {
		return c.Send(scoreMessage(source))
	})

	b.Handle("/models", func(c tele.Context) error {
		return c.Send(modelsMessage(source))
	})

	log.Println("Telegram bot started")
	go b.Start()
}

func scoreMessage(source ReportSource) string {
	report := latest(source)
	if report == nil || report.Latest == nil {
		return "No score available yet. Try again after the next pipeline run."
	}
	s := report.Latest
	return fmt.Sprintf(
		"%s Q-VAL as of %s\nScore: %.1f / 100 (%s)\nValue: %.2f  Quality: %.2f  Risk: %.2f",
		report.Entity, s.Date.Format("2006-01-02"),
		s.Scaled, strings.ToUpper(string(s.Recommendation)),
		s.ValueScore, s.QualityScore, s.RiskScore,
	)
}

func modelsMessage(source ReportSource) string {
	report := latest(source)
	if report == nil || len(report.OutOfSample) == 0 {
		return "No model evaluations available yet."
	}
	var sb strings.Builder
	sb.WriteString(report.Entity + " out-of-sample R2:\n")
	for _, key := range domain.HierarchyOrder {
		eval := report.OutOfSample[key]
		if eval == nil {
			continue
		}
		fmt.Fprintf(&sb, "%s: %.4f\n", key, eval.R2OOS)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func latest(source ReportSource) *pipeline.Report {
	if source == nil {
		return nil
	}
	return source.LatestReport()
}
