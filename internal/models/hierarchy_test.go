package models

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"
)

func hierarchyInputs(t *testing.T, n int) Inputs {
	t.Helper()
	rng := rand.New(rand.NewSource(42))

	market := make([]float64, n)
	asset := make([]float64, n)
	value := make([]float64, n)
	quality := make([]float64, n)
	risk := make([]float64, n)
	composite := make([]float64, n)
	for i := 0; i < n; i++ {
		market[i] = 0.012 * rng.NormFloat64()
		value[i] = math.Sin(float64(i) / 30)
		quality[i] = math.Cos(float64(i) / 45)
		risk[i] = 0.5 * rng.NormFloat64()
		composite[i] = (value[i] + quality[i] + risk[i]) / 3
		asset[i] = 0.8*market[i] + 0.001*value[i] + 0.004*rng.NormFloat64()
	}

	zNames := []string{"z_earnings_yield", "z_pb_ratio", "z_roic", "z_beta"}
	z := make(map[string]*timeseries.Series, len(zNames))
	for _, name := range zNames {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = rng.NormFloat64()
		}
		z[name] = mkSeries(t, vals)
	}

	macroNames := []string{"macro_commodity_ret", "macro_fx_ret", "macro_spread_chg"}
	macro := make(map[string]*timeseries.Series, len(macroNames))
	for _, name := range macroNames {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = 0.01 * rng.NormFloat64()
		}
		macro[name] = mkSeries(t, vals)
	}

	return Inputs{
		AssetExcess:  mkSeries(t, asset),
		MarketExcess: mkSeries(t, market),
		Value:        mkSeries(t, value),
		Quality:      mkSeries(t, quality),
		Risk:         mkSeries(t, risk),
		Composite:    mkSeries(t, composite),
		ZScores:      z,
		ZOrder:       zNames,
		Macro:        macro,
		MacroOrder:   macroNames,
	}
}

func hierarchyConfig(split time.Time) Config {
	cfg := DefaultConfig(split)
	cfg.RollingWindow = 60
	cfg.MinTrainObs = 50
	cfg.Boost.Rounds = 10
	cfg.Boost.OutlierFraction = 0
	return cfg
}

func TestRunFitsEveryNode(t *testing.T) {
	in := hierarchyInputs(t, 300)
	split := in.AssetExcess.Date(200)

	res, err := Run(hierarchyConfig(split), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Order) != len(domain.HierarchyOrder) {
		t.Fatalf("order length: got %d want %d", len(res.Order), len(domain.HierarchyOrder))
	}
	for _, key := range res.Order {
		node := res.Node(key)
		if node == nil {
			t.Fatalf("node %s missing", key)
		}
		if node.Err != nil {
			t.Fatalf("node %s failed: %v", key, node.Err)
		}
		if node.InSample == nil || node.TrainActual == nil {
			t.Fatalf("node %s missing in-sample series", key)
		}
		if node.OutOfSample == nil || node.TestActual == nil {
			t.Fatalf("node %s missing out-of-sample series", key)
		}
		if node.OutOfSample.Len() != node.TestActual.Len() {
			t.Fatalf("node %s prediction/actual length mismatch", key)
		}
	}
}

func TestRunBaselinePredictions(t *testing.T) {
	in := hierarchyInputs(t, 300)
	split := in.AssetExcess.Date(200)

	res, err := Run(hierarchyConfig(split), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rw := res.Node(domain.ModelM0RandomWalk)
	for i := 0; i < rw.OutOfSample.Len(); i++ {
		if rw.OutOfSample.Value(i) != 0 {
			t.Fatalf("random walk must predict zero, got %f", rw.OutOfSample.Value(i))
		}
	}

	mean := res.Node(domain.ModelM0Mean)
	for i := 0; i < mean.OutOfSample.Len(); i++ {
		if math.Abs(mean.OutOfSample.Value(i)-mean.TrainMean) > 1e-12 {
			t.Fatalf("mean baseline must predict the training mean")
		}
	}
	if rw.TrainMean != mean.TrainMean {
		t.Fatal("baselines must share the training mean")
	}
}

func TestRunStaticPredictionsFollowFittedLine(t *testing.T) {
	in := hierarchyInputs(t, 300)
	split := in.AssetExcess.Date(200)

	res, err := Run(hierarchyConfig(split), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node := res.Node(domain.ModelM1Static)
	if node.Err != nil {
		t.Fatalf("static node failed: %v", node.Err)
	}
	if len(node.Coefs) != 2 {
		t.Fatalf("expected alpha and beta, got %d coefficients", len(node.Coefs))
	}
	alpha, beta := node.Coefs[0].Estimate, node.Coefs[1].Estimate

	check := func(preds *timeseries.Series) {
		t.Helper()
		for i := 0; i < preds.Len(); i++ {
			mkt, ok := in.MarketExcess.At(preds.Date(i))
			if !ok {
				t.Fatalf("no market observation on %s", preds.Date(i).Format("2006-01-02"))
			}
			want := alpha + beta*mkt
			if math.Abs(preds.Value(i)-want) > 1e-12 {
				t.Fatalf("prediction at %s: got %g want %g", preds.Date(i).Format("2006-01-02"), preds.Value(i), want)
			}
		}
	}
	check(node.InSample)
	check(node.OutOfSample)
}

func TestRunBoostedHasNoInformationCriteria(t *testing.T) {
	in := hierarchyInputs(t, 300)
	split := in.AssetExcess.Date(200)

	res, err := Run(hierarchyConfig(split), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Node(domain.ModelM5bBoosted).HasIC {
		t.Fatal("boosted node must not report information criteria")
	}
	for _, key := range []domain.ModelKey{domain.ModelM0RandomWalk, domain.ModelM1Static, domain.ModelM4Macro} {
		if !res.Node(key).HasIC {
			t.Fatalf("node %s should report information criteria", key)
		}
	}
}

func TestRunIsolatesMissingCompositeToRobustNode(t *testing.T) {
	in := hierarchyInputs(t, 300)
	in.Composite = nil
	split := in.AssetExcess.Date(200)

	res, err := Run(hierarchyConfig(split), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Node(domain.ModelM5aScore).Err == nil {
		t.Fatal("robust node should fail without a composite series")
	}
	for _, key := range []domain.ModelKey{domain.ModelM3Fund, domain.ModelM4Macro, domain.ModelM5bBoosted} {
		if err := res.Node(key).Err; err != nil {
			t.Fatalf("node %s must not be affected: %v", key, err)
		}
	}
}

func TestRunAnchorFailureCascades(t *testing.T) {
	// 50 observations against a 60-day window: the rolling anchor cannot fit
	// and every fundamental model inherits the failure, while the baselines
	// and the static fit survive.
	in := hierarchyInputs(t, 50)
	split := in.AssetExcess.Date(40)
	cfg := hierarchyConfig(split)
	cfg.MinTrainObs = 10

	res, err := Run(cfg, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range []domain.ModelKey{domain.ModelM0RandomWalk, domain.ModelM0Mean, domain.ModelM1Static} {
		if err := res.Node(key).Err; err != nil {
			t.Fatalf("node %s should fit: %v", key, err)
		}
	}
	for _, key := range []domain.ModelKey{domain.ModelM2Rolling, domain.ModelM3Fund, domain.ModelM4Macro, domain.ModelM5aScore, domain.ModelM5bBoosted} {
		if res.Node(key).Err == nil {
			t.Fatalf("node %s should fail without the anchor", key)
		}
	}
}

func TestRunBoostedFitsAlternateTarget(t *testing.T) {
	const h = 5
	in := hierarchyInputs(t, 300)
	split := in.AssetExcess.Date(200)

	fwd, err := timeseries.ForwardCumulative(in.AssetExcess, h)
	if err != nil {
		t.Fatalf("forward target: %v", err)
	}
	in.BoostTarget = fwd

	res, err := Run(hierarchyConfig(split), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node := res.Node(domain.ModelM5bBoosted)
	if node.Err != nil {
		t.Fatalf("boosted node failed: %v", node.Err)
	}

	// The unresolved tail of the forward target drops out of the fit.
	last := node.TestActual.Date(node.TestActual.Len() - 1)
	if !last.Equal(in.AssetExcess.Date(in.AssetExcess.Len() - 1 - h)) {
		t.Fatalf("boosted sample should end %d observations early, last date %v", h, last)
	}
	want, ok := fwd.At(last)
	if !ok || math.Abs(node.TestActual.Value(node.TestActual.Len()-1)-want) > 1e-12 {
		t.Fatal("boosted actuals must come from the alternate target")
	}

	// The daily models keep their own target untouched.
	anchor := res.Node(domain.ModelM2Rolling)
	if anchor.Err != nil {
		t.Fatalf("rolling node failed: %v", anchor.Err)
	}
	if anchor.TestActual.Date(anchor.TestActual.Len() - 1).Equal(last) {
		t.Fatal("daily models must not inherit the alternate target calendar")
	}
}

func TestRunCompositeAblationWidensBoostedFeatures(t *testing.T) {
	in := hierarchyInputs(t, 300)
	split := in.AssetExcess.Date(200)
	cfg := hierarchyConfig(split)
	cfg.IncludeComposite = true

	res, err := Run(cfg, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := res.Node(domain.ModelM5bBoosted).Err; err != nil {
		t.Fatalf("boosted node with composite feature failed: %v", err)
	}
}
