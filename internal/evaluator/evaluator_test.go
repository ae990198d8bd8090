package evaluator

import (
	"context"
	"math"
	"testing"

	"github.com/atlas-desktop/strategy-eval/internal/strategy"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

func TestEvaluateBasic(t *testing.T) {
	eval := newTestEvaluator(60, func(i int) float64 { return 100 * math.Pow(1.01, float64(i)) })

	report, err := eval.Evaluate(context.Background(), buyAndHold{}, evalConfig(60), nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Backtest == nil {
		t.Fatal("backtest missing from report")
	}
	if report.Grade == "" {
		t.Fatal("grade missing")
	}
	if len(report.Recommendations) == 0 {
		t.Fatal("recommendations missing")
	}
	if report.WalkForward != nil || report.MonteCarlo != nil || report.Robustness != nil {
		t.Fatal("optional sections present without their flags")
	}
	if report.GeneratedAt.IsZero() {
		t.Fatal("generatedAt not set")
	}
}

func TestEvaluateWalkForwardSkippedWithoutWindowConfig(t *testing.T) {
	eval := newTestEvaluator(60, func(i int) float64 { return 100 })

	report, err := eval.Evaluate(context.Background(), buyAndHold{}, evalConfig(60),
		&types.EvaluationConfig{WalkForward: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.WalkForward != nil {
		t.Fatal("walk-forward ran without a window config")
	}
}

func TestEvaluateWithWalkForward(t *testing.T) {
	eval := newTestEvaluator(360, func(i int) float64 { return 100 * math.Pow(1.002, float64(i)) })
	config := evalConfig(360)
	config.WalkForward = &types.WalkForwardConfig{WindowSize: 90, TestSize: 30, StepSize: 30}

	report, err := eval.Evaluate(context.Background(), buyAndHold{}, config,
		&types.EvaluationConfig{WalkForward: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.WalkForward == nil {
		t.Fatal("walk-forward section missing")
	}
	if len(report.WalkForward.Windows) == 0 {
		t.Fatal("no walk-forward windows completed")
	}
	if report.WalkForward.Stability < 0 || report.WalkForward.Stability > 1 {
		t.Fatalf("stability = %v outside [0,1]", report.WalkForward.Stability)
	}
}

func TestEvaluateWithMonteCarloAndRobustness(t *testing.T) {
	eval := newTestEvaluator(120, func(i int) float64 { return 100 * math.Pow(1.005, float64(i)) })

	report, err := eval.Evaluate(context.Background(), buyAndHold{}, evalConfig(120),
		&types.EvaluationConfig{
			MonteCarlo:           true,
			MonteCarloIterations: 200,
			Robustness:           true,
		})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.MonteCarlo == nil {
		t.Fatal("monte carlo section missing")
	}
	if report.MonteCarlo.Iterations != 200 {
		t.Errorf("mc iterations = %d, want 200", report.MonteCarlo.Iterations)
	}
	if report.Robustness == nil {
		t.Fatal("robustness section missing")
	}
	if len(report.Robustness.Conditions) == 0 {
		t.Fatal("no robustness conditions completed")
	}
	if report.Robustness.OverallScore < 0 || report.Robustness.OverallScore > 1 {
		t.Fatalf("overall score = %v outside [0,1]", report.Robustness.OverallScore)
	}
}

func TestOptimizeDefaults(t *testing.T) {
	eval := newTestEvaluator(90, func(i int) float64 {
		return 100 + 10*math.Sin(float64(i)/7)
	})

	result, err := eval.Optimize(context.Background(), strategy.NewMovingAverage(), evalConfig(90),
		&types.OptimizationConfig{
			Method:     types.MethodRandom,
			Objective:  "sharpeRatio",
			Iterations: 4,
			Workers:    2,
			Seed:       11,
		})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(result.Trials) != 4 {
		t.Fatalf("trials = %d, want 4", len(result.Trials))
	}
	if result.Objective != "sharpeRatio" {
		t.Errorf("objective = %q", result.Objective)
	}
}

func TestBacktestPassthrough(t *testing.T) {
	eval := newTestEvaluator(30, func(i int) float64 { return 100 })

	result, err := eval.Backtest(context.Background(), neverTrade{}, evalConfig(30))
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	if result.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if result.Metrics.TotalTrades != 0 {
		t.Errorf("trades = %d, want 0", result.Metrics.TotalTrades)
	}
}
