package optimization

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// quadraticObjective peaks where the "period" parameter equals target
func quadraticObjective(target float64) ObjectiveFunc {
	return func(_ context.Context, params map[string]float64) (*types.PerformanceMetrics, error) {
		v := params["period"]
		return &types.PerformanceMetrics{
			SharpeRatio: 2 - (v-target)*(v-target),
			TotalTrades: 100,
		}, nil
	}
}

func periodSchema() []types.ParameterSpec {
	return []types.ParameterSpec{
		{Name: "period", Type: types.ParamContinuous, Min: 0, Max: 100, Step: 10, Default: 50},
	}
}

func TestGridSearchRecoversOptimum(t *testing.T) {
	opt, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method:    types.MethodGrid,
		Objective: "sharpeRatio",
		Workers:   2,
		Seed:      1,
	}, periodSchema(), quadraticObjective(40))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trials) != 11 {
		t.Fatalf("trials = %d, want 11 grid points", len(result.Trials))
	}
	if result.BestParams["period"] != 40 {
		t.Fatalf("best period = %v, want 40", result.BestParams["period"])
	}
	if math.Abs(result.BestScore-2) > 1e-9 {
		t.Fatalf("best score = %v, want 2", result.BestScore)
	}
	if len(result.Convergence) != len(result.Trials) {
		t.Fatalf("convergence length = %d, want %d", len(result.Convergence), len(result.Trials))
	}
	for i := 1; i < len(result.Convergence); i++ {
		if result.Convergence[i] < result.Convergence[i-1] {
			t.Fatalf("convergence decreases at %d", i)
		}
	}
}

func TestGridValuesInteger(t *testing.T) {
	vals := gridValues(types.ParameterSpec{
		Name: "n", Type: types.ParamInteger, Min: 1, Max: 5, Step: 1,
	})
	if len(vals) != 5 {
		t.Fatalf("values = %v, want 5 integers", vals)
	}
	for i, v := range vals {
		if v != float64(i+1) {
			t.Fatalf("values = %v, want 1..5", vals)
		}
	}
}

func TestGridValuesCategorical(t *testing.T) {
	choices := []float64{3, 7, 11}
	vals := gridValues(types.ParameterSpec{
		Name: "mode", Type: types.ParamCategorical, Choices: choices,
	})
	if len(vals) != 3 {
		t.Fatalf("values = %v, want the 3 choices", vals)
	}
}

func TestConstraintViolationNeverBest(t *testing.T) {
	objective := func(_ context.Context, params map[string]float64) (*types.PerformanceMetrics, error) {
		v := params["period"]
		// The highest raw scores carry the deepest drawdowns
		return &types.PerformanceMetrics{
			SharpeRatio: v,
			MaxDrawdown: v / 100,
			TotalTrades: 50,
		}, nil
	}

	opt, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method:      types.MethodGrid,
		Objective:   "sharpeRatio",
		Constraints: types.OptimizationConstraints{MaxDrawdown: 0.5},
		Workers:     2,
		Seed:        1,
	}, periodSchema(), objective)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// period 60..100 violate; 50 is the best admissible point
	if result.BestParams["period"] != 50 {
		t.Fatalf("best period = %v, want 50", result.BestParams["period"])
	}

	var violated int
	for _, trial := range result.Trials {
		if trial.Violated {
			violated++
			if !math.IsInf(trial.Score, -1) {
				t.Fatalf("violated trial score = %v, want -Inf", trial.Score)
			}
		}
	}
	if violated != 5 {
		t.Fatalf("violated trials = %d, want 5", violated)
	}
}

func TestAllTrialsViolated(t *testing.T) {
	objective := func(context.Context, map[string]float64) (*types.PerformanceMetrics, error) {
		return &types.PerformanceMetrics{SharpeRatio: 3, TotalTrades: 1}, nil
	}

	opt, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method:      types.MethodRandom,
		Objective:   "sharpeRatio",
		Iterations:  5,
		Constraints: types.OptimizationConstraints{MinTrades: 30},
		Seed:        1,
	}, periodSchema(), objective)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BestParams != nil {
		t.Fatalf("bestParams = %v, want nil when every trial violates", result.BestParams)
	}
	if result.BestScore != 0 {
		t.Fatalf("bestScore = %v, want 0", result.BestScore)
	}
}

func TestRandomSearchDeterministicSeed(t *testing.T) {
	run := func() *types.OptimizationResult {
		opt, err := New(zap.NewNop(), &types.OptimizationConfig{
			Method:     types.MethodRandom,
			Objective:  "sharpeRatio",
			Iterations: 20,
			Workers:    1,
			Seed:       7,
		}, periodSchema(), quadraticObjective(40))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		result, err := opt.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return result
	}

	a, b := run(), run()
	if len(a.Trials) != 20 || len(b.Trials) != 20 {
		t.Fatalf("trial counts = %d/%d, want 20", len(a.Trials), len(b.Trials))
	}
	for i := range a.Trials {
		if a.Trials[i].Params["period"] != b.Trials[i].Params["period"] {
			t.Fatalf("trial %d params differ across identically seeded runs", i)
		}
	}
	if a.BestScore != b.BestScore {
		t.Fatalf("best scores differ: %v vs %v", a.BestScore, b.BestScore)
	}
}

func TestObjectiveErrorMarksTrialViolated(t *testing.T) {
	objective := func(_ context.Context, params map[string]float64) (*types.PerformanceMetrics, error) {
		if params["period"] < 50 {
			return nil, fmt.Errorf("simulation blew up")
		}
		return &types.PerformanceMetrics{SharpeRatio: 1, TotalTrades: 10}, nil
	}

	opt, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method:    types.MethodGrid,
		Objective: "sharpeRatio",
		Workers:   1,
		Seed:      1,
	}, periodSchema(), objective)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BestParams == nil {
		t.Fatal("expected a best from the surviving trials")
	}
	if result.BestParams["period"] < 50 {
		t.Fatalf("best period = %v from a failing region", result.BestParams["period"])
	}
}

func TestCancelledContextStopsSubmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	objective := func(context.Context, map[string]float64) (*types.PerformanceMetrics, error) {
		calls.Add(1)
		return &types.PerformanceMetrics{SharpeRatio: 1, TotalTrades: 10}, nil
	}

	opt, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method:     types.MethodRandom,
		Objective:  "sharpeRatio",
		Iterations: 100,
		Workers:    1,
		Seed:       1,
	}, periodSchema(), objective)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := opt.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trials) != 0 {
		t.Fatalf("trials = %d, want 0 for a pre-cancelled context", len(result.Trials))
	}
	if calls.Load() != 0 {
		t.Fatalf("objective called %d times after cancellation", calls.Load())
	}
	if result.BestParams != nil {
		t.Fatalf("bestParams = %v, want nil", result.BestParams)
	}
}

func TestGeneticSearchImproves(t *testing.T) {
	opt, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method:         types.MethodGenetic,
		Objective:      "sharpeRatio",
		PopulationSize: 10,
		Generations:    5,
		Workers:        2,
		Seed:           3,
	}, periodSchema(), quadraticObjective(40))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trials) != 50 {
		t.Fatalf("trials = %d, want popSize*generations = 50", len(result.Trials))
	}
	if math.Abs(result.BestParams["period"]-40) > 20 {
		t.Fatalf("best period = %v, expected near 40", result.BestParams["period"])
	}
}

func TestBayesianSearchRunsAllIterations(t *testing.T) {
	opt, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method:         types.MethodBayesian,
		Objective:      "sharpeRatio",
		Iterations:     25,
		InitialSamples: 5,
		Workers:        2,
		Seed:           9,
	}, periodSchema(), quadraticObjective(40))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trials) != 25 {
		t.Fatalf("trials = %d, want 25", len(result.Trials))
	}
	if result.BestParams == nil {
		t.Fatal("no best selected")
	}
}

func TestSensitivity(t *testing.T) {
	opt, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method:    types.MethodGrid,
		Objective: "sharpeRatio",
		Workers:   1,
		Seed:      1,
	}, periodSchema(), quadraticObjective(40))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Sensitivity) != 1 {
		t.Fatalf("sensitivity entries = %d, want 1", len(result.Sensitivity))
	}
	s := result.Sensitivity[0]
	if s.Name != "period" {
		t.Fatalf("sensitivity name = %q", s.Name)
	}
	if s.Impact <= 0 {
		t.Fatalf("impact = %v, want positive for a curved objective", s.Impact)
	}
	if s.OptimalLow > 40 || s.OptimalHigh < 40 {
		t.Fatalf("optimal band [%v, %v] excludes the optimum", s.OptimalLow, s.OptimalHigh)
	}
}

func TestSensitivityIgnoresInertParameter(t *testing.T) {
	schema := []types.ParameterSpec{
		{Name: "period", Type: types.ParamContinuous, Min: 0, Max: 100, Step: 10, Default: 50},
		{Name: "noise", Type: types.ParamContinuous, Min: 0, Max: 10, Step: 5, Default: 0},
	}

	// The objective depends on period only; noise must report zero impact
	opt, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method:    types.MethodGrid,
		Objective: "sharpeRatio",
		Workers:   2,
		Seed:      1,
	}, schema, quadraticObjective(40))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	byName := make(map[string]types.ParameterSensitivity, len(result.Sensitivity))
	for _, s := range result.Sensitivity {
		byName[s.Name] = s
	}

	if got := byName["noise"].Impact; got != 0 {
		t.Fatalf("inert parameter impact = %v, want 0", got)
	}
	if got := byName["period"].Impact; got <= 0 {
		t.Fatalf("driving parameter impact = %v, want positive", got)
	}
	if byName["period"].Impact <= byName["noise"].Impact {
		t.Fatal("driving parameter does not outrank the inert one")
	}

	// Every noise value reaches the best score, so its optimal band spans
	// the whole range
	if n := byName["noise"]; n.OptimalLow != 0 || n.OptimalHigh != 10 {
		t.Fatalf("inert optimal band = [%v, %v], want [0, 10]", n.OptimalLow, n.OptimalHigh)
	}
}

func TestMetricValue(t *testing.T) {
	m := &types.PerformanceMetrics{
		SharpeRatio:  1.5,
		SortinoRatio: 2.5,
		WinRate:      0.6,
	}
	if got := MetricValue(m, "sortinoRatio"); got != 2.5 {
		t.Errorf("sortinoRatio = %v", got)
	}
	if got := MetricValue(m, "winRate"); got != 0.6 {
		t.Errorf("winRate = %v", got)
	}
	if got := MetricValue(m, "unknown"); got != 1.5 {
		t.Errorf("unknown metric = %v, want sharpe fallback", got)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(zap.NewNop(), &types.OptimizationConfig{
		Method: types.MethodGrid,
	}, periodSchema(), quadraticObjective(40))
	if !types.IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for missing objective", err)
	}

	_, err = New(zap.NewNop(), &types.OptimizationConfig{
		Method:    types.MethodGrid,
		Objective: "sharpeRatio",
	}, nil, quadraticObjective(40))
	if !types.IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for empty schema", err)
	}
}
