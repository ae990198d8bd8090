// Package optimization searches strategy parameter spaces for the best
// objective value. Trials are pure and run in parallel; cancellation
// between trials returns whatever has completed.
package optimization

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/workers"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// ObjectiveFunc evaluates one parameter set and returns its metrics.
// Implementations run a full backtest; they must be safe for concurrent
// calls.
type ObjectiveFunc func(ctx context.Context, params map[string]float64) (*types.PerformanceMetrics, error)

// Optimizer drives a parameter search
type Optimizer struct {
	logger    *zap.Logger
	config    *types.OptimizationConfig
	schema    []types.ParameterSpec
	objective ObjectiveFunc
	rng       *rand.Rand
	rngMu     sync.Mutex
}

// New validates the config against the schema and builds an optimizer
func New(logger *zap.Logger, config *types.OptimizationConfig, schema []types.ParameterSpec, objective ObjectiveFunc) (*Optimizer, error) {
	if err := config.Validate(schema); err != nil {
		return nil, err
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Optimizer{
		logger:    logger,
		config:    config,
		schema:    schema,
		objective: objective,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Run executes the configured search method
func (o *Optimizer) Run(ctx context.Context) (*types.OptimizationResult, error) {
	start := time.Now()

	var trials []types.OptimizationTrial
	var err error
	switch o.config.Method {
	case types.MethodGrid:
		trials, err = o.gridSearch(ctx)
	case types.MethodRandom:
		trials, err = o.randomSearch(ctx)
	case types.MethodGenetic:
		trials, err = o.geneticSearch(ctx)
	case types.MethodBayesian:
		trials, err = o.bayesianSearch(ctx)
	default:
		return nil, fmt.Errorf("unknown optimization method %q", o.config.Method)
	}
	if err != nil {
		return nil, err
	}

	result := o.buildResult(trials)
	result.Duration = time.Since(start)

	o.logger.Info("optimization finished",
		zap.String("method", string(o.config.Method)),
		zap.Int("trials", len(trials)),
		zap.Float64("bestScore", result.BestScore),
	)

	return result, nil
}

// score extracts the objective metric and applies constraints. Violations
// score negative infinity and are never selected as best.
func (o *Optimizer) score(metrics *types.PerformanceMetrics) (float64, bool) {
	c := o.config.Constraints
	if c.MaxDrawdown > 0 && metrics.MaxDrawdown > c.MaxDrawdown {
		return math.Inf(-1), true
	}
	if c.MinTrades > 0 && metrics.TotalTrades < c.MinTrades {
		return math.Inf(-1), true
	}
	return MetricValue(metrics, o.config.Objective), false
}

// MetricValue looks up a metric by its JSON name. Unknown names fall back
// to the Sharpe ratio.
func MetricValue(m *types.PerformanceMetrics, name string) float64 {
	switch name {
	case "sortinoRatio":
		return m.SortinoRatio
	case "calmarRatio":
		return m.CalmarRatio
	case "profitFactor":
		return m.ProfitFactor
	case "totalReturn":
		return m.TotalReturn
	case "annualizedReturn":
		return m.AnnualizedReturn
	case "winRate":
		return m.WinRate
	case "expectancy":
		v, _ := m.Expectancy.Float64()
		return v
	default:
		return m.SharpeRatio
	}
}

// evaluate runs one trial
func (o *Optimizer) evaluate(ctx context.Context, iteration int, params map[string]float64) types.OptimizationTrial {
	start := time.Now()
	trial := types.OptimizationTrial{
		Iteration: iteration,
		Params:    params,
	}

	metrics, err := o.objective(ctx, params)
	trial.Duration = time.Since(start)
	if err != nil {
		o.logger.Warn("trial failed",
			zap.Int("iteration", iteration),
			zap.Error(err),
		)
		trial.Score = math.Inf(-1)
		trial.Violated = true
		return trial
	}

	trial.Metrics = metrics
	trial.Score, trial.Violated = o.score(metrics)
	return trial
}

// runTrials evaluates candidate sets on a worker pool. Cancellation
// between trials keeps the trials already submitted.
func (o *Optimizer) runTrials(ctx context.Context, candidates []map[string]float64) []types.OptimizationTrial {
	if len(candidates) == 0 {
		return nil
	}

	numWorkers := o.config.Workers
	if numWorkers <= 0 {
		numWorkers = 4
	}

	pool := workers.NewPool(o.logger, &workers.PoolConfig{
		Name:            "optimizer",
		NumWorkers:      numWorkers,
		QueueSize:       len(candidates),
		ShutdownTimeout: time.Minute,
	}, nil)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	results := make(chan types.OptimizationTrial, len(candidates))

	for i, params := range candidates {
		if ctx.Err() != nil {
			break
		}
		iteration, p := i, params
		wg.Add(1)
		err := pool.SubmitFunc(func() error {
			defer wg.Done()
			results <- o.evaluate(ctx, iteration, p)
			return nil
		})
		if err != nil {
			wg.Done()
			break
		}
	}

	wg.Wait()
	close(results)

	trials := make([]types.OptimizationTrial, 0, len(candidates))
	for trial := range results {
		trials = append(trials, trial)
	}
	sort.Slice(trials, func(i, j int) bool { return trials[i].Iteration < trials[j].Iteration })
	return trials
}

// gridSearch enumerates the full cartesian product of discretized ranges
func (o *Optimizer) gridSearch(ctx context.Context) ([]types.OptimizationTrial, error) {
	values := make([][]float64, len(o.schema))
	for i, spec := range o.schema {
		values[i] = gridValues(spec)
	}

	var candidates []map[string]float64
	assemble(values, make([]float64, 0, len(values)), func(point []float64) {
		params := make(map[string]float64, len(o.schema))
		for i, spec := range o.schema {
			params[spec.Name] = point[i]
		}
		candidates = append(candidates, params)
	})

	return o.runTrials(ctx, candidates), nil
}

// gridValues discretizes one parameter's range. A missing step splits the
// range into ten intervals.
func gridValues(spec types.ParameterSpec) []float64 {
	if spec.Type == types.ParamCategorical {
		return spec.Choices
	}
	step := spec.Step
	if step <= 0 {
		step = (spec.Max - spec.Min) / 10
	}
	if step <= 0 {
		return []float64{spec.Min}
	}

	var vals []float64
	for v := spec.Min; v <= spec.Max+step/2; v += step {
		x := v
		if x > spec.Max {
			x = spec.Max
		}
		if spec.Type == types.ParamInteger {
			x = float64(int(x))
			if len(vals) > 0 && vals[len(vals)-1] == x {
				continue
			}
		}
		vals = append(vals, x)
	}
	return vals
}

// assemble walks the cartesian product of the value lists
func assemble(values [][]float64, prefix []float64, emit func([]float64)) {
	if len(prefix) == len(values) {
		point := make([]float64, len(prefix))
		copy(point, prefix)
		emit(point)
		return
	}
	for _, v := range values[len(prefix)] {
		assemble(values, append(prefix, v), emit)
	}
}

// randomSearch draws uniform samples across the space
func (o *Optimizer) randomSearch(ctx context.Context) ([]types.OptimizationTrial, error) {
	iterations := o.config.Iterations
	if iterations <= 0 {
		iterations = 100
	}

	candidates := make([]map[string]float64, iterations)
	for i := range candidates {
		candidates[i] = o.samplePoint()
	}
	return o.runTrials(ctx, candidates), nil
}

// samplePoint draws one uniform random parameter set
func (o *Optimizer) samplePoint() map[string]float64 {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()

	params := make(map[string]float64, len(o.schema))
	for _, spec := range o.schema {
		params[spec.Name] = o.sampleSpecLocked(spec)
	}
	return params
}

func (o *Optimizer) sampleSpecLocked(spec types.ParameterSpec) float64 {
	if spec.Type == types.ParamCategorical {
		return spec.Choices[o.rng.Intn(len(spec.Choices))]
	}
	v := spec.Min + o.rng.Float64()*(spec.Max-spec.Min)
	if spec.Type == types.ParamInteger {
		v = float64(int(v))
	}
	return v
}

// geneticSearch evolves a population with tournament selection, blend
// crossover, gaussian mutation, and elitism
func (o *Optimizer) geneticSearch(ctx context.Context) ([]types.OptimizationTrial, error) {
	popSize := o.config.PopulationSize
	if popSize <= 0 {
		popSize = 20
	}
	generations := o.config.Generations
	if generations <= 0 {
		generations = o.config.Iterations
	}
	if generations <= 0 {
		generations = 10
	}
	mutationRate := o.config.MutationRate
	if mutationRate == 0 {
		mutationRate = 0.1
	}
	crossoverRate := o.config.CrossoverRate
	if crossoverRate == 0 {
		crossoverRate = 0.8
	}
	elite := o.config.EliteCount
	if elite <= 0 {
		elite = 2
	}
	if elite > popSize {
		elite = popSize
	}

	population := make([]map[string]float64, popSize)
	for i := range population {
		population[i] = o.samplePoint()
	}

	var allTrials []types.OptimizationTrial
	iteration := 0

	for gen := 0; gen < generations; gen++ {
		if ctx.Err() != nil {
			break
		}

		scored := o.runTrials(ctx, population)
		for i := range scored {
			scored[i].Iteration = iteration
			iteration++
		}
		allTrials = append(allTrials, scored...)

		sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

		next := make([]map[string]float64, 0, popSize)
		for i := 0; i < elite && i < len(scored); i++ {
			next = append(next, scored[i].Params)
		}
		for len(next) < popSize {
			parentA := o.tournament(scored)
			parentB := o.tournament(scored)
			child := o.crossover(parentA, parentB, crossoverRate)
			o.mutate(child, mutationRate)
			next = append(next, child)
		}
		population = next
	}

	return allTrials, nil
}

// tournament picks the better of two random individuals
func (o *Optimizer) tournament(scored []types.OptimizationTrial) map[string]float64 {
	o.rngMu.Lock()
	a := o.rng.Intn(len(scored))
	b := o.rng.Intn(len(scored))
	o.rngMu.Unlock()

	if scored[a].Score >= scored[b].Score {
		return scored[a].Params
	}
	return scored[b].Params
}

// crossover blends two parents parameter-wise
func (o *Optimizer) crossover(a, b map[string]float64, rate float64) map[string]float64 {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()

	child := make(map[string]float64, len(o.schema))
	for _, spec := range o.schema {
		if o.rng.Float64() > rate {
			child[spec.Name] = a[spec.Name]
			continue
		}
		if spec.Type == types.ParamCategorical {
			if o.rng.Float64() < 0.5 {
				child[spec.Name] = a[spec.Name]
			} else {
				child[spec.Name] = b[spec.Name]
			}
			continue
		}
		alpha := o.rng.Float64()
		child[spec.Name] = clampSpec(spec, alpha*a[spec.Name]+(1-alpha)*b[spec.Name])
	}
	return child
}

// mutate perturbs parameters in place with gaussian noise
func (o *Optimizer) mutate(params map[string]float64, rate float64) {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()

	for _, spec := range o.schema {
		if o.rng.Float64() > rate {
			continue
		}
		if spec.Type == types.ParamCategorical {
			params[spec.Name] = spec.Choices[o.rng.Intn(len(spec.Choices))]
			continue
		}
		sigma := (spec.Max - spec.Min) * 0.1
		params[spec.Name] = clampSpec(spec, params[spec.Name]+o.rng.NormFloat64()*sigma)
	}
}

func clampSpec(spec types.ParameterSpec, v float64) float64 {
	if v < spec.Min {
		v = spec.Min
	}
	if v > spec.Max {
		v = spec.Max
	}
	if spec.Type == types.ParamInteger {
		v = float64(int(v))
	}
	return v
}

// buildResult selects the best non-violating trial and derives the
// convergence series and parameter sensitivity
func (o *Optimizer) buildResult(trials []types.OptimizationTrial) *types.OptimizationResult {
	result := &types.OptimizationResult{
		Method:     string(o.config.Method),
		Objective:  o.config.Objective,
		Trials:     trials,
		Iterations: len(trials),
		BestScore:  math.Inf(-1),
	}

	best := math.Inf(-1)
	result.Convergence = make([]float64, 0, len(trials))
	for _, trial := range trials {
		if !trial.Violated && trial.Score > result.BestScore {
			result.BestScore = trial.Score
			result.BestParams = trial.Params
			result.BestMetrics = trial.Metrics
		}
		if trial.Score > best {
			best = trial.Score
		}
		result.Convergence = append(result.Convergence, best)
	}
	if result.BestParams == nil {
		result.BestScore = 0
	}

	result.Sensitivity = o.sensitivity(trials, result.BestScore)
	return result
}

// sensitivity measures per-parameter impact. Trials are grouped by the
// parameter's own value and each group keeps its best score, which holds
// the other parameters at their best sampled settings; impact is the
// spread of those per-value bests, so a parameter the objective ignores
// scores zero. The optimal range covers the values whose best lands
// within 10% of the best observed objective.
func (o *Optimizer) sensitivity(trials []types.OptimizationTrial, bestScore float64) []types.ParameterSensitivity {
	if len(trials) == 0 || math.IsInf(bestScore, -1) {
		return nil
	}
	threshold := bestScore - 0.1*math.Abs(bestScore)

	out := make([]types.ParameterSensitivity, 0, len(o.schema))
	for _, spec := range o.schema {
		bestAt := make(map[float64]float64)
		for _, trial := range trials {
			if trial.Violated || math.IsInf(trial.Score, 0) {
				continue
			}
			v, ok := trial.Params[spec.Name]
			if !ok {
				continue
			}
			if cur, seen := bestAt[v]; !seen || trial.Score > cur {
				bestAt[v] = trial.Score
			}
		}
		if len(bestAt) == 0 {
			continue
		}

		minBest, maxBest := math.Inf(1), math.Inf(-1)
		optLow, optHigh := math.Inf(1), math.Inf(-1)
		for v, score := range bestAt {
			if score < minBest {
				minBest = score
			}
			if score > maxBest {
				maxBest = score
			}
			if score >= threshold {
				if v < optLow {
					optLow = v
				}
				if v > optHigh {
					optHigh = v
				}
			}
		}
		if math.IsInf(optLow, 1) {
			optLow, optHigh = 0, 0
		}
		out = append(out, types.ParameterSensitivity{
			Name:        spec.Name,
			Impact:      maxBest - minBest,
			OptimalLow:  optLow,
			OptimalHigh: optHigh,
		})
	}
	return out
}
