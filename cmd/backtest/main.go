// Package main provides a CLI for running backtests and evaluations
// without the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/dataprovider"
	"github.com/atlas-desktop/strategy-eval/internal/evaluator"
	"github.com/atlas-desktop/strategy-eval/internal/strategy"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

func main() {
	mode := flag.String("mode", "backtest", "backtest, walkforward, optimize, evaluate, or compare")
	stratName := flag.String("strategy", "moving_average", "Strategy name, comma-separated for compare")
	symbols := flag.String("symbols", "BTC/USDT", "Comma-separated symbols")
	timeframe := flag.String("timeframe", "1d", "Bar timeframe")
	days := flag.Int("days", 365, "Lookback period in days")
	capital := flag.Float64("capital", 10000, "Initial capital")
	seed := flag.Int64("seed", 42, "Synthetic data seed")
	objective := flag.String("objective", "sharpeRatio", "Optimization objective metric")
	iterations := flag.Int("iterations", 50, "Optimization iterations")
	method := flag.String("method", "random", "Optimization method: grid, random, bayesian, genetic")
	out := flag.String("out", "", "Write JSON result to file instead of stdout")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	provider := dataprovider.NewCachingProvider(logger, nil,
		dataprovider.NewSyntheticProvider(logger, *seed))
	registry := strategy.NewRegistry(logger)
	eval := evaluator.NewEvaluator(logger, provider, runtime.NumCPU())

	end := time.Now().UTC().Truncate(24 * time.Hour)
	config := &types.BacktestConfig{
		Symbols:        strings.Split(*symbols, ","),
		Timeframe:      types.Timeframe(*timeframe),
		StartDate:      end.AddDate(0, 0, -*days),
		EndDate:        end,
		InitialCapital: decimal.NewFromFloat(*capital),
		Commission: types.CommissionConfig{
			Model: types.CommissionPercentage,
			Rate:  decimal.NewFromFloat(0.001),
		},
		Slippage: types.SlippageConfig{
			Model: types.SlippagePercentage,
			Bps:   decimal.NewFromInt(5),
		},
		Risk: types.RiskConfig{
			MaxPositionSize: decimal.NewFromFloat(0.1),
			MaxDrawdown:     decimal.NewFromFloat(0.5),
		},
		WalkForward: &types.WalkForwardConfig{
			WindowSize: 90,
			TestSize:   30,
			StepSize:   30,
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	names := strings.Split(*stratName, ",")
	strat, ok := registry.Create(names[0])
	if !ok {
		fatal("unknown strategy %q, available: %s", names[0], strings.Join(registry.List(), ", "))
	}

	var result interface{}
	var err error

	switch *mode {
	case "backtest":
		result, err = eval.Backtest(ctx, strat, config)

	case "walkforward":
		result, err = eval.WalkForward(ctx, strat, config)

	case "optimize":
		result, err = eval.Optimize(ctx, strat, config, &types.OptimizationConfig{
			Method:     types.OptimizationMethod(*method),
			Objective:  *objective,
			Iterations: *iterations,
			Seed:       *seed,
		})

	case "evaluate":
		result, err = eval.Evaluate(ctx, strat, config, &types.EvaluationConfig{
			WalkForward:    true,
			MonteCarlo:     true,
			Robustness:     true,
			RegimeAnalysis: true,
		})

	case "compare":
		if len(names) < 2 {
			fatal("compare mode needs at least two comma-separated strategies")
		}
		var strategies []strategy.Strategy
		for _, name := range names {
			s, ok := registry.Create(name)
			if !ok {
				fatal("unknown strategy %q", name)
			}
			strategies = append(strategies, s)
		}
		result, err = eval.Compare(ctx, strategies, config, nil)

	default:
		fatal("unknown mode %q", *mode)
	}

	if err != nil {
		fatal("%s failed: %v", *mode, err)
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fatal("encode result: %v", err)
	}

	if *out != "" {
		if err := os.WriteFile(*out, encoded, 0o644); err != nil {
			fatal("write %s: %v", *out, err)
		}
		fmt.Printf("result written to %s\n", *out)
		return
	}
	fmt.Println(string(encoded))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
