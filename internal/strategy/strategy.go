// Package strategy provides trading strategy implementations.
//
// Strategies are pure: GenerateSignal sees only the bars up to the current
// simulation time plus a resolved parameter map, and returns at most one
// signal. All state lives in the caller, which makes parameter optimization
// trials trivially parallel.
package strategy

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// Strategy is the interface all strategies implement
type Strategy interface {
	Name() string
	Description() string
	ParameterSchema() []types.ParameterSpec

	// GenerateSignal inspects the bars available so far and returns a signal
	// or nil. bars is ordered ascending and the last bar is the current one;
	// implementations must not assume future bars exist.
	GenerateSignal(bars []types.OHLCV, params map[string]float64) (*types.Signal, error)
}

// Registry manages available strategies
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	factories map[string]func() Strategy
}

// NewRegistry creates a registry with the built-in strategies registered
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]func() Strategy),
	}

	r.Register("moving_average", func() Strategy { return NewMovingAverage() })
	r.Register("rsi", func() Strategy { return NewRSI() })
	r.Register("momentum", func() Strategy { return NewMomentum() })

	return r
}

// Register registers a strategy factory
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a strategy by name
func (r *Registry) Create(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// List returns all registered strategy names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// ResolveParams fills missing parameters with schema defaults and rejects
// out-of-range values. The returned map is a fresh copy.
func ResolveParams(schema []types.ParameterSpec, params map[string]float64) (map[string]float64, error) {
	ve := &types.ValidationError{}
	resolved := make(map[string]float64, len(schema))

	known := make(map[string]types.ParameterSpec, len(schema))
	for _, spec := range schema {
		known[spec.Name] = spec

		v, ok := params[spec.Name]
		if !ok {
			resolved[spec.Name] = spec.Default
			continue
		}
		switch spec.Type {
		case types.ParamContinuous, types.ParamInteger:
			if v < spec.Min || v > spec.Max {
				ve.Addf(spec.Name, "value %v outside [%v, %v]", v, spec.Min, spec.Max)
				continue
			}
			if spec.Type == types.ParamInteger {
				v = float64(int(v))
			}
		case types.ParamCategorical:
			valid := false
			for _, c := range spec.Choices {
				if c == v {
					valid = true
					break
				}
			}
			if !valid {
				ve.Addf(spec.Name, "value %v is not a valid choice", v)
				continue
			}
		}
		resolved[spec.Name] = v
	}

	for name := range params {
		if _, ok := known[name]; !ok {
			ve.Addf(name, "unknown parameter")
		}
	}

	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// closeAt returns the close of bars[i] as float64
func closeAt(bars []types.OHLCV, i int) float64 {
	v, _ := bars[i].Close.Float64()
	return v
}

// sma computes a simple moving average of the last period closes ending at
// index end inclusive
func sma(bars []types.OHLCV, end, period int) decimal.Decimal {
	sum := decimal.Zero
	for i := end - period + 1; i <= end; i++ {
		sum = sum.Add(bars[i].Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func errMissingParam(name string) error {
	return fmt.Errorf("missing parameter %q", name)
}
