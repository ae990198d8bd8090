package optimization

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// surrogate is a per-axis quadratic model over normalized parameters with a
// bias term, so it can place an optimum in the interior of a range, not
// just at the edges. It is trained online by SGD with a clamped gradient so
// a single outlier trial cannot swing the weights, and it tracks residual
// spread plus the observed points to estimate its own uncertainty.
type surrogate struct {
	dim     int
	weights []float64 // bias, then linear terms, then squared terms
	lr      float64
	l2      float64

	residSS  float64
	updates  int
	observed [][]float64
}

func newSurrogate(dim int) *surrogate {
	return &surrogate{
		dim:     dim,
		weights: make([]float64, 2*dim+1),
		lr:      0.02,
		l2:      1e-4,
	}
}

// predict scores a normalized feature vector
func (s *surrogate) predict(features []float64) float64 {
	score := s.weights[0]
	for i, f := range features {
		score += s.weights[1+i]*f + s.weights[1+s.dim+i]*f*f
	}
	return score
}

// update applies one SGD step toward the observed objective
func (s *surrogate) update(features []float64, observed float64) {
	err := observed - s.predict(features)
	if err > 1 {
		err = 1
	}
	if err < -1 {
		err = -1
	}
	s.residSS += err * err
	s.updates++

	s.weights[0] += s.lr * err
	for i, f := range features {
		w := s.weights[1+i]
		s.weights[1+i] = w + s.lr*(err*f-s.l2*w)
		q := s.weights[1+s.dim+i]
		s.weights[1+s.dim+i] = q + s.lr*(err*f*f-s.l2*q)
	}

	point := make([]float64, len(features))
	copy(point, features)
	s.observed = append(s.observed, point)
}

// uncertainty estimates the predictive standard deviation at a point: the
// residual spread scaled up with distance from the nearest observation.
// Far from any trial the model admits it knows little.
func (s *surrogate) uncertainty(features []float64) float64 {
	residStd := 1.0
	if s.updates > 0 {
		residStd = math.Sqrt(s.residSS / float64(s.updates))
	}
	if residStd < 1e-6 {
		residStd = 1e-6
	}

	minDist := 1.0
	for _, point := range s.observed {
		var sum float64
		for i := range point {
			d := features[i] - point[i]
			sum += d * d
		}
		if s.dim > 0 {
			sum /= float64(s.dim)
		}
		if dist := math.Sqrt(sum); dist < minDist {
			minDist = dist
		}
	}

	return residStd * (0.1 + math.Sqrt(minDist))
}

// expectedImprovement is the closed-form EI of a Gaussian posterior with
// mean mu and deviation sigma over the incumbent best
func expectedImprovement(mu, sigma, best float64) float64 {
	if sigma <= 0 {
		if diff := mu - best; diff > 0 {
			return diff
		}
		return 0
	}
	z := (mu - best) / sigma
	cdf := 0.5 * (1 + math.Erf(z/math.Sqrt2))
	pdf := math.Exp(-0.5*z*z) / math.Sqrt(2*math.Pi)
	return (mu-best)*cdf + sigma*pdf
}

// bayesianSearch seeds with random trials, then iterates: fit the
// surrogate to observations so far, draw a batch of random candidates,
// and evaluate the one with the highest expected improvement over the
// best score seen. Uncertainty grows away from observed points, so the
// acquisition balances probing unexplored regions against refining the
// incumbent without a separate exploration knob.
func (o *Optimizer) bayesianSearch(ctx context.Context) ([]types.OptimizationTrial, error) {
	iterations := o.config.Iterations
	if iterations <= 0 {
		iterations = 50
	}
	initial := o.config.InitialSamples
	if initial <= 0 {
		initial = 10
	}
	if initial > iterations {
		initial = iterations
	}
	candidates := o.config.Candidates
	if candidates <= 0 {
		candidates = 50
	}

	seeds := make([]map[string]float64, initial)
	for i := range seeds {
		seeds[i] = o.samplePoint()
	}
	trials := o.runTrials(ctx, seeds)

	model := newSurrogate(len(o.schema))
	bestScore := math.Inf(-1)
	for _, trial := range trials {
		if !math.IsInf(trial.Score, 0) {
			model.update(o.normalize(trial.Params), trial.Score)
			if trial.Score > bestScore {
				bestScore = trial.Score
			}
		}
	}

	for i := len(trials); i < iterations; i++ {
		if ctx.Err() != nil {
			break
		}

		next := o.bestCandidate(model, candidates, bestScore)

		trial := o.evaluate(ctx, i, next)
		trials = append(trials, trial)
		if !math.IsInf(trial.Score, 0) {
			model.update(o.normalize(trial.Params), trial.Score)
			if trial.Score > bestScore {
				bestScore = trial.Score
			}
		}
	}

	o.logger.Debug("surrogate search done",
		zap.Int("trials", len(trials)),
		zap.Int("initialSamples", initial),
	)

	return trials, nil
}

// bestCandidate draws random points and keeps the one with the highest
// expected improvement over the incumbent
func (o *Optimizer) bestCandidate(model *surrogate, count int, incumbent float64) map[string]float64 {
	var best map[string]float64
	bestEI := math.Inf(-1)
	for i := 0; i < count; i++ {
		point := o.samplePoint()
		features := o.normalize(point)
		ei := expectedImprovement(model.predict(features), model.uncertainty(features), incumbent)
		if ei > bestEI {
			bestEI = ei
			best = point
		}
	}
	return best
}

// normalize maps a parameter set onto [0,1] features in schema order
func (o *Optimizer) normalize(params map[string]float64) []float64 {
	features := make([]float64, len(o.schema))
	for i, spec := range o.schema {
		v := params[spec.Name]
		if spec.Type == types.ParamCategorical {
			if n := len(spec.Choices); n > 1 {
				for j, c := range spec.Choices {
					if c == v {
						features[i] = float64(j) / float64(n-1)
						break
					}
				}
			}
			continue
		}
		if span := spec.Max - spec.Min; span > 0 {
			features[i] = (v - spec.Min) / span
		}
	}
	return features
}
