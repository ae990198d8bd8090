package evaluator

import (
	"math"
	"sort"
)

// welchTTest compares the means of two independent samples without
// assuming equal variances. Returns the t statistic and the two-sided
// p-value. Degenerate inputs short-circuit: identical constant samples
// give p=1, separated constant samples give p=0.
func welchTTest(a, b []float64) (t, p float64) {
	na, nb := float64(len(a)), float64(len(b))
	if na < 2 || nb < 2 {
		return 0, 1
	}

	meanA, varA := meanVariance(a)
	meanB, varB := meanVariance(b)

	se2 := varA/na + varB/nb
	if se2 == 0 {
		if meanA == meanB {
			return 0, 1
		}
		return math.Inf(sign(meanA - meanB)), 0
	}

	t = (meanA - meanB) / math.Sqrt(se2)

	// Welch-Satterthwaite degrees of freedom
	num := se2 * se2
	den := (varA/na)*(varA/na)/(na-1) + (varB/nb)*(varB/nb)/(nb-1)
	if den == 0 {
		return t, 1
	}
	df := num / den

	p = 2 * studentTail(math.Abs(t), df)
	if p > 1 {
		p = 1
	}
	return t, p
}

// mannWhitneyU is the rank-sum test with tie correction and normal
// approximation. Returns the U statistic for sample a and the two-sided
// p-value.
func mannWhitneyU(a, b []float64) (u, p float64) {
	na, nb := float64(len(a)), float64(len(b))
	if na == 0 || nb == 0 {
		return 0, 1
	}

	type obs struct {
		value float64
		fromA bool
	}
	pooled := make([]obs, 0, len(a)+len(b))
	for _, v := range a {
		pooled = append(pooled, obs{v, true})
	}
	for _, v := range b {
		pooled = append(pooled, obs{v, false})
	}
	sort.Slice(pooled, func(i, j int) bool { return pooled[i].value < pooled[j].value })

	// Midranks for ties, plus the tie correction term
	n := len(pooled)
	ranks := make([]float64, n)
	var tieTerm float64
	for i := 0; i < n; {
		j := i
		for j < n && pooled[j].value == pooled[i].value {
			j++
		}
		mid := float64(i+j+1) / 2 // average of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			ranks[k] = mid
		}
		if cnt := float64(j - i); cnt > 1 {
			tieTerm += cnt*cnt*cnt - cnt
		}
		i = j
	}

	var rankSumA float64
	for i, o := range pooled {
		if o.fromA {
			rankSumA += ranks[i]
		}
	}

	u = rankSumA - na*(na+1)/2

	meanU := na * nb / 2
	total := na + nb
	varU := na * nb / 12 * (total + 1 - tieTerm/(total*(total-1)))
	if varU <= 0 {
		return u, 1
	}

	z := (u - meanU) / math.Sqrt(varU)
	p = 2 * normalTail(math.Abs(z))
	if p > 1 {
		p = 1
	}
	return u, p
}

func meanVariance(xs []float64) (mean, variance float64) {
	n := float64(len(xs))
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / n

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	if n > 1 {
		variance = sq / (n - 1)
	}
	return mean, variance
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}

// studentTail is P(T > t) for the Student t distribution with df degrees
// of freedom, t >= 0, via the regularized incomplete beta function.
func studentTail(t, df float64) float64 {
	if t <= 0 {
		return 0.5
	}
	x := df / (df + t*t)
	return 0.5 * regIncBeta(df/2, 0.5, x)
}

// normalTail is P(Z > z) for the standard normal, z >= 0
func normalTail(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}

// regIncBeta computes the regularized incomplete beta function I_x(a, b)
// by continued fraction expansion.
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lnBeta := lgamma(a+b) - lgamma(a) - lgamma(b)
	front := math.Exp(lnBeta + a*math.Log(x) + b*math.Log(1-x))

	// symmetry keeps the continued fraction convergent
	if x > (a+1)/(a+b+2) {
		return 1 - regIncBeta(b, a, 1-x)
	}
	return front * betaCF(a, b, x) / a
}

// betaCF is the continued fraction for the incomplete beta function
// (modified Lentz method)
func betaCF(a, b, x float64) float64 {
	const (
		maxIterations = 200
		epsilon       = 3e-14
		tiny          = 1e-30
	)

	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIterations; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < epsilon {
			break
		}
	}
	return h
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
