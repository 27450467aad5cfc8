package discovery

import (
	"math"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// upperConfidence is the one-sided confidence level of ci95_upper.
const upperConfidence = 0.95

// RuleOfThreeUpper is the one-sided 95% upper bound 3/n on a failure rate
// when zero failures were observed in n trials.
func RuleOfThreeUpper(n uint64) float64 {
	if n == 0 {
		return math.Inf(1)
	}
	return 3 / float64(n)
}

// BinomialLowerTail returns P(K <= k) for K ~ Bin(n, p0): the one-sided
// p-value for the hypothesis that the true failure rate is at most p0.
// Evaluated through the regularized incomplete beta function, which is
// deterministic for identical inputs.
func BinomialLowerTail(k, n uint64, p0 float64) (float64, error) {
	if n == 0 {
		return 1, nil
	}
	dist := distuv.Binomial{N: float64(n), P: p0}
	p := dist.CDF(float64(k))
	return checkProbability("binomial_cdf", p)
}

// ClopperPearsonUpper returns the exact one-sided upper confidence bound on
// the failure rate after k failures in n trials.
func ClopperPearsonUpper(k, n uint64, confidence float64) (float64, error) {
	if n == 0 {
		return math.Inf(1), nil
	}
	if k >= n {
		return 1, nil
	}
	u := mathext.InvRegIncBeta(float64(k+1), float64(n-k), confidence)
	return checkProbability("clopper_pearson", u)
}

func checkProbability(stage string, p float64) (float64, error) {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1+1e-12 {
		return p, &NumericalInstabilityError{Stage: stage, Value: p}
	}
	if p > 1 {
		p = 1
	}
	return p, nil
}
