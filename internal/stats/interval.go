package stats

import "math"

// zScore95 is the two-sided z value for a 95% confidence level.
const zScore95 = 1.96

// NormalInterval calculates the 95% confidence interval for a binomial
// proportion using the normal approximation: p ± z·sqrt(p(1-p)/n), clamped
// to [0,1]. With zero trials it returns (0, 0).
func NormalInterval(successes, trials int) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	p := float64(successes) / float64(trials)
	spread := zScore95 * math.Sqrt(p*(1-p)/float64(trials))

	lower = p - spread
	upper = p + spread
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return lower, upper
}

// WilsonInterval calculates the Wilson score interval for a binomial
// proportion at a 95% confidence level. It behaves better than the normal
// approximation on small samples and is used by the CLI results view.
func WilsonInterval(successes, trials int) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	z := zScore95
	p := float64(successes) / float64(trials)
	n := float64(trials)

	denominator := 1 + z*z/n
	center := (p + z*z/(2*n)) / denominator
	spread := (z / denominator) * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))

	lower = center - spread
	upper = center + spread
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return lower, upper
}
