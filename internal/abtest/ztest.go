// internal/abtest/ztest.go
package abtest

import "math"

// normalCDF is the standard normal cumulative distribution function,
// computed through erf. Accuracy is well inside 1e-7.
func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// TwoProportionZTest compares success proportions of two samples using
// the pooled two-proportion Z statistic and a two-tailed p-value.
// Degenerate inputs (zero trials, zero pooled variance) report z=0 and
// p=1 so the caller treats them as "not significant" rather than an
// error.
func TwoProportionZTest(successes1, trials1, successes2, trials2 int64) (z float64, p float64) {
	if trials1 == 0 || trials2 == 0 {
		return 0, 1
	}

	p1 := float64(successes1) / float64(trials1)
	p2 := float64(successes2) / float64(trials2)

	pooled := float64(successes1+successes2) / float64(trials1+trials2)
	variance := pooled * (1 - pooled) * (1/float64(trials1) + 1/float64(trials2))
	if variance <= 0 {
		return 0, 1
	}

	z = (p2 - p1) / math.Sqrt(variance)
	p = 2 * (1 - normalCDF(math.Abs(z)))
	return z, p
}
