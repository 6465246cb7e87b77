package scoring

import (
	"math"

	"github.com/sells-group/lead-ranker/internal/model"
)

// axisVarianceMax is the theoretical maximum variance for axis scores on the
// 0-5 scale ((5/2)^2), used to normalize the variance penalty.
const axisVarianceMax = 6.25

// Confidence derives a 0-1 confidence and a needs-review flag from a final
// score and optional axis sub-scores.
//
// Scores near 0 or 1 are more certain than mid-range ones; missing axes lower
// confidence; internally inconsistent axes (high variance) lower it further.
// A nil final score short-circuits to zero confidence.
func Confidence(score *float64, axes *model.AxisScores) (float64, bool) {
	if score == nil {
		return 0, true
	}
	s := *score

	conf := 1.0
	conf *= 0.3 + 0.7*math.Abs(s-0.5)*2

	vals := axes.Values()
	switch n := len(vals); {
	case n == 0:
		conf *= 0.6
	default:
		conf *= 0.5 + 0.5*float64(n)/5
		if n >= 2 {
			conf *= 1 - 0.3*math.Min(variance(vals)/axisVarianceMax, 1)
		}
	}

	needsReview := conf < 0.5 || (s >= 0.35 && s <= 0.55)
	return conf, needsReview
}

// variance is the population variance of vals.
func variance(vals []float64) float64 {
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	var sum float64
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(vals))
}
