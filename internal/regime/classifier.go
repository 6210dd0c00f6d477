package regime

import "github.com/vantapoint/perpcore/internal/domain"

// Thresholds carries the config-driven knobs the decision tree reads
// (regime_adx_threshold/regime_bb_width_threshold, defaults 25/0.04).
type Thresholds struct {
	AdxThreshold     float64
	BBWidthThreshold float64
}

// Classify runs the nine-step, first-match-wins regime decision tree of
// over a computed Indicators row.
func Classify(ind Indicators, th Thresholds) domain.Regime {
	switch {
	case ind.BBWidthRatio >= 1.5 && ind.BBWidth > th.BBWidthThreshold && ind.VolumeTrend >= 0.2:
		return domain.RegimeBreakout
	case ind.ADX > 30 && ind.PriceEfficiency > 0.7:
		return domain.RegimeStrongTrend
	case ind.ADX >= 20 && ind.ADX <= 30:
		return domain.RegimeWeakTrend
	case ind.ATRPercentile >= 80:
		return domain.RegimeHighVolatility
	case ind.ATRPercentile <= 20:
		return domain.RegimeLowVolatility
	case ind.ADX < 20 && ind.BBWidth <= th.BBWidthThreshold:
		return domain.RegimeRange
	case ind.ADX >= th.AdxThreshold:
		return domain.RegimeWeakTrend
	case ind.BBWidth <= th.BBWidthThreshold:
		return domain.RegimeRange
	default:
		return domain.RegimeBreakout
	}
}
