package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vantapoint/perpcore/internal/domain"
)

func defaultThresholds() Thresholds {
	return Thresholds{AdxThreshold: 25, BBWidthThreshold: 0.04}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ind  Indicators
		want domain.Regime
	}{
		{
			name: "strong trend from high adx and efficiency",
			ind:  Indicators{ADX: 32, PriceEfficiency: 0.75, BBWidth: 0.03, BBWidthRatio: 1.1, ATRPercentile: 50},
			want: domain.RegimeStrongTrend,
		},
		{
			name: "breakout wins over trend when bands expand with volume",
			ind:  Indicators{ADX: 32, PriceEfficiency: 0.75, BBWidth: 0.05, BBWidthRatio: 1.6, VolumeTrend: 0.3, ATRPercentile: 50},
			want: domain.RegimeBreakout,
		},
		{
			name: "weak trend band",
			ind:  Indicators{ADX: 25, PriceEfficiency: 0.2, ATRPercentile: 50},
			want: domain.RegimeWeakTrend,
		},
		{
			name: "high volatility",
			ind:  Indicators{ADX: 35, PriceEfficiency: 0.1, ATRPercentile: 85},
			want: domain.RegimeHighVolatility,
		},
		{
			name: "low volatility",
			ind:  Indicators{ADX: 35, PriceEfficiency: 0.1, ATRPercentile: 15},
			want: domain.RegimeLowVolatility,
		},
		{
			name: "range on quiet bands",
			ind:  Indicators{ADX: 12, BBWidth: 0.02, ATRPercentile: 50},
			want: domain.RegimeRange,
		},
		{
			name: "adx threshold fallthrough to weak trend",
			ind:  Indicators{ADX: 35, PriceEfficiency: 0.1, BBWidth: 0.06, ATRPercentile: 50},
			want: domain.RegimeWeakTrend,
		},
		{
			name: "mid adx inside weak trend band",
			ind:  Indicators{ADX: 22.5, BBWidth: 0.06, ATRPercentile: 50, PriceEfficiency: 0.1},
			want: domain.RegimeWeakTrend, // 20 <= 22.5 <= 30
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ind, defaultThresholds()))
		})
	}
}

func TestClassifyFallbackBreakout(t *testing.T) {
	// Nothing matches: mid ATR percentile, wide bands, ADX below threshold
	// but above the range cutoff.
	ind := Indicators{ADX: 21, BBWidth: 0.06, ATRPercentile: 50, PriceEfficiency: 0.1}
	got := Classify(ind, Thresholds{AdxThreshold: 40, BBWidthThreshold: 0.04})
	// ADX 21 is inside the weak-trend band, which fires first.
	assert.Equal(t, domain.RegimeWeakTrend, got)

	ind.ADX = 19
	got = Classify(ind, Thresholds{AdxThreshold: 40, BBWidthThreshold: 0.04})
	assert.Equal(t, domain.RegimeBreakout, got)
}

func TestPriceEfficiency(t *testing.T) {
	// Monotone series: net move equals the step sum.
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	assert.InDelta(t, 1.0, priceEfficiency(closes, 20), 1e-9)

	// Perfect oscillation nets to zero.
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 100
		} else {
			closes[i] = 101
		}
	}
	assert.InDelta(t, 0.0, priceEfficiency(closes, 20), 0.06)
}

func TestVolumeTrend(t *testing.T) {
	volumes := make([]float64, 30)
	for i := range volumes {
		volumes[i] = 100
	}
	// Double the most recent half of the window.
	for i := 20; i < 30; i++ {
		volumes[i] = 200
	}
	assert.InDelta(t, 1.0, volumeTrend(volumes, 20), 1e-9)
}
