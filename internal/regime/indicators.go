// Package regime classifies recent candles into one of the six market
// regimes the allocator conditions its strategy weights on.
package regime

import (
	"sort"

	"github.com/markcheno/go-talib"

	"github.com/vantapoint/perpcore/internal/domain"
)

// Indicators is the latest row of the indicator table computed over a
// candle window, the regime classifier's sole input.
type Indicators struct {
	RSI            float64
	ADX            float64
	MACD           float64
	MACDSignal     float64
	MACDHist       float64
	BBWidth        float64
	BBWidthRatio   float64
	ATRPercentile  float64
	PriceEfficiency float64
	VolumeTrend    float64
}

// lastNonNaN returns the final non-NaN value of series, or 0 when every
// value is NaN (insufficient warmup).
func lastNonNaN(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] == series[i] { // NaN != NaN
			return series[i]
		}
	}
	return 0
}

// Compute derives Indicators from ascending candles. Callers are expected
// to have enough history for the longest lookback (100 bars for the ATR
// percentile); shorter windows degrade gracefully to zero-valued indicators
// rather than erroring.
func Compute(candles []domain.Candle) Indicators {
	n := len(candles)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		opens[i], _ = c.Open.Float64()
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
		volumes[i], _ = c.Volume.Float64()
	}

	var ind Indicators
	if n < 2 {
		return ind
	}

	if n >= 15 {
		ind.RSI = lastNonNaN(talib.Rsi(closes, 14))
		ind.ADX = lastNonNaN(talib.Adx(highs, lows, closes, 14))
	}
	if n >= 35 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		ind.MACD = lastNonNaN(macd)
		ind.MACDSignal = lastNonNaN(signal)
		ind.MACDHist = lastNonNaN(hist)
	}
	if n >= 20 {
		ind.BBWidth, ind.BBWidthRatio = bollingerWidth(closes)
		ind.PriceEfficiency = priceEfficiency(closes, 20)
		ind.VolumeTrend = volumeTrend(volumes, 20)
	}
	if n >= 15 {
		ind.ATRPercentile = atrPercentile(highs, lows, closes)
	}

	return ind
}

// bollingerWidth returns the latest 20,2 Bollinger bandwidth
// ((upper-lower)/middle) and the ratio of that bandwidth to its value 20
// bars prior.
func bollingerWidth(closes []float64) (width, ratio float64) {
	upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
	width = bandwidthAt(upper, middle, lower, len(closes)-1)
	if len(closes) >= 40 {
		prior := bandwidthAt(upper, middle, lower, len(closes)-21)
		if prior > 0 {
			ratio = width / prior
		}
	}
	return width, ratio
}

func bandwidthAt(upper, middle, lower []float64, i int) float64 {
	if i < 0 || i >= len(middle) || middle[i] == 0 || middle[i] != middle[i] {
		return 0
	}
	if upper[i] != upper[i] || lower[i] != lower[i] {
		return 0
	}
	return (upper[i] - lower[i]) / middle[i]
}

// priceEfficiency is |net move| / Σ|step| over the trailing window bars.
func priceEfficiency(closes []float64, window int) float64 {
	if len(closes) <= window {
		return 0
	}
	start := len(closes) - 1 - window
	netMove := closes[len(closes)-1] - closes[start]
	if netMove < 0 {
		netMove = -netMove
	}
	var sumSteps float64
	for i := start + 1; i < len(closes); i++ {
		step := closes[i] - closes[i-1]
		if step < 0 {
			step = -step
		}
		sumSteps += step
	}
	if sumSteps == 0 {
		return 0
	}
	return netMove / sumSteps
}

// volumeTrend compares the mean volume of the most recent half of the
// window against the mean of the earlier half, expressed as a fractional
// change.
func volumeTrend(volumes []float64, window int) float64 {
	if len(volumes) <= window {
		return 0
	}
	recent := volumes[len(volumes)-window:]
	half := window / 2
	var earlySum, lateSum float64
	for i := 0; i < half; i++ {
		earlySum += recent[i]
	}
	for i := half; i < window; i++ {
		lateSum += recent[i]
	}
	earlyMean := earlySum / float64(half)
	lateMean := lateSum / float64(window-half)
	if earlyMean == 0 {
		return 0
	}
	return (lateMean - earlyMean) / earlyMean
}

// atrPercentile ranks the latest ATR(14) reading against the distribution of
// ATR readings over the trailing 100 bars.
func atrPercentile(highs, lows, closes []float64) float64 {
	atr := talib.Atr(highs, lows, closes, 14)
	start := 0
	if len(atr) > 100 {
		start = len(atr) - 100
	}
	window := atr[start:]

	var valid []float64
	for _, v := range window {
		if v == v {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return 0
	}
	latest := valid[len(valid)-1]

	sorted := append([]float64(nil), valid...)
	sort.Float64s(sorted)
	below := 0
	for _, v := range sorted {
		if v <= latest {
			below++
		}
	}
	return 100 * float64(below) / float64(len(sorted))
}
