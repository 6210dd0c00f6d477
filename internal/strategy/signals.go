package strategy

import "github.com/vantapoint/perpcore/internal/domain"

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func closesTail(candles []domain.Candle, n int) []float64 {
	if len(candles) < n {
		n = len(candles)
	}
	out := make([]float64, n)
	for i, c := range candles[len(candles)-n:] {
		f, _ := c.Close.Float64()
		out[i] = f
	}
	return out
}

// momentumSignal is the normalized N-bar rate of change.
func momentumSignal(candles []domain.Candle) float64 {
	closes := closesTail(candles, 20)
	if len(closes) < 2 || closes[0] == 0 {
		return 0
	}
	roc := (closes[len(closes)-1] - closes[0]) / closes[0]
	return clamp(roc*10, -1, 1)
}

// meanReversionSignal favors fading distance from the simple moving average.
func meanReversionSignal(candles []domain.Candle) float64 {
	closes := closesTail(candles, 20)
	if len(closes) == 0 {
		return 0
	}
	var sum float64
	for _, c := range closes {
		sum += c
	}
	mean := sum / float64(len(closes))
	if mean == 0 {
		return 0
	}
	last := closes[len(closes)-1]
	deviation := (last - mean) / mean
	return clamp(-deviation*5, -1, 1)
}

// breakoutSignal compares the latest close against the prior window's high/low.
func breakoutSignal(candles []domain.Candle) float64 {
	closes := closesTail(candles, 21)
	if len(closes) < 2 {
		return 0
	}
	window := closes[:len(closes)-1]
	last := closes[len(closes)-1]

	hi, lo := window[0], window[0]
	for _, c := range window {
		if c > hi {
			hi = c
		}
		if c < lo {
			lo = c
		}
	}
	switch {
	case last > hi:
		return 1
	case last < lo:
		return -1
	default:
		return 0
	}
}

// trendFollowSignal compares a fast and slow simple moving average.
func trendFollowSignal(candles []domain.Candle) float64 {
	fast := sma(candles, 10)
	slow := sma(candles, 30)
	if slow == 0 {
		return 0
	}
	return clamp((fast-slow)/slow*10, -1, 1)
}

func sma(candles []domain.Candle, n int) float64 {
	closes := closesTail(candles, n)
	if len(closes) == 0 {
		return 0
	}
	var sum float64
	for _, c := range closes {
		sum += c
	}
	return sum / float64(len(closes))
}

// volatilityHarvestSignal is positive when the recent 20-bar range expands
// past the preceding window's and negative when it contracts, scaled to at
// most ±0.25; a market-neutral volatility strategy carries only a weak
// directional view of its own.
func volatilityHarvestSignal(candles []domain.Candle) float64 {
	if len(candles) < 40 {
		return 0
	}
	recentRange := barRange(candles[len(candles)-20:])
	priorRange := barRange(candles[len(candles)-40 : len(candles)-20])
	if priorRange == 0 {
		return 0
	}
	expansion := (recentRange - priorRange) / priorRange
	return clamp(expansion, -1, 1) * 0.25
}

func barRange(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	hi, _ := candles[0].High.Float64()
	lo, _ := candles[0].Low.Float64()
	for _, c := range candles {
		h, _ := c.High.Float64()
		l, _ := c.Low.Float64()
		if h > hi {
			hi = h
		}
		if l < lo {
			lo = l
		}
	}
	return hi - lo
}
