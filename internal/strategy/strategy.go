// Package strategy holds the registry of tradable strategy specs: each
// strategy names the regimes it is suited for and a deterministic signal
// generator consulted for cycle reasoning.
package strategy

import (
	"github.com/vantapoint/perpcore/internal/domain"
)

// SignalType distinguishes the five signal-generation families this
// registry ships.
type SignalType string

const (
	SignalMomentum         SignalType = "MOMENTUM"
	SignalMeanReversion    SignalType = "MEAN_REVERSION"
	SignalBreakout         SignalType = "BREAKOUT"
	SignalTrendFollowing   SignalType = "TREND_FOLLOWING"
	SignalVolatilityHarvest SignalType = "VOLATILITY_HARVEST"
)

// Generator produces a directional strength in [-1, 1] from ascending
// candles: positive favors long, negative favors short, zero is neutral.
type Generator func(candles []domain.Candle) float64

// Spec is one entry in the registry: an id, the regimes it performs best
// in (empty means "all regimes, scored neutrally"), and its signal.
type Spec struct {
	ID      string
	Signal  SignalType
	Regimes []domain.Regime
	Gen     Generator
}

// Registry is the strategy id -> Spec lookup every scoring pass consults.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry builds the default registry of five deterministic strategies,
// one per signal family.
func NewRegistry() *Registry {
	r := &Registry{specs: map[string]Spec{}}
	r.register(Spec{ID: "momentum_20", Signal: SignalMomentum,
		Regimes: []domain.Regime{domain.RegimeStrongTrend, domain.RegimeWeakTrend}, Gen: momentumSignal})
	r.register(Spec{ID: "mean_reversion_bb", Signal: SignalMeanReversion,
		Regimes: []domain.Regime{domain.RegimeRange, domain.RegimeLowVolatility}, Gen: meanReversionSignal})
	r.register(Spec{ID: "breakout_channel", Signal: SignalBreakout,
		Regimes: []domain.Regime{domain.RegimeBreakout, domain.RegimeHighVolatility}, Gen: breakoutSignal})
	r.register(Spec{ID: "trend_follow_ema", Signal: SignalTrendFollowing,
		Regimes: []domain.Regime{domain.RegimeStrongTrend}, Gen: trendFollowSignal})
	r.register(Spec{ID: "vol_harvest_atr", Signal: SignalVolatilityHarvest,
		Regimes: nil, Gen: volatilityHarvestSignal})
	return r
}

func (r *Registry) register(s Spec) { r.specs[s.ID] = s }

// Get returns the Spec for id, and whether it was found.
func (r *Registry) Get(id string) (Spec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// Enabled returns every registered Spec, in a stable order.
func (r *Registry) Enabled() []Spec {
	ids := []string{"momentum_20", "mean_reversion_bb", "breakout_channel", "trend_follow_ema", "vol_harvest_atr"}
	out := make([]Spec, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.specs[id]; ok {
			out = append(out, s)
		}
	}
	return out
}
