// Package portfolio selects strategies into weighted allocations and
// reconciles the resulting target against live positions into orders
//.
package portfolio

import (
	"sort"

	"github.com/vantapoint/perpcore/internal/scoring"
)

// Allocation is one selected strategy's renormalized weight alongside its
// scoring breakdown, reported to the decision source contract.
type Allocation struct {
	StrategyID       string
	Weight           float64
	Score            float64
	RegimeScore      float64
	PerformanceScore float64
}

// SchedulerConfig carries the selection knobs (defaults
// min_score 0.45, top_n 3).
type SchedulerConfig struct {
	MinScore float64
	TopN     int
}

// Select keeps strategies with final_score >= min_score, takes the top_n by
// score, and renormalizes weights to sum to 1 across the selected set. An
// empty selection (nil) means the cycle result is HOLD.
func Select(scored []scoring.Scored, cfg SchedulerConfig) []Allocation {
	filtered := make([]scoring.Scored, 0, len(scored))
	for _, s := range scored {
		if s.FinalScore >= cfg.MinScore {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].FinalScore > filtered[j].FinalScore })
	topN := cfg.TopN
	if topN <= 0 || topN > len(filtered) {
		topN = len(filtered)
	}
	selected := filtered[:topN]

	var total float64
	for _, s := range selected {
		total += s.FinalScore
	}
	if total == 0 {
		return nil
	}

	out := make([]Allocation, len(selected))
	for i, s := range selected {
		out[i] = Allocation{
			StrategyID:       s.StrategyID,
			Weight:           s.FinalScore / total,
			Score:            s.FinalScore,
			RegimeScore:      s.RegimeScore,
			PerformanceScore: s.PerformanceScore,
		}
	}
	return out
}
