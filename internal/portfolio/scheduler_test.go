package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vantapoint/perpcore/internal/scoring"
)

func TestSelectFiltersAndNormalizes(t *testing.T) {
	scored := []scoring.Scored{
		{StrategyID: "a", FinalScore: 0.9},
		{StrategyID: "b", FinalScore: 0.6},
		{StrategyID: "c", FinalScore: 0.5},
		{StrategyID: "d", FinalScore: 0.2}, // below floor
	}
	out := Select(scored, SchedulerConfig{MinScore: 0.45, TopN: 3})
	assert.Len(t, out, 3)
	assert.Equal(t, "a", out[0].StrategyID)

	var sum float64
	for _, a := range out {
		sum += a.Weight
	}
	assert.InDelta(t, 1.0, sum, 0.05)
}

func TestSelectTopNTruncates(t *testing.T) {
	scored := []scoring.Scored{
		{StrategyID: "a", FinalScore: 0.9},
		{StrategyID: "b", FinalScore: 0.8},
		{StrategyID: "c", FinalScore: 0.7},
	}
	out := Select(scored, SchedulerConfig{MinScore: 0.45, TopN: 2})
	assert.Len(t, out, 2)
	assert.Equal(t, "a", out[0].StrategyID)
	assert.Equal(t, "b", out[1].StrategyID)
}

func TestSelectEmptyMeansHold(t *testing.T) {
	scored := []scoring.Scored{
		{StrategyID: "a", FinalScore: 0.1},
		{StrategyID: "b", FinalScore: 0.3},
	}
	assert.Nil(t, Select(scored, SchedulerConfig{MinScore: 0.45, TopN: 3}))
	assert.Nil(t, Select(nil, SchedulerConfig{MinScore: 0.45, TopN: 3}))
}

func TestSelectWeightsProportionalToScore(t *testing.T) {
	scored := []scoring.Scored{
		{StrategyID: "a", FinalScore: 0.6},
		{StrategyID: "b", FinalScore: 0.6},
	}
	out := Select(scored, SchedulerConfig{MinScore: 0.45, TopN: 3})
	assert.Len(t, out, 2)
	assert.InDelta(t, 0.5, out[0].Weight, 1e-9)
	assert.InDelta(t, 0.5, out[1].Weight, 1e-9)
}
