// Package ingestion pulls OHLCV, funding, price, and open-interest data from
// the exchange gateway into the store, and records one ingestion_runs row
// per invocation.
package ingestion

import (
	"fmt"
	"time"
)

// timeframeMs maps the config's human timeframe strings to bar durations.
// OKX's bar spelling (1m, 5m, 15m, 1H, 4H, 1D) is the only dialect this
// engine speaks; the gateway normalizes everything upstream of here.
var timeframeMs = map[string]int64{
	"1m":  time.Minute.Milliseconds(),
	"3m":  3 * time.Minute.Milliseconds(),
	"5m":  5 * time.Minute.Milliseconds(),
	"15m": 15 * time.Minute.Milliseconds(),
	"30m": 30 * time.Minute.Milliseconds(),
	"1H":  time.Hour.Milliseconds(),
	"2H":  2 * time.Hour.Milliseconds(),
	"4H":  4 * time.Hour.Milliseconds(),
	"6H":  6 * time.Hour.Milliseconds(),
	"12H": 12 * time.Hour.Milliseconds(),
	"1D":  24 * time.Hour.Milliseconds(),
}

// TimeframeMs returns the bar duration in milliseconds for a timeframe
// string, or an error if it is not one this engine recognizes.
func TimeframeMs(tf string) (int64, error) {
	ms, ok := timeframeMs[tf]
	if !ok {
		return 0, fmt.Errorf("ingestion: unknown timeframe %q", tf)
	}
	return ms, nil
}
