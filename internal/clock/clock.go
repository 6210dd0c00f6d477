// Package clock provides the monotonic UTC time source every component
// depends on instead of calling time.Now() directly, so cycles and tests can
// inject deterministic time.
package clock

import "time"

// Clock is the TimeSource contract.
type Clock interface {
	NowMs() int64 // milliseconds since epoch, for market data timestamps
	NowS() int64  // seconds since epoch, for business/event rows
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the production Clock backed by the real wall clock.
type System struct{}

func (System) NowMs() int64        { return time.Now().UTC().UnixMilli() }
func (System) NowS() int64         { return time.Now().UTC().Unix() }
func (System) Now() time.Time      { return time.Now().UTC() }
func (System) Sleep(d time.Duration) { time.Sleep(d) }

// Frozen is a deterministic Clock for tests: it never advances on its own,
// callers step it explicitly with Advance.
type Frozen struct {
	t time.Time
}

// NewFrozen returns a Frozen clock starting at t.
func NewFrozen(t time.Time) *Frozen { return &Frozen{t: t.UTC()} }

func (f *Frozen) NowMs() int64   { return f.t.UnixMilli() }
func (f *Frozen) NowS() int64    { return f.t.Unix() }
func (f *Frozen) Now() time.Time { return f.t }
func (f *Frozen) Sleep(d time.Duration) { f.t = f.t.Add(d) }

// Advance moves the frozen clock forward by d.
func (f *Frozen) Advance(d time.Duration) { f.t = f.t.Add(d) }
