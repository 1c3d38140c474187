//go:build linux

package evbridge

import (
	"go.uber.org/atomic"
)

// ThreadStats are the counters of one thread slot. They are written on the loop goroutine
// and may be read from anywhere.
type ThreadStats struct {
	Watchers   *atomic.Int64
	Listeners  *atomic.Int64
	Attached   *atomic.Int64
	Dispatched *atomic.Uint64
}

type LoopStats struct {
	// Watchers counts live connection watchers, listeners excluded.
	Watchers   int64
	Listeners  int64
	Attached   int64
	Dispatched uint64
}

func newThreadStats() *ThreadStats {
	return &ThreadStats{
		Watchers:   atomic.NewInt64(0),
		Listeners:  atomic.NewInt64(0),
		Attached:   atomic.NewInt64(0),
		Dispatched: atomic.NewUint64(0),
	}
}

func (s *ThreadStats) snapshot() LoopStats {
	return LoopStats{
		Watchers:   s.Watchers.Load(),
		Listeners:  s.Listeners.Load(),
		Attached:   s.Attached.Load(),
		Dispatched: s.Dispatched.Load(),
	}
}
