//go:build linux

package evbridge

import (
	"go.uber.org/atomic"

	"evbridge/reactor"
)

// ThreadLoop is the reactor loop of one thread slot. A native loop was created by the
// context and is freed by it; a foreign loop belongs to the embedder and is never freed,
// blocked or broken by the context on its own.
type ThreadLoop struct {
	index      int
	base       *reactor.Base
	foreign    bool
	wake       *wakeChannel
	sigint     *reactor.Event
	conns      map[*Conn]struct{}
	destroying *atomic.Bool
	stopping   *atomic.Bool
}

func newThreadLoop(index int) *ThreadLoop {
	return &ThreadLoop{
		index:      index,
		conns:      make(map[*Conn]struct{}),
		destroying: atomic.NewBool(false),
		stopping:   atomic.NewBool(false),
	}
}

func (l *ThreadLoop) Index() int {
	return l.index
}

func (l *ThreadLoop) Base() *reactor.Base {
	return l.base
}

func (l *ThreadLoop) Foreign() bool {
	return l.foreign
}

// Break stops a native loop once the running callback returns. It refuses foreign loops
// and reports whether the loop was asked to stop.
func (l *ThreadLoop) Break() bool {
	if l.foreign || l.base == nil {
		return false
	}
	l.stopping.Store(true)
	l.base.LoopBreak()
	return true
}

// StopRequested reports whether a stop was requested since the last Run.
func (l *ThreadLoop) StopRequested() bool {
	return l.stopping.Load()
}
