//go:build linux

package evbridge

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// Context is the process-wide registry of thread slots and vhosts. It is created once
// with NewContext and torn down once with Destroy.
type Context struct {
	config           *Config
	service          Service
	backend          Backend
	loops            []*ThreadLoop
	vhosts           []*VHost
	stats            []*ThreadStats
	useSignal        bool
	signalsRequested bool
	signalHandler    SignalHandler
	destroying       *atomic.Bool
}

func NewContext(config *Config, service Service) (*Context, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if service == nil {
		return nil, ErrNoService
	}
	ctx := &Context{
		config:        config,
		service:       service,
		loops:         make([]*ThreadLoop, config.Threads),
		stats:         make([]*ThreadStats, config.Threads),
		useSignal:     config.Reactor.Signals,
		signalHandler: DefaultSignalHandler,
		destroying:    atomic.NewBool(false),
	}
	for i := range ctx.stats {
		ctx.stats[i] = newThreadStats()
	}
	if config.Reactor.Enabled {
		ctx.backend = &reactorBackend{ctx: ctx}
		log.Info().Msg("reactor support compiled in and enabled")
	} else {
		ctx.backend = nopBackend{}
		log.Info().Msg("reactor support compiled in but disabled")
	}
	for _, vhConfig := range config.VHosts {
		vh, err := newVHost(vhConfig)
		if err != nil {
			ctx.closeVHosts()
			return nil, err
		}
		ctx.vhosts = append(ctx.vhosts, vh)
	}
	if log.Debug().Enabled() {
		log.Debug().Msgf("context created: %+v", *config)
	}
	return ctx, nil
}

// Enabled reports whether the reactor backend is active for this context.
func (ctx *Context) Enabled() bool {
	return ctx.backend.Enabled()
}

func (ctx *Context) Backend() Backend {
	return ctx.backend
}

func (ctx *Context) Threads() int {
	return len(ctx.loops)
}

func (ctx *Context) VHosts() []*VHost {
	return ctx.vhosts
}

// Loop is the loop of thread slot tsi, nil when none is initialized.
func (ctx *Context) Loop(tsi int) *ThreadLoop {
	return ctx.loop(tsi)
}

func (ctx *Context) loop(tsi int) *ThreadLoop {
	if tsi < 0 || tsi >= len(ctx.loops) {
		return nil
	}
	return ctx.loops[tsi]
}

// InitLoop creates the loop of thread tsi, or adopts foreign (a *reactor.Base) when it is
// not nil, and binds the listeners owned by that thread.
func (ctx *Context) InitLoop(tsi int, foreign interface{}) error {
	if ctx.destroying.Load() {
		return fmt.Errorf("thread %d: context is being destroyed", tsi)
	}
	return ctx.backend.InitLoop(tsi, foreign)
}

func (ctx *Context) DestroyLoop(tsi int) {
	ctx.backend.DestroyLoop(tsi)
}

// Accept gives c, which must carry the index of an initialized thread, its watchers for fd.
// Interest is off until SetInterest starts it.
func (ctx *Context) Accept(c *Conn, fd int) error {
	return ctx.backend.Accept(c, fd)
}

// Release drops the watchers of c. Afterwards fd may be closed right away.
func (ctx *Context) Release(c *Conn) {
	ctx.backend.Release(c)
}

func (ctx *Context) SetInterest(c *Conn, mask Interest) {
	ctx.backend.SetInterest(c, mask)
}

// Run blocks dispatching the loop of thread tsi until it is stopped.
func (ctx *Context) Run(tsi int) error {
	return ctx.backend.Run(tsi)
}

// RequestStop asks the native loop of tsi to stop through its wake channel. Foreign loops
// are left running. Safe from any goroutine while the loop is initialized.
func (ctx *Context) RequestStop(tsi int) {
	l := ctx.loop(tsi)
	if l == nil || l.wake == nil {
		return
	}
	l.stopping.Store(true)
	l.wake.notify()
}

// ThreadFor maps key onto a thread slot, for connections the context opens itself.
func (ctx *Context) ThreadFor(key uint64) int {
	return JumpHash(key, len(ctx.loops))
}

// Stats is a snapshot of the counters of thread tsi.
func (ctx *Context) Stats(tsi int) LoopStats {
	if tsi < 0 || tsi >= len(ctx.stats) {
		return LoopStats{}
	}
	return ctx.stats[tsi].snapshot()
}

// Destroy marks the context as being destroyed, destroys every thread loop and closes the
// vhost listeners. Connections must have been released before. Destroy is idempotent.
func (ctx *Context) Destroy() {
	if !ctx.destroying.CompareAndSwap(false, true) {
		return
	}
	for tsi := range ctx.loops {
		ctx.backend.DestroyLoop(tsi)
	}
	ctx.closeVHosts()
	log.Info().Msg("context destroyed")
}

func (ctx *Context) closeVHosts() {
	for _, vh := range ctx.vhosts {
		vh.close()
	}
}
