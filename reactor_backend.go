//go:build linux

package evbridge

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"evbridge/reactor"
)

// reactorBackend runs connections on reactor.Base loops.
type reactorBackend struct {
	ctx *Context
}

func (rb *reactorBackend) Enabled() bool {
	return true
}

func (rb *reactorBackend) InitLoop(tsi int, foreign interface{}) (err error) {
	ctx := rb.ctx
	if tsi < 0 || tsi >= len(ctx.loops) {
		return fmt.Errorf("%w: %d", ErrThreadIndex, tsi)
	}
	if ctx.loops[tsi] != nil {
		return fmt.Errorf("thread %d: %w", tsi, ErrLoopExists)
	}
	var base *reactor.Base
	if foreign != nil {
		b, ok := foreign.(*reactor.Base)
		if !ok {
			return fmt.Errorf("thread %d: %w: %T", tsi, ErrForeignLoop, foreign)
		}
		base = b
	}

	l := newThreadLoop(tsi)
	if base == nil {
		b, nerr := reactor.NewBase(reactor.Config{
			Name:            fmt.Sprintf("thread-%d", tsi),
			LockOsThread:    ctx.config.Reactor.LockOsThread,
			EventBufferSize: ctx.config.Reactor.EventBufferSize,
		})
		if nerr != nil {
			return fmt.Errorf("thread %d: %w: %v", tsi, ErrLoopCreate, nerr)
		}
		l.base = b
	} else {
		l.base = base
		l.foreign = true
	}
	defer func() {
		if err != nil {
			log.Error().Msgf("thread %d: can't init loop: %+v", tsi, err)
			rb.teardown(l)
		}
	}()

	if l.wake, err = newWakeChannel(l); err != nil {
		return fmt.Errorf("thread %d: %w", tsi, err)
	}
	if err = rb.bindListeners(l); err != nil {
		return err
	}
	if ctx.wantsSignal(l) {
		if err = rb.bindSignal(l); err != nil {
			return fmt.Errorf("thread %d: can't watch interrupt: %w", tsi, err)
		}
	}
	ctx.loops[tsi] = l
	log.Info().Msgf("thread %d: reactor loop initialized (foreign: %t, signals: %t)", tsi, l.foreign, l.sigint != nil)
	return nil
}

// teardown releases everything l holds. The destroying mark goes first so that
// interest changes racing with it turn into no-ops.
func (rb *reactorBackend) teardown(l *ThreadLoop) {
	l.destroying.Store(true)
	rb.stopConns(l)
	rb.releaseListeners(l)
	rb.releaseSignal(l)
	if l.wake != nil {
		l.wake.close()
		l.wake = nil
	}
	if !l.foreign && l.base != nil {
		l.base.Free()
	}
	l.base = nil
}

// stopConns takes the watchers of connections still attached to l off the base. A foreign
// base keeps running after the loop is gone, so they must not fire into it.
func (rb *reactorBackend) stopConns(l *ThreadLoop) {
	for c := range l.conns {
		rb.stop(c, c.pair.read)
		rb.stop(c, c.pair.write)
	}
	l.conns = make(map[*Conn]struct{})
}

func (rb *reactorBackend) DestroyLoop(tsi int) {
	l := rb.ctx.loop(tsi)
	if l == nil || l.base == nil {
		return
	}
	if live := rb.ctx.stats[tsi].Watchers.Load(); live > 0 {
		log.Warn().Msgf("thread %d: destroying loop with %d connection watchers still live", tsi, live)
	}
	rb.teardown(l)
	rb.ctx.loops[tsi] = nil
	log.Info().Msgf("thread %d: reactor loop destroyed (foreign: %t)", tsi, l.foreign)
}

func (rb *reactorBackend) Accept(c *Conn, fd int) error {
	if c.thread < 0 || c.thread >= len(rb.ctx.loops) {
		return fmt.Errorf("[%d] %w: %d", fd, ErrThreadIndex, c.thread)
	}
	l := rb.ctx.loops[c.thread]
	if l == nil || l.base == nil {
		return fmt.Errorf("[%d] thread %d: %w", fd, c.thread, ErrNoLoop)
	}
	if c.Attached() {
		contractViolation("[%d] connection already attached to fd %d", fd, c.fd)
	}
	if err := c.pair.bind(l.base, c, fd, rb.serviceEdge); err != nil {
		return fmt.Errorf("[%d] can't create watchers: %w", fd, err)
	}
	c.fd = fd
	c.served = servedMark{}
	l.conns[c] = struct{}{}
	stats := rb.ctx.stats[c.thread]
	stats.Watchers.Add(2)
	stats.Attached.Inc()
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] attached to thread %d", fd, c.thread)
	}
	return nil
}

func (rb *reactorBackend) Release(c *Conn) {
	if c == nil {
		return
	}
	n := c.pair.release()
	if n == 0 {
		return
	}
	if l := rb.ctx.loop(c.thread); l != nil {
		delete(l.conns, c)
	}
	stats := rb.ctx.stats[c.thread]
	stats.Watchers.Sub(int64(n))
	stats.Attached.Dec()
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] released %d watchers", c.fd, n)
	}
}

func (rb *reactorBackend) SetInterest(c *Conn, mask Interest) {
	mask.validate()
	if rb.ctx.destroying.Load() {
		return
	}
	l := rb.ctx.loop(c.thread)
	if l == nil || l.base == nil || l.destroying.Load() {
		return
	}
	if !c.Attached() {
		contractViolation("[%d] interest %#x before accept", c.fd, uint8(mask))
	}
	if mask&EvStart != 0 {
		if mask&EvWrite != 0 {
			rb.start(c, c.pair.write)
		}
		if mask&EvRead != 0 {
			rb.start(c, c.pair.read)
		}
		return
	}
	if mask&EvWrite != 0 {
		rb.stop(c, c.pair.write)
	}
	if mask&EvRead != 0 {
		rb.stop(c, c.pair.read)
	}
}

func (rb *reactorBackend) start(c *Conn, ev *reactor.Event) {
	if ev == nil {
		return
	}
	if err := ev.Add(); err != nil {
		log.Error().Msgf("[%d] can't start watcher: %+v", c.fd, err)
	}
}

func (rb *reactorBackend) stop(c *Conn, ev *reactor.Event) {
	if ev == nil {
		return
	}
	if err := ev.Del(); err != nil {
		log.Error().Msgf("[%d] can't stop watcher: %+v", c.fd, err)
	}
}

func (rb *reactorBackend) Run(tsi int) error {
	l := rb.ctx.loop(tsi)
	if l == nil || l.base == nil {
		return nil
	}
	log.Debug().Msgf("thread %d: dispatching (foreign: %t)", tsi, l.foreign)
	err := l.base.Dispatch()
	l.stopping.Store(false)
	if err != nil && !errors.Is(err, reactor.ErrNoEvents) {
		return fmt.Errorf("thread %d: %w", tsi, err)
	}
	log.Debug().Msgf("thread %d: loop returned", tsi)
	return nil
}

// serviceEdge is the callback of every connection and listener watcher.
func (rb *reactorBackend) serviceEdge(fd int, what reactor.What, arg interface{}) {
	if what&reactor.EvTimeout != 0 {
		return
	}
	flags := translate(what)
	if flags == 0 {
		return
	}
	c := arg.(*edge).conn
	l := rb.ctx.loop(c.thread)
	if l == nil || l.base == nil || l.destroying.Load() {
		return
	}
	if flags = c.served.coalesce(l.base.Pass(), flags); flags == 0 {
		return
	}
	rb.ctx.stats[c.thread].Dispatched.Inc()
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] %s", fd, flags)
	}
	rb.ctx.service.ServiceFD(c, fd, flags)
}
