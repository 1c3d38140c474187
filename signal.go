//go:build linux

package evbridge

import (
	"os"

	"github.com/rs/zerolog/log"

	"evbridge/reactor"
)

// SignalHandler runs on the loop goroutine of l when the process is interrupted.
type SignalHandler func(l *ThreadLoop, sig os.Signal)

// DefaultSignalHandler stops native loops and leaves foreign ones to their owner.
func DefaultSignalHandler(l *ThreadLoop, sig os.Signal) {
	if !l.Break() {
		log.Debug().Msgf("thread %d: %v ignored, loop is foreign", l.index, sig)
		return
	}
	log.Info().Msgf("thread %d: %v, stopping loop", l.index, sig)
}

// ConfigureSignals turns the per-thread interrupt watcher on or off and sets its handler;
// nil selects DefaultSignalHandler. Foreign loops only get the watcher once it has been
// requested here. It only affects loops initialized afterwards.
func (ctx *Context) ConfigureSignals(use bool, handler SignalHandler) {
	if handler == nil {
		handler = DefaultSignalHandler
	}
	ctx.useSignal = use
	ctx.signalsRequested = use
	ctx.signalHandler = handler
}

func (ctx *Context) wantsSignal(l *ThreadLoop) bool {
	if !ctx.useSignal {
		return false
	}
	return !l.foreign || ctx.signalsRequested
}

func (rb *reactorBackend) bindSignal(l *ThreadLoop) error {
	handler := rb.ctx.signalHandler
	ev, err := l.base.NewSignal(os.Interrupt, func(_ int, _ reactor.What, arg interface{}) {
		handler(arg.(*ThreadLoop), os.Interrupt)
	}, l)
	if err != nil {
		return err
	}
	if err := ev.Add(); err != nil {
		_ = ev.Free()
		return err
	}
	l.sigint = ev
	return nil
}

func (rb *reactorBackend) releaseSignal(l *ThreadLoop) {
	if l.sigint == nil {
		return
	}
	if err := l.sigint.Free(); err != nil {
		log.Error().Msgf("thread %d: got error while releasing signal watcher: %+v", l.index, err)
	}
	l.sigint = nil
}
