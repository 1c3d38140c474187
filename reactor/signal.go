//go:build linux

package reactor

import (
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
)

// signalEntry is one os/signal subscription shared by every watcher of that signal.
type signalEntry struct {
	events []*Event
	ch     chan os.Signal
	done   chan struct{}
}

func (b *Base) addSignal(e *Event) {
	s, ok := b.signals[e.sig]
	if !ok {
		s = &signalEntry{
			ch:   make(chan os.Signal, 1),
			done: make(chan struct{}),
		}
		signal.Notify(s.ch, e.sig)
		go b.forwardSignals(s)
		b.signals[e.sig] = s
		log.Debug().Msgf("subscribed to signal %v", e.sig)
	}
	s.events = append(s.events, e)
}

func (b *Base) delSignal(e *Event) {
	s, ok := b.signals[e.sig]
	if !ok {
		return
	}
	for i, ev := range s.events {
		if ev == e {
			s.events = append(s.events[:i], s.events[i+1:]...)
			break
		}
	}
	if len(s.events) == 0 {
		s.stop()
		delete(b.signals, e.sig)
		log.Debug().Msgf("unsubscribed from signal %v", e.sig)
	}
}

func (s *signalEntry) stop() {
	signal.Stop(s.ch)
	close(s.done)
}

// forwardSignals hands caught signals over to the loop goroutine through the wake descriptor.
func (b *Base) forwardSignals(s *signalEntry) {
	for {
		select {
		case <-s.done:
			return
		case sig := <-s.ch:
			b.mu.Lock()
			b.caught = append(b.caught, sig)
			b.mu.Unlock()
			b.wakeup()
		}
	}
}

func (b *Base) activateSignal(sig os.Signal) {
	s, ok := b.signals[sig]
	if !ok {
		return
	}
	for _, e := range s.events {
		b.activate(e, EvSignal)
	}
}
