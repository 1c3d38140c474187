//go:build linux

package evbridge

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"evbridge/reactor"
)

// wakeChannel is the per-thread eventfd other goroutines use to reach a loop.
type wakeChannel struct {
	mu      sync.Mutex
	fd      int
	watcher *reactor.Event
}

func newWakeChannel(l *ThreadLoop) (*wakeChannel, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWakeChannel, os.NewSyscallError("eventfd", err))
	}
	w := &wakeChannel{fd: fd}
	ev, err := l.base.NewEvent(fd, reactor.EvRead|reactor.EvPersist, w.onWake, l)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrWakeChannel, err)
	}
	if err := ev.Add(); err != nil {
		_ = ev.Free()
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrWakeChannel, err)
	}
	w.watcher = ev
	return w, nil
}

// notify is safe from any goroutine; it is a no-op once the channel is closed.
func (w *wakeChannel) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fd < 0 {
		return
	}
	var buf [8]byte
	buf[0] = 1
	if _, err := unix.Write(w.fd, buf[:]); err != nil && err != unix.EAGAIN {
		log.Error().Msgf("[%d] got error while writing wake channel: %+v", w.fd, err)
	}
}

func (w *wakeChannel) onWake(fd int, _ reactor.What, arg interface{}) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			break
		}
	}
	l := arg.(*ThreadLoop)
	if !l.stopping.Load() {
		return
	}
	if !l.Break() {
		log.Debug().Msgf("thread %d: stop request left to the owner of the foreign loop", l.index)
	}
}

func (w *wakeChannel) close() {
	if err := w.watcher.Free(); err != nil {
		log.Error().Msgf("[%d] got error while releasing wake watcher: %+v", w.fd, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := unix.Close(w.fd); err != nil {
		log.Error().Msgf("[%d] got error while closing wake channel: %+v", w.fd, err)
	}
	w.fd = -1
}
