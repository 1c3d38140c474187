//go:build linux

// Package reactor is a readiness-based event loop with opaque, per-owner watchers.
// A Base multiplexes file descriptors and signals with epoll and runs watcher callbacks
// one at a time on the goroutine that called Dispatch.
package reactor

import (
	"os"
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

type Config struct {
	Name            string
	LockOsThread    bool
	EventBufferSize int
}

type fdEntry struct {
	events []*Event
	mask   uint32
}

// Base is one reactor loop instance. Everything except LoopBreak must be called from
// the goroutine that runs Dispatch.
type Base struct {
	Name         string
	lockOsThread bool
	poller       *poller
	fds          map[int]*fdEntry
	signals      map[os.Signal]*signalEntry
	active       *queue.Queue
	nevents      int
	pass         uint64
	closed       bool
	broken       *atomic.Bool
	running      *atomic.Bool

	// mu guards the wake descriptor and signals caught by forwarders.
	mu     sync.Mutex
	wakeFd int
	caught []os.Signal
}

func NewBase(config Config) (*Base, error) {
	if log.Debug().Enabled() {
		log.Debug().Msgf("init reactor base:%+v", config)
	}
	p, err := openPoller(config.EventBufferSize)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		p.close()
		return nil, os.NewSyscallError("eventfd", err)
	}
	if err := p.add(wfd, unix.EPOLLIN); err != nil {
		_ = unix.Close(wfd)
		p.close()
		return nil, err
	}
	return &Base{
		Name:         config.Name,
		lockOsThread: config.LockOsThread,
		poller:       p,
		fds:          make(map[int]*fdEntry),
		signals:      make(map[os.Signal]*signalEntry),
		active:       queue.New(),
		broken:       atomic.NewBool(false),
		running:      atomic.NewBool(false),
		wakeFd:       wfd,
	}, nil
}

// Free releases the epoll instance, the wake descriptor and all signal subscriptions.
// Watchers created on the base become inert. Free is idempotent.
func (b *Base) Free() {
	if b.closed {
		return
	}
	b.closed = true
	for sig, s := range b.signals {
		s.stop()
		delete(b.signals, sig)
	}
	for b.active.Length() > 0 {
		e := b.active.Remove().(*Event)
		e.queued = false
	}
	b.fds = nil

	b.mu.Lock()
	if err := unix.Close(b.wakeFd); err != nil {
		log.Error().Msgf("got error while closing reactor wake fd: %+v", err)
	}
	b.wakeFd = -1
	b.caught = nil
	b.mu.Unlock()

	b.poller.close()
}

func (b *Base) Closed() bool {
	return b.closed
}

// Running reports whether a Dispatch call is in progress. Safe from any goroutine.
func (b *Base) Running() bool {
	return b.running.Load()
}

// Pass is the number of readiness passes completed so far.
func (b *Base) Pass() uint64 {
	return b.pass
}

// LoopBreak asks the running (or next) Dispatch to return once the current callback
// finishes. Safe from any goroutine.
func (b *Base) LoopBreak() {
	b.broken.Store(true)
	b.wakeup()
}

// Dispatch runs the loop until LoopBreak is called or no events remain pending.
func (b *Base) Dispatch() error {
	if b.closed {
		return ErrBaseClosed
	}
	if !b.running.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	defer b.running.Store(false)
	if b.lockOsThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	for {
		if b.broken.Swap(false) {
			return nil
		}
		if b.nevents == 0 && b.active.Length() == 0 {
			return ErrNoEvents
		}
		timeout := blocked
		if b.active.Length() > 0 {
			timeout = 0
		}
		n, err := b.poller.wait(timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Error().Msgf("error occurs in epoll: %v", err)
			return os.NewSyscallError("epoll_pwait", err)
		}
		b.pass++
		for i := 0; i < n; i++ {
			ev := b.poller.events[i]
			fd := int(ev.Fd)
			if fd == b.wakeFd {
				b.drainWake()
				continue
			}
			b.activateFd(fd, readiness(ev.Events))
		}
		b.processActive()
	}
}

func (b *Base) activateFd(fd int, ready What) {
	entry, ok := b.fds[fd]
	if !ok {
		return
	}
	var interest What
	for _, e := range entry.events {
		interest |= e.what
	}
	res := ready & interest & (EvRead | EvWrite)
	if res == 0 {
		return
	}
	for _, e := range entry.events {
		if e.what&res != 0 {
			b.activate(e, res)
		}
	}
}

func (b *Base) activate(e *Event, res What) {
	if e.queued {
		e.res |= res
		return
	}
	e.queued = true
	e.res = res
	b.active.Add(e)
}

func (b *Base) processActive() {
	for b.active.Length() > 0 {
		e := b.active.Remove().(*Event)
		if !e.queued {
			continue
		}
		res := e.res
		e.queued = false
		e.res = 0
		if !e.persistent() {
			if err := e.Del(); err != nil {
				log.Error().Msgf("[%d] got error while deleting fired event: %+v", e.fd, err)
			}
		}
		e.cb(e.fd, res, e.arg)
		if b.broken.Load() {
			return
		}
	}
}

func (b *Base) add(e *Event) error {
	if e.what&EvSignal != 0 {
		b.addSignal(e)
		return nil
	}
	entry, ok := b.fds[e.fd]
	if !ok {
		entry = &fdEntry{}
		b.fds[e.fd] = entry
	}
	entry.events = append(entry.events, e)
	if err := b.sync(e.fd, entry); err != nil {
		entry.remove(e)
		if len(entry.events) == 0 {
			delete(b.fds, e.fd)
		}
		return err
	}
	return nil
}

func (b *Base) del(e *Event) error {
	if e.what&EvSignal != 0 {
		b.delSignal(e)
		return nil
	}
	entry, ok := b.fds[e.fd]
	if !ok {
		return nil
	}
	entry.remove(e)
	err := b.sync(e.fd, entry)
	if len(entry.events) == 0 {
		delete(b.fds, e.fd)
	}
	return err
}

// sync brings the epoll registration of fd in line with the union of its watchers.
func (b *Base) sync(fd int, entry *fdEntry) error {
	var what What
	for _, e := range entry.events {
		what |= e.what
	}
	mask := interestMask(what)
	var err error
	switch {
	case mask == entry.mask:
		return nil
	case entry.mask == 0:
		err = b.poller.add(fd, mask)
	case mask == 0:
		err = b.poller.delete(fd)
	default:
		err = b.poller.mod(fd, mask)
	}
	if err != nil {
		return err
	}
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] epoll mask %#x -> %#x", fd, entry.mask, mask)
	}
	entry.mask = mask
	return nil
}

func (entry *fdEntry) remove(e *Event) {
	for i, ev := range entry.events {
		if ev == e {
			entry.events = append(entry.events[:i], entry.events[i+1:]...)
			return
		}
	}
}

func (b *Base) wakeup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wakeFd < 0 {
		return
	}
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(b.wakeFd, buf[:])
	if err != nil && err != unix.EAGAIN {
		log.Error().Msgf("got error while waking reactor: %+v", err)
	}
}

func (b *Base) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(b.wakeFd, buf[:])
		if err != nil {
			break
		}
	}
	b.mu.Lock()
	caught := b.caught
	b.caught = nil
	b.mu.Unlock()
	for _, sig := range caught {
		b.activateSignal(sig)
	}
}
