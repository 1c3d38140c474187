//go:build linux

package reactor

import (
	"os"
	"syscall"
)

// What is the reactor-native event mask.
type What uint16

const (
	EvTimeout What = 1 << iota
	EvRead
	EvWrite
	EvSignal
	EvPersist
)

// Callback is invoked on the loop goroutine with the descriptor (or signal number),
// the result mask and the argument given at creation.
type Callback func(fd int, what What, arg interface{})

// Event is a watcher registered with a Base. It is owned by whoever created it and
// must only be touched from the goroutine running the base.
type Event struct {
	base   *Base
	fd     int
	sig    os.Signal
	what   What
	cb     Callback
	arg    interface{}
	added  bool
	freed  bool
	queued bool
	res    What
}

// NewEvent creates an inactive watcher for fd. what must carry EvRead and/or EvWrite,
// optionally EvPersist.
func (b *Base) NewEvent(fd int, what What, cb Callback, arg interface{}) (*Event, error) {
	if b.closed {
		return nil, ErrBaseClosed
	}
	if what&(EvRead|EvWrite) == 0 {
		return nil, ErrWrongEvents
	}
	return &Event{
		base: b,
		fd:   fd,
		what: what &^ (EvSignal | EvTimeout),
		cb:   cb,
		arg:  arg,
	}, nil
}

// NewSignal creates an inactive persistent watcher for sig.
func (b *Base) NewSignal(sig os.Signal, cb Callback, arg interface{}) (*Event, error) {
	if b.closed {
		return nil, ErrBaseClosed
	}
	num, ok := sig.(syscall.Signal)
	if !ok {
		return nil, ErrNotSignal
	}
	return &Event{
		base: b,
		fd:   int(num),
		sig:  sig,
		what: EvSignal | EvPersist,
		cb:   cb,
		arg:  arg,
	}, nil
}

// Add makes the event pending. Adding a pending event is a no-op.
func (e *Event) Add() error {
	if e.freed {
		return ErrEventFreed
	}
	if e.base.closed {
		return ErrBaseClosed
	}
	if e.added {
		return nil
	}
	if err := e.base.add(e); err != nil {
		return err
	}
	e.added = true
	e.base.nevents++
	return nil
}

// Del makes the event non-pending and drops a queued activation, so the callback
// will not run again until the next Add. Deleting a non-pending event is a no-op.
func (e *Event) Del() error {
	e.queued = false
	e.res = 0
	if !e.added {
		return nil
	}
	e.added = false
	e.base.nevents--
	if e.base.closed {
		return nil
	}
	return e.base.del(e)
}

// Free deletes the event and releases it for good. Free is safe on a nil or already
// freed event.
func (e *Event) Free() error {
	if e == nil || e.freed {
		return nil
	}
	err := e.Del()
	e.freed = true
	e.cb = nil
	e.arg = nil
	return err
}

// Pending reports whether the event is added for any of the directions in what.
func (e *Event) Pending(what What) bool {
	return e != nil && e.added && e.what&what != 0
}

// Active queues the callback with res as if the event had fired.
func (e *Event) Active(res What) {
	if e.freed || e.base.closed {
		return
	}
	e.base.activate(e, res)
}

func (e *Event) Fd() int {
	return e.fd
}

func (e *Event) Events() What {
	return e.what
}

func (e *Event) persistent() bool {
	return e.what&EvPersist != 0
}
