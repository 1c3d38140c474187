//go:build linux

package reactor

import "errors"

var (
	ErrBaseClosed  = errors.New("reactor: base closed")
	ErrEventFreed  = errors.New("reactor: event freed")
	ErrNoEvents    = errors.New("reactor: no events registered")
	ErrReentrant   = errors.New("reactor: dispatch already running")
	ErrNotSignal   = errors.New("reactor: not a signal event")
	ErrWrongEvents = errors.New("reactor: event mask has no read or write interest")
)
