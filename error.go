//go:build linux

package evbridge

import (
	"errors"
	"fmt"
)

var (
	ErrLoopCreate    = errors.New("can't create reactor loop")
	ErrWakeChannel   = errors.New("can't create wake channel")
	ErrLoopExists    = errors.New("loop already initialized")
	ErrNoLoop        = errors.New("loop not initialized")
	ErrThreadIndex   = errors.New("thread index out of range")
	ErrForeignLoop   = errors.New("foreign loop is not a *reactor.Base")
	ErrNoService     = errors.New("no service to dispatch events to")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrContract      = errors.New("contract violation")
)

// contractViolation panics: the caller has a bug that must not be absorbed at runtime.
func contractViolation(format string, args ...interface{}) {
	panic(fmt.Errorf("%w: %s", ErrContract, fmt.Sprintf(format, args...)))
}
