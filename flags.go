//go:build linux

package evbridge

import (
	"strings"

	"evbridge/reactor"
)

// Flags is the readiness handed to the Service, independent of the reactor in use.
type Flags uint8

const (
	Readable Flags = 1 << iota
	Writable
)

func (f Flags) String() string {
	var parts []string
	if f&Readable != 0 {
		parts = append(parts, "readable")
	}
	if f&Writable != 0 {
		parts = append(parts, "writable")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Interest is a SetInterest request: exactly one of EvStart or EvStop and at least one
// of EvRead or EvWrite.
type Interest uint8

const (
	EvStart Interest = 1 << iota
	EvStop
	EvRead
	EvWrite
)

func (i Interest) validate() {
	start, stop := i&EvStart != 0, i&EvStop != 0
	if start == stop {
		contractViolation("interest %#x needs exactly one of start or stop", uint8(i))
	}
	if i&(EvRead|EvWrite) == 0 {
		contractViolation("interest %#x has neither read nor write", uint8(i))
	}
}

// translate is the only place reactor result masks are interpreted.
func translate(what reactor.What) Flags {
	var flags Flags
	if what&reactor.EvRead != 0 {
		flags |= Readable
	}
	if what&reactor.EvWrite != 0 {
		flags |= Writable
	}
	return flags
}
