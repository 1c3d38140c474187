//go:build linux

package evbridge

import (
	"github.com/rs/zerolog/log"
)

// Service is the protocol layer's single dispatch entry point. It is called on the loop
// goroutine of c's thread with the flags the descriptor is ready for. For a listener
// (c.IsListener()) a Readable dispatch means connections are waiting to be accepted.
type Service interface {
	ServiceFD(c *Conn, fd int, flags Flags)
}

type ServiceFunc func(c *Conn, fd int, flags Flags)

func (f ServiceFunc) ServiceFD(c *Conn, fd int, flags Flags) {
	f(c, fd, flags)
}

// Backend is an event-loop adapter. The context selects one at creation time.
//
// InitLoop adopts foreign as the loop of thread tsi, or creates one when foreign is nil.
// Accept, Release and SetInterest must be called from the loop goroutine of the
// connection's thread. Run blocks until the loop of tsi stops.
type Backend interface {
	Enabled() bool
	InitLoop(tsi int, foreign interface{}) error
	DestroyLoop(tsi int)
	Accept(c *Conn, fd int) error
	Release(c *Conn)
	SetInterest(c *Conn, mask Interest)
	Run(tsi int) error
}

// nopBackend is selected when the reactor is disabled; every operation does nothing.
type nopBackend struct{}

func (nopBackend) Enabled() bool { return false }
func (nopBackend) InitLoop(int, interface{}) error { return nil }
func (nopBackend) DestroyLoop(int) {}
func (nopBackend) Accept(*Conn, int) error { return nil }
func (nopBackend) Release(*Conn) {}
func (nopBackend) SetInterest(*Conn, Interest) {}
func (nopBackend) Run(int) error { return nil }

func logReleaseError(fd int, err error) {
	log.Error().Msgf("[%d] got error while releasing watcher: %+v", fd, err)
}
