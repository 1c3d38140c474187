//go:build linux

package evbridge

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const defSocketBufferSize = 64 * 1024

// ConfigureSocket makes an accepted socket non-blocking and sizes its kernel buffers.
// bufferSize <= 0 keeps the default size. Failures are logged: the socket stays usable.
func ConfigureSocket(fd int, bufferSize int) {
	if bufferSize <= 0 {
		bufferSize = defSocketBufferSize
	}
	err := unix.SetNonblock(fd, true)
	if err != nil {
		log.Error().Msgf("[%d] got error while setting socket options O_NONBLOCK: %+v", fd, err)
	}
	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bufferSize)
	if err != nil {
		log.Error().Msgf("[%d] got error while setting socket options SO_RCVBUF: %+v", fd, err)
	}
	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bufferSize)
	if err != nil {
		log.Error().Msgf("[%d] got error while setting socket options SO_SNDBUF: %+v", fd, err)
	}
}
