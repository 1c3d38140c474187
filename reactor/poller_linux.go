//go:build linux

package reactor

import (
	"os"
	"syscall"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN | unix.EPOLLRDHUP
	writeEvents = unix.EPOLLOUT
	errorEvents = unix.EPOLLERR | unix.EPOLLHUP
)

const (
	blocked            = -1
	defEventBufferSize = 64
)

type poller struct {
	fd     int
	events []unix.EpollEvent
}

func openPoller(eventBufferSize int) (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	if eventBufferSize < defEventBufferSize {
		eventBufferSize = defEventBufferSize
	}
	return &poller{
		fd:     fd,
		events: make([]unix.EpollEvent, eventBufferSize),
	}, nil
}

func (p *poller) close() {
	err := os.NewSyscallError("close", unix.Close(p.fd))
	if err != nil {
		log.Error().Msgf("got error while closing epoll: %+v", err)
	}
}

func (p *poller) add(fd int, mask uint32) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: mask})
	if err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	return nil
}

func (p *poller) mod(fd int, mask uint32) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: mask})
	if err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	return nil
}

func (p *poller) delete(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil {
		// the kernel already dropped descriptors that were closed before Del
		if err == unix.EBADF || err == unix.ENOENT {
			return nil
		}
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

func (p *poller) wait(msec int) (int, error) {
	return epollWait(p.fd, p.events, msec)
}

// interestMask converts watcher interest into the epoll registration mask.
func interestMask(what What) uint32 {
	var mask uint32
	if what&EvRead != 0 {
		mask |= readEvents
	}
	if what&EvWrite != 0 {
		mask |= writeEvents
	}
	return mask
}

// readiness converts a delivered epoll mask into watcher directions.
// Errors and hangups wake both directions so that the owner observes them on its next read or write.
func readiness(events uint32) What {
	var what What
	if events&(readEvents|errorEvents) != 0 {
		what |= EvRead
	}
	if events&(writeEvents|errorEvents) != 0 {
		what |= EvWrite
	}
	return what
}

func epollWait(epfd int, events []unix.EpollEvent, msec int) (int, error) {
	var r0 uintptr
	var err error
	var _p0 = unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = syscall.RawSyscall6(syscall.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(_p0), uintptr(len(events)), 0, 0, 0)
	} else {
		r0, _, err = syscall.Syscall6(syscall.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(_p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == syscall.Errno(0) {
		err = nil
	}
	return int(r0), err
}
