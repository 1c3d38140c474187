//go:build linux

package evbridge

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const listenBacklog = 1024

// VHost is a configured listening endpoint. A vhost without an address has no listener.
type VHost struct {
	Name     string
	Net      string
	Address  string
	listener *Conn
}

func newVHost(config VHostConfig) (*VHost, error) {
	vh := &VHost{
		Name:    config.Name,
		Net:     config.Net,
		Address: config.Address,
	}
	if config.Address == "" {
		return vh, nil
	}
	fd, err := openListener(config.Net, config.Address)
	if err != nil {
		return nil, fmt.Errorf("vhost %s: can't listen on %s: %w", config.Name, config.Address, err)
	}
	vh.listener = &Conn{fd: fd, thread: config.Thread, vhost: vh}
	log.Info().Msgf("[%d] vhost %s listening on %s for thread %d", fd, vh.Name, vh.Address, config.Thread)
	return vh, nil
}

// Listener is the listening connection, nil when the vhost does not listen.
func (vh *VHost) Listener() *Conn {
	return vh.listener
}

// Addr is the bound address of the listening socket.
func (vh *VHost) Addr() (net.Addr, error) {
	if vh.listener == nil {
		return nil, fmt.Errorf("vhost %s has no listener", vh.Name)
	}
	sa, err := unix.Getsockname(vh.listener.fd)
	if err != nil {
		return nil, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}, nil
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}, nil
	}
	return nil, fmt.Errorf("vhost %s: unexpected socket address %T", vh.Name, sa)
}

func (vh *VHost) close() {
	if vh.listener == nil || vh.listener.fd < 0 {
		return
	}
	if err := unix.Close(vh.listener.fd); err != nil {
		log.Error().Msgf("[%d] got error while closing vhost %s listener: %+v", vh.listener.fd, vh.Name, err)
	}
	vh.listener.fd = -1
}

// bindListeners gives every listener owned by l's thread a started, persistent read watcher.
func (rb *reactorBackend) bindListeners(l *ThreadLoop) error {
	for _, vh := range rb.ctx.vhosts {
		lc := vh.listener
		if lc == nil || lc.thread != l.index {
			continue
		}
		if err := lc.pair.bindRead(l.base, lc, lc.fd, rb.serviceEdge); err != nil {
			return fmt.Errorf("vhost %s: %w", vh.Name, err)
		}
		rb.ctx.stats[l.index].Listeners.Inc()
		if err := lc.pair.read.Add(); err != nil {
			return fmt.Errorf("[%d] vhost %s: can't watch listener: %w", lc.fd, vh.Name, err)
		}
		log.Debug().Msgf("[%d] vhost %s listener bound to thread %d", lc.fd, vh.Name, l.index)
	}
	return nil
}

// releaseListeners is safe to repeat: released slots are left empty.
func (rb *reactorBackend) releaseListeners(l *ThreadLoop) {
	for _, vh := range rb.ctx.vhosts {
		lc := vh.listener
		if lc == nil || lc.thread != l.index {
			continue
		}
		if n := lc.pair.release(); n > 0 {
			rb.ctx.stats[l.index].Listeners.Sub(int64(n))
		}
	}
}

func openListener(network, address string) (int, error) {
	fam := unix.AF_INET
	if strings.HasSuffix(network, "6") {
		fam = unix.AF_INET6
	}
	fd, err := unix.Socket(fam, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	var sa unix.Sockaddr
	if fam == unix.AF_INET6 {
		addr, err := net.ResolveTCPAddr("tcp6", address)
		if err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		var sa6 unix.SockaddrInet6
		if addr.IP != nil {
			copy(sa6.Addr[:], addr.IP.To16())
		}
		sa6.Port = addr.Port
		sa = &sa6
	} else {
		addr, err := net.ResolveTCPAddr("tcp4", address)
		if err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		var sa4 unix.SockaddrInet4
		if addr.IP != nil {
			copy(sa4.Addr[:], addr.IP.To4())
		}
		sa4.Port = addr.Port
		sa = &sa4
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
