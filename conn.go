//go:build linux

package evbridge

import (
	"evbridge/reactor"
)

// Conn is a socket under protocol processing, or the listening socket of a vhost.
// It belongs to one thread slot for its whole life and must only be touched from that
// thread's loop goroutine.
type Conn struct {
	fd     int
	thread int
	vhost  *VHost
	pair   watcherPair
	served servedMark
	// Data is left to the protocol layer.
	Data interface{}
}

func NewConn(thread int) *Conn {
	return &Conn{fd: -1, thread: thread}
}

func (c *Conn) Fd() int {
	return c.fd
}

func (c *Conn) Thread() int {
	return c.thread
}

// VHost is the vhost a listener belongs to, nil for accepted or outbound connections.
func (c *Conn) VHost() *VHost {
	return c.vhost
}

func (c *Conn) IsListener() bool {
	return c.vhost != nil
}

// Attached reports whether the connection still holds any watcher.
func (c *Conn) Attached() bool {
	return c.pair.read != nil || c.pair.write != nil
}

// Interested reports the directions currently started on the connection.
func (c *Conn) Interested() Flags {
	var flags Flags
	if c.pair.read.Pending(reactor.EvRead) {
		flags |= Readable
	}
	if c.pair.write.Pending(reactor.EvWrite) {
		flags |= Writable
	}
	return flags
}

// edge is the argument of every connection watcher: which connection, which direction.
type edge struct {
	conn *Conn
	dir  Flags
}

// watcherPair holds the read and the write watcher of one socket. Either slot may be empty.
type watcherPair struct {
	read      *reactor.Event
	write     *reactor.Event
	readEdge  edge
	writeEdge edge
}

func (p *watcherPair) bindRead(base *reactor.Base, c *Conn, fd int, cb reactor.Callback) error {
	p.readEdge = edge{conn: c, dir: Readable}
	ev, err := base.NewEvent(fd, reactor.EvRead|reactor.EvPersist, cb, &p.readEdge)
	if err != nil {
		return err
	}
	p.read = ev
	return nil
}

func (p *watcherPair) bindWrite(base *reactor.Base, c *Conn, fd int, cb reactor.Callback) error {
	p.writeEdge = edge{conn: c, dir: Writable}
	ev, err := base.NewEvent(fd, reactor.EvWrite|reactor.EvPersist, cb, &p.writeEdge)
	if err != nil {
		return err
	}
	p.write = ev
	return nil
}

// bind creates both watchers, inactive. Nothing is left behind when it fails.
func (p *watcherPair) bind(base *reactor.Base, c *Conn, fd int, cb reactor.Callback) (err error) {
	defer func() {
		if err != nil {
			p.release()
		}
	}()
	if err = p.bindRead(base, c, fd, cb); err != nil {
		return err
	}
	return p.bindWrite(base, c, fd, cb)
}

// release frees whatever watchers the pair holds and returns how many there were.
func (p *watcherPair) release() int {
	n := 0
	if p.read != nil {
		if err := p.read.Free(); err != nil {
			logReleaseError(p.read.Fd(), err)
		}
		p.read = nil
		n++
	}
	if p.write != nil {
		if err := p.write.Free(); err != nil {
			logReleaseError(p.write.Fd(), err)
		}
		p.write = nil
		n++
	}
	p.readEdge = edge{}
	p.writeEdge = edge{}
	return n
}

// servedMark merges the read and write deliveries a connection gets in one readiness pass
// into a single dispatch.
type servedMark struct {
	pass  uint64
	flags Flags
}

func (m *servedMark) coalesce(pass uint64, flags Flags) Flags {
	if m.pass != pass {
		m.pass = pass
		m.flags = 0
	}
	flags &^= m.flags
	m.flags |= flags
	return flags
}
