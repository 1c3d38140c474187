//go:build linux

package reactor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestBase(t *testing.T) *Base {
	t.Helper()
	b, err := NewBase(Config{Name: t.Name()})
	require.NoError(t, err)
	t.Cleanup(b.Free)
	return b
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func breakAfter(b *Base, d time.Duration) {
	go func() {
		time.Sleep(d)
		b.LoopBreak()
	}()
}

func TestDispatchWithoutEvents(t *testing.T) {
	b := newTestBase(t)
	require.ErrorIs(t, b.Dispatch(), ErrNoEvents)
}

func TestPersistentReadEvent(t *testing.T) {
	b := newTestBase(t)
	local, remote := socketPair(t)

	var calls []What
	ev, err := b.NewEvent(local, EvRead|EvPersist, func(fd int, what What, arg interface{}) {
		require.Equal(t, local, fd)
		require.Equal(t, "arg", arg)
		calls = append(calls, what)
		var buf [16]byte
		_, _ = unix.Read(fd, buf[:])
		if len(calls) == 2 {
			b.LoopBreak()
			return
		}
		_, _ = unix.Write(remote, []byte("y"))
	}, "arg")
	require.NoError(t, err)
	require.NoError(t, ev.Add())
	require.True(t, ev.Pending(EvRead))

	_, err = unix.Write(remote, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, b.Dispatch())
	require.Equal(t, []What{EvRead, EvRead}, calls)
	require.True(t, ev.Pending(EvRead))
}

func TestOneShotEventDeletesItself(t *testing.T) {
	b := newTestBase(t)
	local, remote := socketPair(t)

	calls := 0
	ev, err := b.NewEvent(local, EvRead, func(int, What, interface{}) { calls++ }, nil)
	require.NoError(t, err)
	require.NoError(t, ev.Add())
	_, err = unix.Write(remote, []byte("x"))
	require.NoError(t, err)

	require.ErrorIs(t, b.Dispatch(), ErrNoEvents)
	require.Equal(t, 1, calls)
	require.False(t, ev.Pending(EvRead))
}

func TestDelDropsQueuedActivation(t *testing.T) {
	b := newTestBase(t)
	local, remote := socketPair(t)

	var second *Event
	secondCalls := 0
	first, err := b.NewEvent(local, EvWrite|EvPersist, func(int, What, interface{}) {
		require.NoError(t, second.Del())
		b.LoopBreak()
	}, nil)
	require.NoError(t, err)
	second, err = b.NewEvent(remote, EvWrite|EvPersist, func(int, What, interface{}) { secondCalls++ }, nil)
	require.NoError(t, err)
	require.NoError(t, first.Add())
	require.NoError(t, second.Add())

	first.Active(EvWrite)
	second.Active(EvWrite)
	require.NoError(t, b.Dispatch())
	require.Zero(t, secondCalls)
}

func TestSharedDescriptorReportsBothDirections(t *testing.T) {
	b := newTestBase(t)
	local, remote := socketPair(t)

	got := map[string]What{}
	cb := func(_ int, what What, arg interface{}) {
		got[arg.(string)] = what
		if len(got) == 2 {
			b.LoopBreak()
		}
	}
	rd, err := b.NewEvent(local, EvRead|EvPersist, cb, "read")
	require.NoError(t, err)
	wr, err := b.NewEvent(local, EvWrite|EvPersist, cb, "write")
	require.NoError(t, err)
	require.NoError(t, rd.Add())
	require.NoError(t, wr.Add())
	_, err = unix.Write(remote, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, b.Dispatch())
	require.Equal(t, EvRead|EvWrite, got["read"])
	require.Equal(t, EvRead|EvWrite, got["write"])

	require.NoError(t, wr.Free())
	require.NoError(t, wr.Free())
	require.ErrorIs(t, wr.Add(), ErrEventFreed)
	require.True(t, rd.Pending(EvRead))
}

func TestLoopBreakFromAnotherGoroutine(t *testing.T) {
	b := newTestBase(t)
	local, _ := socketPair(t)

	ev, err := b.NewEvent(local, EvRead|EvPersist, func(int, What, interface{}) {}, nil)
	require.NoError(t, err)
	require.NoError(t, ev.Add())

	breakAfter(b, 20*time.Millisecond)
	start := time.Now()
	require.NoError(t, b.Dispatch())
	require.Less(t, time.Since(start), 5*time.Second)
	require.False(t, b.Running())
}

func TestSignalEvent(t *testing.T) {
	b := newTestBase(t)

	var caught What
	ev, err := b.NewSignal(unix.SIGUSR1, func(fd int, what What, _ interface{}) {
		require.Equal(t, int(unix.SIGUSR1), fd)
		caught = what
		b.LoopBreak()
	}, nil)
	require.NoError(t, err)
	require.NoError(t, ev.Add())

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
	require.NoError(t, b.Dispatch())
	require.Equal(t, EvSignal, caught)
	require.NoError(t, ev.Free())
}

func TestFreedBaseRejectsEvents(t *testing.T) {
	b, err := NewBase(Config{})
	require.NoError(t, err)
	local, _ := socketPair(t)
	ev, err := b.NewEvent(local, EvRead, func(int, What, interface{}) {}, nil)
	require.NoError(t, err)

	b.Free()
	b.Free()
	require.True(t, b.Closed())
	require.ErrorIs(t, ev.Add(), ErrBaseClosed)
	require.NoError(t, ev.Free())
	require.ErrorIs(t, b.Dispatch(), ErrBaseClosed)
	_, err = b.NewEvent(local, EvRead, nil, nil)
	require.ErrorIs(t, err, ErrBaseClosed)
}

func TestNewEventRequiresDirection(t *testing.T) {
	b := newTestBase(t)
	_, err := b.NewEvent(0, EvPersist, nil, nil)
	require.ErrorIs(t, err, ErrWrongEvents)
}
