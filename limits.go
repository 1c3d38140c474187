//go:build linux

package evbridge

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// RaiseFileLimit lifts the soft RLIMIT_NOFILE to want, capped by the hard limit,
// and returns the limit in effect.
func RaiseFileLimit(want uint64) (uint64, error) {
	limit := &unix.Rlimit{}
	err := unix.Getrlimit(unix.RLIMIT_NOFILE, limit)
	if err != nil {
		return 0, err
	}
	if want > limit.Max {
		want = limit.Max
	}
	if want <= limit.Cur {
		return limit.Cur, nil
	}
	err = unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: want, Max: limit.Max})
	if err != nil {
		log.Error().Msgf("error occur while raising OS limit of open files to %d: %+v", want, err)
		return limit.Cur, err
	}
	return want, nil
}
