//go:build linux

package evbridge

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func BenchmarkJumpHash(b *testing.B) {
	const buckets = 20
	for i := 0; i < b.N; i++ {
		JumpHash(uint64(i), buckets)
	}
}

func TestJumpHash(t *testing.T) {
	const buckets = 20
	for i := 0; i < 100000; i++ {
		key := rand.Int63n(math.MaxInt64)
		hash := JumpHash(uint64(key), buckets)
		require.GreaterOrEqual(t, hash, 0)
		require.Less(t, hash, buckets)
	}
	require.Zero(t, JumpHash(42, 0))
	require.Zero(t, JumpHash(42, 1))
}

func TestJumpHashDistribution(t *testing.T) {
	const buckets = 10
	const keys = 1000000
	counters := make([]int, buckets)
	for i := 0; i < keys; i++ {
		counters[JumpHash(rand.Uint64(), buckets)]++
	}
	for bucket, count := range counters {
		t.Logf("%d: %d", bucket, count)
		require.InDelta(t, keys/buckets, count, keys/buckets/10)
	}
}

func TestJumpHashStability(t *testing.T) {
	for key := uint64(0); key < 1000; key++ {
		before := JumpHash(key, 4)
		after := JumpHash(key, 5)
		if after != 4 {
			require.Equal(t, before, after)
		}
	}
}
