package plan

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func coverage(t *testing.T, p Plan) {
	t.Helper()
	seen := make([]uint8, p.Groups)
	p.Walk(func(l Lane, id uint64) bool {
		require.Less(t, id, p.Groups, "lane %+v got id out of range", l)
		seen[id]++
		return true
	})
	for id, n := range seen {
		require.Equalf(t, uint8(1), n, "workgroup %d assigned %d times (%s)", id, n, p)
	}
}

func TestDistributionCompleteAndDisjoint(t *testing.T) {
	t.Parallel()

	shapes := [][3]uint32{
		{1, 1, 1}, {1, 1, 4}, {1, 4, 1}, {4, 4, 32}, {2, 3, 5}, {8, 2, 8}, {3, 7, 2}, {16, 1, 1},
	}
	for _, s := range shapes {
		for q := uint64(0); q <= 700; q++ {
			p := New(q, s[0], s[1], s[2])
			coverage(t, p)
		}
	}
}

func TestRemainderAbsorption(t *testing.T) {
	t.Parallel()

	for _, q := range []uint64{1, 63, 64, 129, 1000, 1001, 4099, 12345} {
		p := New(q, 4, 4, 8)
		var sum uint64
		extraHolders := 0
		for c := uint32(0); c < p.ActiveCores; c++ {
			n := p.Count(c)
			sum += n
			if n != p.PerCore {
				extraHolders++
				require.Equal(t, p.Last(), c)
				require.Equal(t, p.PerCore+q%uint64(p.ActiveCores), n)
			}
		}
		require.Equal(t, q, sum)
		require.LessOrEqual(t, extraHolders, 1)
	}
}

func TestExampleThousandGroups(t *testing.T) {
	t.Parallel()

	p := New(1000, 4, 4, 32)
	require.Equal(t, uint32(4), p.ActiveCores)
	for c := uint32(0); c < 4; c++ {
		require.Equal(t, uint64(250), p.Count(c))
	}

	p = New(1001, 4, 4, 32)
	require.Equal(t, uint32(4), p.ActiveCores)
	for c := uint32(0); c < 3; c++ {
		require.Equal(t, uint64(250), p.Count(c))
	}
	require.Equal(t, uint64(251), p.Count(3))

	cp := p.Core(3)
	require.Equal(t, uint64(750), cp.Offset)
	require.Equal(t, uint64(7), cp.FullWarps) // 251 / 32
	require.Equal(t, uint64(1), cp.Iterations)
	require.Equal(t, uint64(3), cp.WarpRemainder)
	require.Equal(t, uint64(27), cp.ThreadRemainder)
	require.Equal(t, uint64(1001-27), cp.RemainderOffset())
}

func TestSmallGridUsesOneCore(t *testing.T) {
	t.Parallel()

	p := New(100, 8, 4, 32)
	require.Equal(t, uint32(1), p.ActiveCores)
	cp := p.Core(0)
	require.Equal(t, uint64(3), cp.FullWarps)
	require.Equal(t, uint32(3), cp.SpawnWarps)
	require.Equal(t, uint64(1), cp.Iterations)
	require.Equal(t, uint64(0), cp.WarpRemainder)
	require.Equal(t, uint64(4), cp.ThreadRemainder)

	first, n := cp.Thread(2, 5)
	require.Equal(t, uint64(2*32+5), first)
	require.Equal(t, uint64(1), n)

	_, n = cp.Thread(3, 0)
	require.Zero(t, n, "warp 3 is not spawned")
}

func TestZeroGroups(t *testing.T) {
	t.Parallel()

	p := New(0, 4, 4, 32)
	require.Zero(t, p.ActiveCores)
	calls := 0
	p.Walk(func(Lane, uint64) bool { calls++; return true })
	require.Zero(t, calls)
}

func TestWarpRangesAreContiguous(t *testing.T) {
	t.Parallel()

	p := New(5000, 2, 4, 16)
	for c := uint32(0); c < p.ActiveCores; c++ {
		cp := p.Core(c)
		next := cp.Offset
		for w := uint32(0); w < cp.SpawnWarps; w++ {
			first, tk := cp.Warp(w)
			require.Equal(t, next, first, "core %d warp %d", c, w)
			next = first + tk*uint64(cp.Threads)
		}
		require.Equal(t, cp.RemainderOffset(), next)
	}
}

func TestCoordinateRoundTrip(t *testing.T) {
	t.Parallel()

	for _, dims := range [][3]uint64{{1, 1, 9}, {3, 1, 4}, {7, 5, 3}, {16, 16, 2}} {
		x, y, z := dims[0], dims[1], dims[2]
		for id := uint64(0); id < x*y*z; id++ {
			i, j, k := Decode(id, x, y)
			require.Less(t, i, x)
			require.Less(t, j, y)
			require.Less(t, k, z)
			require.Equal(t, id, Encode(i, j, k, x, y), fmt.Sprintf("dims=%v", dims))
		}
	}
}
