package ranking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "leaderboard:Europe:Solo"

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type row struct {
	Member string
	Score  int64
	Rank   int
}

func rows(entries []Entry) []row {
	out := make([]row, len(entries))
	for i, e := range entries {
		out[i] = row{Member: e.Member, Score: e.Score, Rank: e.Rank}
	}
	return out
}

// runStoreSuite checks the behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("upsert replaces existing member", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, testKey, "A", 500, t0))
		require.NoError(t, s.Upsert(ctx, testKey, "A", 300, t0.Add(time.Second)))

		got, err := s.RangeAscending(ctx, testKey, 0, 50)
		require.NoError(t, err)
		assert.Equal(t, []row{{"A", 300, 1}}, rows(got))
	})

	t.Run("upsert can move a member to a worse score", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, testKey, "A", 100, t0))
		require.NoError(t, s.Upsert(ctx, testKey, "B", 200, t0))
		require.NoError(t, s.Upsert(ctx, testKey, "A", 300, t0.Add(time.Second)))

		got, err := s.RangeAscending(ctx, testKey, 0, 50)
		require.NoError(t, err)
		assert.Equal(t, []row{{"B", 200, 1}, {"A", 300, 2}}, rows(got))
	})

	t.Run("submissions within one millisecond tie on member id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, testKey, "B", 1000, t0.Add(100*time.Microsecond)))
		require.NoError(t, s.Upsert(ctx, testKey, "A", 1000, t0.Add(900*time.Microsecond)))

		got, err := s.RangeAscending(ctx, testKey, 0, 50)
		require.NoError(t, err)
		assert.Equal(t, []row{{"A", 1000, 1}, {"B", 1000, 2}}, rows(got))
	})

	t.Run("trim drops the highest score", func(t *testing.T) {
		s := newStore(t)
		const n = 5
		for i := 0; i <= n; i++ {
			member := fmt.Sprintf("P%d", i)
			require.NoError(t, s.Upsert(ctx, testKey, member, int64(1000+i*100), t0.Add(time.Duration(i)*time.Second)))
		}
		require.NoError(t, s.Trim(ctx, testKey, n))

		got, err := s.RangeAscending(ctx, testKey, 0, 100)
		require.NoError(t, err)
		require.Len(t, got, n)
		for _, e := range got {
			assert.NotEqual(t, "P5", e.Member)
		}
	})

	t.Run("trim breaks ties by later submission then member id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, testKey, "early", 900, t0))
		require.NoError(t, s.Upsert(ctx, testKey, "late", 900, t0.Add(time.Minute)))
		require.NoError(t, s.Upsert(ctx, testKey, "best", 100, t0.Add(2*time.Minute)))
		require.NoError(t, s.Trim(ctx, testKey, 2))

		got, err := s.RangeAscending(ctx, testKey, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []row{{"best", 100, 1}, {"early", 900, 2}}, rows(got))

		require.NoError(t, s.Upsert(ctx, testKey, "b", 900, t0))
		require.NoError(t, s.Upsert(ctx, testKey, "a", 900, t0))
		require.NoError(t, s.Trim(ctx, testKey, 3))

		got, err = s.RangeAscending(ctx, testKey, 0, 10)
		require.NoError(t, err)
		want := []row{{"best", 100, 1}, {"a", 900, 2}, {"b", 900, 3}}
		if diff := cmp.Diff(want, rows(got)); diff != "" {
			t.Errorf("ranking mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("trim to a larger bound is a no-op", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, testKey, "A", 1, t0))
		require.NoError(t, s.Trim(ctx, testKey, 50))
		exists, err := s.Exists(ctx, testKey)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("range returns a window with absolute ranks", func(t *testing.T) {
		s := newStore(t)
		for i, m := range []string{"A", "B", "C", "D"} {
			require.NoError(t, s.Upsert(ctx, testKey, m, int64((i+1)*10), t0))
		}
		got, err := s.RangeAscending(ctx, testKey, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, []row{{"B", 20, 2}, {"C", 30, 3}}, rows(got))

		got, err = s.RangeAscending(ctx, testKey, 2, 100)
		require.NoError(t, err)
		assert.Equal(t, []row{{"C", 30, 3}, {"D", 40, 4}}, rows(got))
	})

	t.Run("remove is a no-op for absent members", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Remove(ctx, testKey, "ghost"))
		require.NoError(t, s.Upsert(ctx, testKey, "A", 10, t0))
		require.NoError(t, s.Upsert(ctx, testKey, "B", 20, t0))
		require.NoError(t, s.Remove(ctx, testKey, "ghost"))
		require.NoError(t, s.Remove(ctx, testKey, "A"))

		got, err := s.RangeAscending(ctx, testKey, 0, 50)
		require.NoError(t, err)
		assert.Equal(t, []row{{"B", 20, 1}}, rows(got))
	})

	t.Run("exists and clear", func(t *testing.T) {
		s := newStore(t)
		exists, err := s.Exists(ctx, testKey)
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, s.Upsert(ctx, testKey, "A", 10, t0))
		exists, err = s.Exists(ctx, testKey)
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, s.Clear(ctx, testKey))
		exists, err = s.Exists(ctx, testKey)
		require.NoError(t, err)
		assert.False(t, exists)

		got, err := s.RangeAscending(ctx, testKey, 0, 50)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("removing the last member drops the partition", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, testKey, "A", 10, t0))
		require.NoError(t, s.Remove(ctx, testKey, "A"))
		exists, err := s.Exists(ctx, testKey)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("partitions are independent", func(t *testing.T) {
		s := newStore(t)
		other := "leaderboard:Asia:Team Relay"
		require.NoError(t, s.Upsert(ctx, testKey, "A", 10, t0))
		require.NoError(t, s.Upsert(ctx, other, "A", 99, t0))
		require.NoError(t, s.Clear(ctx, testKey))

		got, err := s.RangeAscending(ctx, other, 0, 50)
		require.NoError(t, err)
		assert.Equal(t, []row{{"A", 99, 1}}, rows(got))
	})
}
