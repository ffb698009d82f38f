// Package ranking holds the bounded ranked sets backing the live
// leaderboards. Each partition key maps to a set of unique members ordered
// ascending by score (lower is better).
package ranking

import (
	"cmp"
	"context"
	"time"
)

// Entry is one member of a ranked set.
type Entry struct {
	Member      string
	Score       int64
	SubmittedAt time.Time
	// Rank is 1-indexed and only set on entries returned by RangeAscending.
	Rank int
}

// Store is a collection of ranked sets addressed by key. Each method is
// atomic on its own; callers composing several calls get no isolation
// between them.
type Store interface {
	// Upsert inserts member or replaces its score and submission time.
	Upsert(ctx context.Context, key, member string, score int64, submittedAt time.Time) error
	// Remove deletes member. Removing an absent member is a no-op.
	Remove(ctx context.Context, key, member string) error
	// Trim drops the worst entries until at most n remain.
	Trim(ctx context.Context, key string, n int) error
	// RangeAscending returns entries [start, end) in rank order.
	RangeAscending(ctx context.Context, key string, start, end int) ([]Entry, error)
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, key string) error
}

// compareEntries orders by score, then earlier submission, then member id.
func compareEntries(a, b Entry) int {
	if c := cmp.Compare(a.Score, b.Score); c != 0 {
		return c
	}
	if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Member, b.Member)
}

// normalizeTime drops precision below a millisecond, the resolution of a
// BSON datetime, so cached ties break the same way as runs read back from
// the run log.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// window clamps [start, end) to a slice of length n.
func window(start, end, n int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > end {
		start = end
	}
	return start, end
}

func ranked(entries []Entry, start int) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Rank = start + i + 1
		out[i] = e
	}
	return out
}
