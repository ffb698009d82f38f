package ranking

import (
	"context"
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// MemoryStore keeps every ranked set in process memory. It is safe for
// concurrent use; each method holds the store lock for its own duration.
type MemoryStore struct {
	mu         sync.Mutex
	partitions map[string]*memoryPartition
}

// memoryPartition is one ranked set: a B-tree in rank order plus the current
// entry of each member, needed to find the old position on replace.
type memoryPartition struct {
	tree    *btree.BTreeG[Entry]
	members map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[string]*memoryPartition)}
}

func lessEntries(a, b Entry) bool {
	return compareEntries(a, b) < 0
}

func newMemoryPartition() *memoryPartition {
	return &memoryPartition{
		// The store mutex already serializes access.
		tree:    btree.NewBTreeGOptions(lessEntries, btree.Options{NoLocks: true}),
		members: make(map[string]Entry),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, key, member string, score int64, submittedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[key]
	if !ok {
		p = newMemoryPartition()
		s.partitions[key] = p
	}
	p.remove(member)
	e := Entry{Member: member, Score: score, SubmittedAt: normalizeTime(submittedAt)}
	p.tree.Set(e)
	p.members[member] = e
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[key]
	if !ok {
		return nil
	}
	p.remove(member)
	if p.tree.Len() == 0 {
		delete(s.partitions, key)
	}
	return nil
}

func (s *MemoryStore) Trim(_ context.Context, key string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 {
		n = 0
	}
	p, ok := s.partitions[key]
	if !ok {
		return nil
	}
	for p.tree.Len() > n {
		worst, ok := p.tree.PopMax()
		if !ok {
			break
		}
		delete(p.members, worst.Member)
	}
	if p.tree.Len() == 0 {
		delete(s.partitions, key)
	}
	return nil
}

func (s *MemoryStore) RangeAscending(_ context.Context, key string, start, end int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[key]
	if !ok {
		return []Entry{}, nil
	}
	start, end = window(start, end, p.tree.Len())
	entries := make([]Entry, 0, end-start)
	i := 0
	p.tree.Scan(func(e Entry) bool {
		if i >= end {
			return false
		}
		if i >= start {
			entries = append(entries, e)
		}
		i++
		return true
	})
	return ranked(entries, start), nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.partitions[key]
	return ok, nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, key)
	return nil
}

func (p *memoryPartition) remove(member string) {
	old, ok := p.members[member]
	if !ok {
		return
	}
	p.tree.Delete(old)
	delete(p.members, member)
}
