package services

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"leaderboard-system/internal/models"
	"leaderboard-system/internal/ranking"
	"leaderboard-system/internal/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeRunLog is an in-memory RunLog. Any Func field set overrides the
// default behaviour of that method.
type fakeRunLog struct {
	mu   sync.Mutex
	runs map[primitive.ObjectID]models.Run

	CreateFunc     func(ctx context.Context, run *models.Run) error
	UpdateTimeFunc func(ctx context.Context, id string, timeMs int64) error
	TopFunc        func(ctx context.Context, p models.Partition, from, to time.Time, limit int) ([]models.Run, error)
}

func newFakeRunLog() *fakeRunLog {
	return &fakeRunLog{runs: make(map[primitive.ObjectID]models.Run)}
}

func (f *fakeRunLog) Create(ctx context.Context, run *models.Run) error {
	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, run)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if run.ID.IsZero() {
		run.ID = primitive.NewObjectID()
	}
	// BSON datetimes hold milliseconds.
	stored := *run
	stored.CreatedAt = stored.CreatedAt.Truncate(time.Millisecond)
	f.runs[run.ID] = stored
	return nil
}

func (f *fakeRunLog) FindByID(_ context.Context, id string) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	run, ok := f.runs[oid]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &run, nil
}

func (f *fakeRunLog) UpdateTime(ctx context.Context, id string, timeMs int64) error {
	if f.UpdateTimeFunc != nil {
		return f.UpdateTimeFunc(ctx, id, timeMs)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	oid, _ := primitive.ObjectIDFromHex(id)
	run, ok := f.runs[oid]
	if !ok {
		return store.ErrNotFound
	}
	run.TimeMs = timeMs
	f.runs[oid] = run
	return nil
}

func (f *fakeRunLog) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	oid, _ := primitive.ObjectIDFromHex(id)
	if _, ok := f.runs[oid]; !ok {
		return store.ErrNotFound
	}
	delete(f.runs, oid)
	return nil
}

func (f *fakeRunLog) TopInWindow(ctx context.Context, p models.Partition, from, to time.Time, limit int) ([]models.Run, error) {
	if f.TopFunc != nil {
		return f.TopFunc(ctx, p, from, to, limit)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Run
	for _, r := range f.runs {
		if r.Partition() == p && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b models.Run) int {
		if c := cmp.Compare(a.TimeMs, b.TimeMs); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.PlayerID, b.PlayerID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRunLog) ListByPlayer(_ context.Context, playerID string) ([]models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Run
	for _, r := range f.runs {
		if r.PlayerID == playerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRunLog) DeleteByPlayer(_ context.Context, playerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.runs {
		if r.PlayerID == playerID {
			delete(f.runs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeRunLog) snapshot() map[primitive.ObjectID]models.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[primitive.ObjectID]models.Run, len(f.runs))
	for k, v := range f.runs {
		out[k] = v
	}
	return out
}

// failingCache wraps a ranking.Store and fails the selected operations.
type failingCache struct {
	ranking.Store
	failUpsert bool
	failRange  bool
	failClear  bool
	err        error
}

func (c *failingCache) Upsert(ctx context.Context, key, member string, score int64, at time.Time) error {
	if c.failUpsert {
		return c.err
	}
	return c.Store.Upsert(ctx, key, member, score, at)
}

func (c *failingCache) RangeAscending(ctx context.Context, key string, start, end int) ([]ranking.Entry, error) {
	if c.failRange {
		return nil, c.err
	}
	return c.Store.RangeAscending(ctx, key, start, end)
}

func (c *failingCache) Clear(ctx context.Context, key string) error {
	if c.failClear {
		return c.err
	}
	return c.Store.Clear(ctx, key)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	got    []models.LeaderboardUpdate
}

func (p *recordingPublisher) Emit(_ context.Context, event string, payload models.LeaderboardUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.got = append(p.got, payload)
}

func (p *recordingPublisher) last() models.LeaderboardUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.got[len(p.got)-1]
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

type fakeSnapshots struct {
	mu     sync.Mutex
	stored map[string]models.Snapshot
	// failFor makes Upsert fail for the listed partitions.
	failFor map[models.Partition]error
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{
		stored:  make(map[string]models.Snapshot),
		failFor: make(map[models.Partition]error),
	}
}

func snapshotKey(date time.Time, p models.Partition) string {
	return date.Format("2006-01-02") + "|" + p.String()
}

func (f *fakeSnapshots) Upsert(_ context.Context, snap *models.Snapshot) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := models.Partition{Region: snap.Region, Mode: snap.Mode}
	if err := f.failFor[p]; err != nil {
		return false, err
	}
	key := snapshotKey(snap.Date, p)
	if _, ok := f.stored[key]; ok {
		return false, nil
	}
	f.stored[key] = *snap
	return true, nil
}

func (f *fakeSnapshots) get(date time.Time, p models.Partition) (models.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stored[snapshotKey(date, p)]
	return s, ok
}

type fakeLocker struct {
	holder string
	err    error
	trace  []string
}

func (l *fakeLocker) TryAcquire(_ context.Context, name, owner string, _ time.Duration) (bool, error) {
	l.trace = append(l.trace, "acquire:"+name)
	if l.err != nil {
		return false, l.err
	}
	if l.holder != "" && l.holder != owner {
		return false, nil
	}
	l.holder = owner
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, name, owner string) error {
	l.trace = append(l.trace, "release:"+name)
	if l.holder == owner {
		l.holder = ""
	}
	return nil
}

type auditRecord struct {
	action  string
	subject string
}

type recordingAuditor struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *recordingAuditor) Record(_ context.Context, action, subject string, _ map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{action, subject})
}

type fakePlayers struct {
	mu      sync.Mutex
	players map[string]models.Player
}

func newFakePlayers() *fakePlayers {
	return &fakePlayers{players: make(map[string]models.Player)}
}

func (f *fakePlayers) Create(_ context.Context, p *models.Player) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = primitive.NewObjectID().Hex()
	}
	f.players[p.ID] = *p
	return nil
}

func (f *fakePlayers) CreateMany(ctx context.Context, players []*models.Player) error {
	for _, p := range players {
		if err := f.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakePlayers) Get(_ context.Context, id string) (*models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakePlayers) Find(_ context.Context, filter store.PlayerFilter) ([]models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Player{}
	for _, p := range f.players {
		if filter.Region != "" && p.Region != filter.Region {
			continue
		}
		if filter.ID != "" && p.ID != filter.ID {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b models.Player) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (f *fakePlayers) Update(_ context.Context, id string, name *string, region *models.Region) (*models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if name != nil {
		p.Name = *name
	}
	if region != nil {
		p.Region = *region
	}
	f.players[id] = p
	return &p, nil
}

func (f *fakePlayers) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.players[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.players, id)
	return nil
}
