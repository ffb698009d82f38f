package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leaderboard-system/internal/models"
	"leaderboard-system/internal/services"
	"leaderboard-system/internal/store"
)

type fakeLeaderboard struct {
	mu        sync.Mutex
	submitted []services.SubmitRunInput
	lastLimit int

	SubmitFunc func(in services.SubmitRunInput) ([]models.RankEntry, error)
	UpdateFunc func(id string, timeMs int64) ([]models.RankEntry, error)
	DeleteFunc func(id string) ([]models.RankEntry, error)
	TopFunc    func(p models.Partition, limit int) ([]models.RankEntry, error)
	seeded     int
}

func (f *fakeLeaderboard) SubmitRun(_ context.Context, in services.SubmitRunInput) ([]models.RankEntry, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, in)
	f.mu.Unlock()
	if f.SubmitFunc != nil {
		return f.SubmitFunc(in)
	}
	return []models.RankEntry{{PlayerID: in.PlayerID, TimeMs: in.TimeMs, Rank: 1}}, nil
}

func (f *fakeLeaderboard) UpdateRun(_ context.Context, id string, timeMs int64) ([]models.RankEntry, error) {
	if f.UpdateFunc != nil {
		return f.UpdateFunc(id, timeMs)
	}
	return nil, fmt.Errorf("%w: run %s", services.ErrNotFound, id)
}

func (f *fakeLeaderboard) DeleteRun(_ context.Context, id string) ([]models.RankEntry, error) {
	if f.DeleteFunc != nil {
		return f.DeleteFunc(id)
	}
	return nil, fmt.Errorf("%w: run %s", services.ErrNotFound, id)
}

func (f *fakeLeaderboard) FetchTop(_ context.Context, p models.Partition, limit int) ([]models.RankEntry, error) {
	f.mu.Lock()
	f.lastLimit = limit
	f.mu.Unlock()
	if f.TopFunc != nil {
		return f.TopFunc(p, limit)
	}
	return []models.RankEntry{}, nil
}

func (f *fakeLeaderboard) SeedRandomRuns(_ context.Context, players []models.Player) (int, error) {
	f.seeded = len(players)
	return len(players), nil
}

func (f *fakeLeaderboard) submissions() []services.SubmitRunInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]services.SubmitRunInput(nil), f.submitted...)
}

type fakePlayers struct {
	players map[string]*models.Player
	deleted []string
}

func newFakePlayers(ps ...models.Player) *fakePlayers {
	f := &fakePlayers{players: map[string]*models.Player{}}
	for i := range ps {
		p := ps[i]
		f.players[p.ID] = &p
	}
	return f
}

func (f *fakePlayers) Create(_ context.Context, in services.PlayerInput) (*models.Player, error) {
	if in.Name == "" || in.Region == "" {
		return nil, fmt.Errorf("Create: %w", &services.ValidationError{Message: "name and region are required"})
	}
	p := &models.Player{ID: fmt.Sprintf("p%d", len(f.players)+1), Name: in.Name, Region: models.Region(in.Region)}
	f.players[p.ID] = p
	return p, nil
}

func (f *fakePlayers) CreateMany(ctx context.Context, inputs []services.PlayerInput) ([]*models.Player, error) {
	var out []*models.Player
	for _, in := range inputs {
		p, err := f.Create(ctx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePlayers) Get(_ context.Context, id string) (*models.Player, error) {
	p, ok := f.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: player %s", services.ErrNotFound, id)
	}
	return p, nil
}

func (f *fakePlayers) List(_ context.Context, region, name, id string, limit int) ([]models.Player, error) {
	var out []models.Player
	for _, p := range f.players {
		if region != "" && string(p.Region) != region {
			continue
		}
		out = append(out, *p)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePlayers) All(ctx context.Context) ([]models.Player, error) {
	return f.List(ctx, "", "", "", len(f.players))
}

func (f *fakePlayers) Update(_ context.Context, id string, in services.PlayerInput) (*models.Player, error) {
	p, ok := f.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: player %s", services.ErrNotFound, id)
	}
	if in.Name != "" {
		p.Name = in.Name
	}
	return p, nil
}

func (f *fakePlayers) Delete(_ context.Context, id string) error {
	if _, ok := f.players[id]; !ok {
		return fmt.Errorf("%w: player %s", services.ErrNotFound, id)
	}
	delete(f.players, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeSnapshots struct {
	snaps map[string]*models.Snapshot
	err   error
}

func snapshotKey(date time.Time, p models.Partition) string {
	return models.UTCDay(date).Format("2006-01-02") + "|" + p.String()
}

func (f *fakeSnapshots) Find(_ context.Context, date time.Time, p models.Partition) (*models.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.snaps[snapshotKey(date, p)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}
