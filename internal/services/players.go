package services

import (
	"context"

	"leaderboard-system/internal/models"
	"leaderboard-system/internal/store"
)

// PlayerRepository is the player registry.
type PlayerRepository interface {
	Create(ctx context.Context, p *models.Player) error
	CreateMany(ctx context.Context, players []*models.Player) error
	Get(ctx context.Context, id string) (*models.Player, error)
	Find(ctx context.Context, f store.PlayerFilter) ([]models.Player, error)
	Update(ctx context.Context, id string, name *string, region *models.Region) (*models.Player, error)
	Delete(ctx context.Context, id string) error
}

// PlayerInput is a player creation or update request.
type PlayerInput struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

func (in PlayerInput) validate() (*models.Player, error) {
	if in.Name == "" || in.Region == "" {
		return nil, validationError("name and region are required")
	}
	region, ok := models.ParseRegion(in.Region)
	if !ok {
		return nil, validationError("invalid region %q", in.Region)
	}
	return &models.Player{Name: in.Name, Region: region}, nil
}

// PlayerService manages the player registry. Deleting a player cascades to
// their runs and cached rankings.
type PlayerService struct {
	players     PlayerRepository
	leaderboard *LeaderboardService
	audit       Auditor
}

func NewPlayerService(players PlayerRepository, leaderboard *LeaderboardService, auditor Auditor) *PlayerService {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &PlayerService{players: players, leaderboard: leaderboard, audit: auditor}
}

func (s *PlayerService) Create(ctx context.Context, in PlayerInput) (*models.Player, error) {
	p, err := in.validate()
	if err != nil {
		return nil, err
	}
	if err := s.players.Create(ctx, p); err != nil {
		return nil, storageError("create player", err)
	}
	return p, nil
}

// CreateMany validates every input before inserting any.
func (s *PlayerService) CreateMany(ctx context.Context, inputs []PlayerInput) ([]*models.Player, error) {
	if len(inputs) == 0 {
		return nil, validationError("at least one player is required")
	}
	players := make([]*models.Player, len(inputs))
	for i, in := range inputs {
		p, err := in.validate()
		if err != nil {
			return nil, err
		}
		players[i] = p
	}
	if err := s.players.CreateMany(ctx, players); err != nil {
		return nil, storageError("create players", err)
	}
	return players, nil
}

func (s *PlayerService) Get(ctx context.Context, id string) (*models.Player, error) {
	p, err := s.players.Get(ctx, id)
	if err != nil {
		return nil, storageError("player "+id, err)
	}
	return p, nil
}

// List filters players. Region, when set, must be a known region.
func (s *PlayerService) List(ctx context.Context, region, name, id string, limit int) ([]models.Player, error) {
	f := store.PlayerFilter{ID: id, Name: name, Limit: limit}
	if region != "" {
		r, ok := models.ParseRegion(region)
		if !ok {
			return nil, validationError("invalid region %q", region)
		}
		f.Region = r
	}
	players, err := s.players.Find(ctx, f)
	if err != nil {
		return nil, storageError("list players", err)
	}
	return players, nil
}

// All returns every registered player.
func (s *PlayerService) All(ctx context.Context) ([]models.Player, error) {
	return s.List(ctx, "", "", "", 0)
}

// Update renames a player or moves them to another region. Existing runs
// keep the region they were submitted in.
func (s *PlayerService) Update(ctx context.Context, id string, in PlayerInput) (*models.Player, error) {
	if in.Name == "" && in.Region == "" {
		return nil, validationError("at least one field to update is required")
	}
	var name *string
	if in.Name != "" {
		name = &in.Name
	}
	var region *models.Region
	if in.Region != "" {
		r, ok := models.ParseRegion(in.Region)
		if !ok {
			return nil, validationError("invalid region %q", in.Region)
		}
		region = &r
	}
	p, err := s.players.Update(ctx, id, name, region)
	if err != nil {
		return nil, storageError("update player "+id, err)
	}
	return p, nil
}

// Delete removes the player, their runs and their cached rankings.
func (s *PlayerService) Delete(ctx context.Context, id string) error {
	if _, err := s.players.Get(ctx, id); err != nil {
		return storageError("player "+id, err)
	}
	deleted, err := s.leaderboard.DeletePlayerRuns(ctx, id)
	if err != nil {
		return err
	}
	if err := s.players.Delete(ctx, id); err != nil {
		return storageError("delete player "+id, err)
	}
	s.audit.Record(ctx, AuditPlayerDeleted, id, map[string]interface{}{"runsDeleted": deleted})
	return nil
}
