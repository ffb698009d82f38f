package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"leaderboard-system/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PlayerStore struct {
	coll *mongo.Collection
}

func NewPlayerStore(coll *mongo.Collection) *PlayerStore {
	return &PlayerStore{coll: coll}
}

// PlayerFilter narrows Find. Name matches case-insensitively as a substring.
// A zero Limit returns every match.
type PlayerFilter struct {
	ID     string
	Name   string
	Region models.Region
	Limit  int
}

func prepare(p *models.Player, now time.Time) {
	if p.ID == "" {
		p.ID = primitive.NewObjectID().Hex()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
}

func (s *PlayerStore) Create(ctx context.Context, p *models.Player) error {
	prepare(p, time.Now().UTC())
	if _, err := s.coll.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (s *PlayerStore) CreateMany(ctx context.Context, players []*models.Player) error {
	if len(players) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, len(players))
	for i, p := range players {
		prepare(p, now)
		docs[i] = p
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert players: %w", err)
	}
	return nil
}

func (s *PlayerStore) Get(ctx context.Context, id string) (*models.Player, error) {
	var p models.Player
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find player %s: %w", id, err)
	}
	return &p, nil
}

func (s *PlayerStore) Find(ctx context.Context, f PlayerFilter) ([]models.Player, error) {
	filter := bson.M{}
	if f.ID != "" {
		filter["_id"] = f.ID
	}
	if f.Region != "" {
		filter["region"] = f.Region
	}
	if f.Name != "" {
		filter["name"] = primitive.Regex{Pattern: regexp.QuoteMeta(f.Name), Options: "i"}
	}

	opts := options.Find().SetSort(bson.M{"createdAt": 1})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer cursor.Close(ctx)

	players := []models.Player{}
	if err := cursor.All(ctx, &players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	return players, nil
}

// Update changes the name and/or region of a player and returns the result.
func (s *PlayerStore) Update(ctx context.Context, id string, name *string, region *models.Region) (*models.Player, error) {
	set := bson.M{}
	if name != nil {
		set["name"] = *name
	}
	if region != nil {
		set["region"] = *region
	}
	if len(set) == 0 {
		return s.Get(ctx, id)
	}

	var p models.Player
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update player %s: %w", id, err)
	}
	return &p, nil
}

func (s *PlayerStore) Delete(ctx context.Context, id string) error {
	result, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete player %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PlayerStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("delete players: %w", err)
	}
	return result.DeletedCount, nil
}
