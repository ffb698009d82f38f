package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leaderboard-system/internal/broadcast"
	"leaderboard-system/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const eventTypeLeaderboard = "leaderboard"

// WSEvent is the document stored in the ws_events collection.
type WSEvent struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	OriginMachineID string             `bson:"originMachineId"`
	EventType       string             `bson:"eventType"`
	Region          models.Region      `bson:"region"`
	Mode            models.Mode        `bson:"mode"`
	Message         []byte             `bson:"message"`
	CreatedAt       time.Time          `bson:"createdAt"`
}

// DeliverFunc hands an encoded broadcast to the local subscribers of a
// partition.
type DeliverFunc func(p models.Partition, message []byte)

// EventBus relays leaderboard broadcasts between server instances through a
// capped-lifetime Mongo collection watched with a change stream. Events
// originating on this instance are skipped since they were delivered locally.
type EventBus struct {
	machineID    string
	collection   *mongo.Collection
	deliverLocal DeliverFunc
	logger       zerolog.Logger
	retryDelay   time.Duration

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

// New creates an EventBus. If collection is nil, the EventBus runs in
// local-only mode (Send is a no-op, no watcher runs).
func New(collection *mongo.Collection, deliverLocal DeliverFunc, logger zerolog.Logger) *EventBus {
	return &EventBus{
		machineID:    uuid.NewString(),
		collection:   collection,
		deliverLocal: deliverLocal,
		logger:       logger,
		retryDelay:   2 * time.Second,
	}
}

func (eb *EventBus) MachineID() string {
	return eb.machineID
}

func (eb *EventBus) Name() string { return "eventbus" }

// Start begins the change stream watcher in a background goroutine.
func (eb *EventBus) Start() {
	if eb.collection == nil {
		eb.logger.Info().Msg("no collection configured, running in local-only mode")
		return
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb.cancelFunc = cancel
	eb.running = true
	eb.wg.Add(1)

	go eb.watchLoop(ctx)
	eb.logger.Info().Str("machineId", eb.machineID).Msg("started")
}

// Stop cancels the watcher and waits for it to exit.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if !eb.running {
		return
	}
	eb.running = false
	if eb.cancelFunc != nil {
		eb.cancelFunc()
	}
	eb.wg.Wait()
	eb.logger.Info().Msg("stopped")
}

// Send inserts the broadcast into ws_events for the other instances.
func (eb *EventBus) Send(ctx context.Context, msg broadcast.Message) error {
	if eb.collection == nil {
		return nil
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	doc := WSEvent{
		OriginMachineID: eb.machineID,
		EventType:       eventTypeLeaderboard,
		Region:          msg.Data.Region,
		Mode:            msg.Data.Mode,
		Message:         data,
		CreatedAt:       time.Now(),
	}
	if _, err := eb.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("publish to ws_events: %w", err)
	}
	return nil
}

func (eb *EventBus) watchLoop(ctx context.Context) {
	defer eb.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		err := eb.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		eb.logger.Warn().Err(err).Dur("retryIn", eb.retryDelay).Msg("change stream error, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(eb.retryDelay):
		}
	}
}

func (eb *EventBus) watch(ctx context.Context) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: "insert"},
			{Key: "fullDocument.originMachineId", Value: bson.D{{Key: "$ne", Value: eb.machineID}}},
		}}},
	}
	cs, err := eb.collection.Watch(ctx, pipeline, options.ChangeStream())
	if err != nil {
		return err
	}
	defer cs.Close(ctx)

	for cs.Next(ctx) {
		var changeDoc struct {
			FullDocument WSEvent `bson:"fullDocument"`
		}
		if err := cs.Decode(&changeDoc); err != nil {
			eb.logger.Warn().Err(err).Msg("failed to decode change event")
			continue
		}
		eb.dispatch(changeDoc.FullDocument)
	}

	return cs.Err()
}

func (eb *EventBus) dispatch(event WSEvent) {
	if event.OriginMachineID == eb.machineID {
		return
	}
	switch event.EventType {
	case eventTypeLeaderboard:
		if eb.deliverLocal != nil {
			eb.deliverLocal(models.Partition{Region: event.Region, Mode: event.Mode}, event.Message)
		}
	default:
		eb.logger.Warn().Str("eventType", event.EventType).Msg("unknown event type")
	}
}
