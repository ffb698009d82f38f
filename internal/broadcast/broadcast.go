// Package broadcast delivers leaderboardUpdate events to observers. Delivery
// is at-most-once: nothing is acknowledged, retried or replayed.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"leaderboard-system/internal/models"
	"leaderboard-system/internal/observability"

	"github.com/rs/zerolog"
)

// Publisher is what the leaderboard service sees. Emit never fails from the
// caller's point of view.
type Publisher interface {
	Emit(ctx context.Context, event string, payload models.LeaderboardUpdate)
}

// Sink is one delivery channel behind a Fanout.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Message is the envelope written to every sink.
type Message struct {
	Event string                   `json:"event"`
	Data  models.LeaderboardUpdate `json:"data"`
}

func (m Message) Partition() models.Partition {
	return models.Partition{Region: m.Data.Region, Mode: m.Data.Mode}
}

func (m Message) Encode() ([]byte, error) {
	if m.Data.TopRuns == nil {
		m.Data.TopRuns = []models.RankEntry{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Event, err)
	}
	return b, nil
}

func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode broadcast: %w", err)
	}
	return m, nil
}

// Fanout hands every event to each sink in order. A failing sink is logged
// and counted and does not stop the others.
type Fanout struct {
	sinks   []Sink
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewFanout(logger zerolog.Logger, metrics *observability.Metrics, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: logger, metrics: metrics}
}

func (f *Fanout) Emit(ctx context.Context, event string, payload models.LeaderboardUpdate) {
	msg := Message{Event: event, Data: payload}
	for _, sink := range f.sinks {
		if err := sink.Send(ctx, msg); err != nil {
			f.logger.Warn().Err(err).
				Str("sink", sink.Name()).
				Str("region", string(payload.Region)).
				Str("mode", string(payload.Mode)).
				Msg("broadcast not delivered")
			if f.metrics != nil {
				f.metrics.BroadcastFailures.WithLabelValues(sink.Name()).Inc()
			}
			continue
		}
		if f.metrics != nil {
			f.metrics.BroadcastsEmitted.WithLabelValues(sink.Name()).Inc()
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, string, models.LeaderboardUpdate) {}
