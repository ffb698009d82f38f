package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Event is one administrative change. Entries expire after 90 days.
type Event struct {
	ID        primitive.ObjectID     `bson:"_id,omitempty"`
	Action    string                 `bson:"action"`
	Subject   string                 `bson:"subject"`
	RequestID string                 `bson:"requestId,omitempty"`
	IP        string                 `bson:"ip,omitempty"`
	UserAgent string                 `bson:"userAgent,omitempty"`
	Details   map[string]interface{} `bson:"details,omitempty"`
	CreatedAt time.Time              `bson:"createdAt"`
}

// RequestInfo identifies the HTTP caller behind a change.
type RequestInfo struct {
	RequestID string
	IP        string
	UserAgent string
}

type requestInfoKey struct{}

func WithRequest(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func requestFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// Logger writes audit events to the audit_log collection.
type Logger struct {
	collection *mongo.Collection
	logger     zerolog.Logger
	timeout    time.Duration
}

func NewLogger(collection *mongo.Collection, logger zerolog.Logger) *Logger {
	return &Logger{collection: collection, logger: logger, timeout: 5 * time.Second}
}

// Record writes an audit event (fire-and-forget). Failures are only logged.
func (l *Logger) Record(ctx context.Context, action, subject string, details map[string]interface{}) {
	info := requestFrom(ctx)
	event := Event{
		Action:    action,
		Subject:   subject,
		RequestID: info.RequestID,
		IP:        info.IP,
		UserAgent: info.UserAgent,
		Details:   details,
		CreatedAt: time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if _, err := l.collection.InsertOne(ctx, event); err != nil {
			l.logger.Warn().Err(err).Str("action", action).Str("subject", subject).Msg("audit log write failed")
		}
	}()
}
