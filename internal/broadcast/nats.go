package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher publishes updates with core NATS, which matches the
// fire-and-forget contract. Subjects follow <prefix>.<region>.<mode>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// ConnectNATS dials url and keeps reconnecting forever in the background.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("leaderboard-system"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Send(_ context.Context, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	out := &nats.Msg{
		Subject: p.Subject(msg),
		Data:    data,
		Header:  nats.Header{},
	}
	out.Header.Set("Nats-Msg-Id", uuid.NewString())
	out.Header.Set("Event", msg.Event)
	if err := p.conn.PublishMsg(out); err != nil {
		return fmt.Errorf("publish %s: %w", out.Subject, err)
	}
	return nil
}

// Subject returns the subject an update is published on.
func (p *NATSPublisher) Subject(msg Message) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(string(msg.Data.Region)), subjectToken(string(msg.Data.Mode)))
}

var subjectReplacer = strings.NewReplacer(" ", "_", ".", "_", "*", "_", ">", "_")

func subjectToken(s string) string {
	return subjectReplacer.Replace(s)
}
