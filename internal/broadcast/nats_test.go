package broadcast

import (
	"context"
	"testing"
	"time"

	"leaderboard-system/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	natsmodule "github.com/testcontainers/testcontainers-go/modules/nats"
)

func TestNATSPublisher_Delivers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping NATS integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := natsmodule.Run(ctx, "nats:2.10-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	nc, err := ConnectNATS(url, zerolog.Nop())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("leaderboard.updates.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub := NewNATSPublisher(nc, "leaderboard.updates")
	require.NoError(t, pub.Send(ctx, Message{Event: models.EventLeaderboardUpdate, Data: europeSolo}))

	var msg *nats.Msg
	msg, err = sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "leaderboard.updates.Europe.Solo", msg.Subject)
	assert.NotEmpty(t, msg.Header.Get("Nats-Msg-Id"))

	got, err := Decode(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, europeSolo, got.Data)
}
