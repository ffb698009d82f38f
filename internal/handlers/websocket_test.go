package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"leaderboard-system/internal/broadcast"
	"leaderboard-system/internal/models"
	"leaderboard-system/internal/observability"
	"leaderboard-system/internal/services"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *fakeLeaderboard, *httptest.Server) {
	t.Helper()
	hub := NewHub(observability.NewMetrics(), zerolog.Nop())
	go hub.Run()
	t.Cleanup(hub.Stop)

	lb := &fakeLeaderboard{}
	router := mux.NewRouter()
	router.HandleFunc("/ws/leaderboard", NewWebSocketHandler(hub, lb, zerolog.Nop()).HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, lb, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/leaderboard" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func update(p models.Partition, player string) broadcast.Message {
	return broadcast.Message{
		Event: models.EventLeaderboardUpdate,
		Data: models.LeaderboardUpdate{
			Region:  p.Region,
			Mode:    p.Mode,
			TopRuns: []models.RankEntry{{PlayerID: player, TimeMs: 1000, Rank: 1}},
		},
	}
}

func TestHubRoutesByPartition(t *testing.T) {
	hub, _, srv := startHub(t)
	asiaRelay := models.Partition{Region: models.RegionAsia, Mode: models.ModeTeamRelay}

	europe := dial(t, srv, "?region=Europe&mode=Solo")
	everything := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Send(ctx, update(asiaRelay, "kenji")))
	require.NoError(t, hub.Send(ctx, update(europeSolo, "alice")))

	var got broadcast.Message
	readMessage(t, europe, &got)
	assert.Equal(t, models.EventLeaderboardUpdate, got.Event)
	assert.Equal(t, europeSolo, got.Partition())
	assert.Equal(t, "alice", got.Data.TopRuns[0].PlayerID)

	readMessage(t, everything, &got)
	assert.Equal(t, asiaRelay, got.Partition())
	readMessage(t, everything, &got)
	assert.Equal(t, europeSolo, got.Partition())
}

func TestHubDeliversRelayedUpdates(t *testing.T) {
	hub, _, srv := startHub(t)
	conn := dial(t, srv, "?region=Europe&mode=Solo")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	data, err := update(europeSolo, "alice").Encode()
	require.NoError(t, err)
	hub.DeliverLocal(europeSolo, data)

	var got broadcast.Message
	readMessage(t, conn, &got)
	assert.Equal(t, "alice", got.Data.TopRuns[0].PlayerID)
}

func TestHubRejectsUnknownPartition(t *testing.T) {
	_, _, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/leaderboard?region=Atlantis&mode=Solo"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestSocketSubmitRun(t *testing.T) {
	hub, lb, srv := startHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	run := services.SubmitRunInput{PlayerID: "alice", TimeMs: 1500, Mode: "Solo", TrackID: "t1", Region: "Europe"}
	require.NoError(t, conn.WriteJSON(WSMessage{Type: "submitRun", Run: &run}))

	var reply WSMessage
	readMessage(t, conn, &reply)
	assert.Equal(t, "runAccepted", reply.Type)
	assert.Equal(t, []services.SubmitRunInput{run}, lb.submissions())

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "resign"}))
	readMessage(t, conn, &reply)
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "unknown message type", reply.Error)
}

func TestHubStopClosesSubscribers(t *testing.T) {
	metrics := observability.NewMetrics()
	hub := NewHub(metrics, zerolog.Nop())
	go hub.Run()

	router := mux.NewRouter()
	router.HandleFunc("/ws/leaderboard", NewWebSocketHandler(hub, nil, zerolog.Nop()).HandleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WSConnections))

	hub.Stop()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, hub.Send(context.Background(), update(europeSolo, "alice")), errHubStopped)
}
