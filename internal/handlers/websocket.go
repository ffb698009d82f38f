package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"leaderboard-system/internal/broadcast"
	"leaderboard-system/internal/models"
	"leaderboard-system/internal/observability"
	"leaderboard-system/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub keeps the live leaderboard subscribers of this instance, grouped by
// partition. Subscribers under the zero partition receive every partition.
type Hub struct {
	partitions map[models.Partition]map[*Client]struct{}
	mu         sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *partitionMessage
	quit       chan struct{}
	stopOnce   sync.Once

	metrics *observability.Metrics
	logger  zerolog.Logger
}

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	partition models.Partition
	send      chan []byte
}

type partitionMessage struct {
	partition models.Partition
	message   []byte
}

// WSMessage is what clients send over the socket and what they get back for
// their own requests.
type WSMessage struct {
	Type  string                   `json:"type"`
	Run   *services.SubmitRunInput `json:"run,omitempty"`
	Error string                   `json:"error,omitempty"`
	// Updated is the partition's ranking after an accepted submission.
	Updated []models.RankEntry `json:"updated,omitempty"`
}

func NewHub(metrics *observability.Metrics, logger zerolog.Logger) *Hub {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Hub{
		partitions: make(map[models.Partition]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *partitionMessage, sendBuffer),
		quit:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.partitions[client.partition] == nil {
				h.partitions[client.partition] = make(map[*Client]struct{})
			}
			h.partitions[client.partition][client] = struct{}{}
			h.mu.Unlock()
			h.metrics.WSConnections.Inc()
			h.logger.Debug().Str("partition", client.partition.String()).Msg("Client registered")

		case client := <-h.unregister:
			if h.remove(client) {
				h.logger.Debug().Str("partition", client.partition.String()).Msg("Client unregistered")
			}

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.quit:
			h.mu.Lock()
			for p, clients := range h.partitions {
				for c := range clients {
					close(c.send)
					h.metrics.WSConnections.Dec()
				}
				delete(h.partitions, p)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every subscriber and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) remove(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.partitions[client.partition]
	if !ok {
		return false
	}
	if _, ok := clients[client]; !ok {
		return false
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.partitions, client.partition)
	}
	h.metrics.WSConnections.Dec()
	return true
}

// deliver writes to partition subscribers and to catch-all subscribers. A
// subscriber whose buffer is full is dropped rather than waited on.
func (h *Hub) deliver(msg *partitionMessage) {
	var slow []*Client
	h.mu.RLock()
	for _, key := range []models.Partition{msg.partition, {}} {
		for client := range h.partitions[key] {
			select {
			case client.send <- msg.message:
			default:
				slow = append(slow, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		if h.remove(client) {
			h.metrics.SubscriberDrops.Inc()
			h.logger.Warn().Str("partition", client.partition.String()).Msg("Dropped slow subscriber")
		}
	}
}

// Clients reports how many subscribers are connected.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.partitions {
		n += len(clients)
	}
	return n
}

func (h *Hub) Name() string { return "websocket" }

// Send queues an update for local subscribers of its partition.
func (h *Hub) Send(ctx context.Context, msg broadcast.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return h.enqueue(ctx, msg.Partition(), data)
}

// DeliverLocal accepts an update relayed from another instance.
func (h *Hub) DeliverLocal(p models.Partition, message []byte) {
	if err := h.enqueue(context.Background(), p, message); err != nil {
		h.logger.Warn().Err(err).Str("partition", p.String()).Msg("Relayed update not delivered")
	}
}

var errHubStopped = errors.New("websocket hub stopped")

func (h *Hub) enqueue(ctx context.Context, p models.Partition, message []byte) error {
	select {
	case <-h.quit:
		return errHubStopped
	default:
	}
	select {
	case h.broadcast <- &partitionMessage{partition: p, message: message}:
		return nil
	case <-h.quit:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunSubmitter accepts runs sent over the socket.
type RunSubmitter interface {
	SubmitRun(ctx context.Context, in services.SubmitRunInput) ([]models.RankEntry, error)
}

type WebSocketHandler struct {
	hub       *Hub
	submitter RunSubmitter
	logger    zerolog.Logger
}

func NewWebSocketHandler(hub *Hub, submitter RunSubmitter, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, submitter: submitter, logger: logger}
}

// HandleWebSocket subscribes a client to leaderboard updates. With region and
// mode query parameters the client only hears about that partition.
// GET /ws/leaderboard?region=Europe&mode=Solo
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var partition models.Partition
	q := r.URL.Query()
	if q.Get("region") != "" || q.Get("mode") != "" {
		p, err := services.ParsePartition(q.Get("region"), q.Get("mode"))
		if err != nil {
			http.Error(w, validationMessage(err), http.StatusBadRequest)
			return
		}
		partition = p
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:       h.hub,
		conn:      conn,
		partition: partition,
		send:      make(chan []byte, sendBuffer),
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.quit:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h.submitter, h.logger)
}

func (c *Client) readPump(submitter RunSubmitter, logger zerolog.Logger) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		c.reply(c.handle(submitter, data))
	}
}

func (c *Client) handle(submitter RunSubmitter, data []byte) WSMessage {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return WSMessage{Type: "error", Error: "invalid message"}
	}
	switch msg.Type {
	case "submitRun":
		if msg.Run == nil || submitter == nil {
			return WSMessage{Type: "error", Error: "run is required"}
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		updated, err := submitter.SubmitRun(ctx, *msg.Run)
		if err != nil {
			if errors.Is(err, services.ErrValidation) {
				return WSMessage{Type: "error", Error: validationMessage(err)}
			}
			if errors.Is(err, services.ErrNotFound) {
				return WSMessage{Type: "error", Error: "Player not found"}
			}
			return WSMessage{Type: "error", Error: "Error adding run"}
		}
		return WSMessage{Type: "runAccepted", Updated: updated}
	default:
		return WSMessage{Type: "error", Error: "unknown message type"}
	}
}

// reply never blocks the read loop. Replies to a client the hub has already
// dropped are discarded.
func (c *Client) reply(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.partitions[c.partition][c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
