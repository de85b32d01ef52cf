// Package hub fans out realtime updates to subscribed client connections.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/brokersync/internal/events"
)

// Conn is the transport of one client connection
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// SnapshotProvider returns the current state of a channel for initial_data
type SnapshotProvider func(ctx context.Context) (interface{}, error)

// Metrics receives hub gauges and counters
type Metrics interface {
	SetConnectedClients(n int)
	ObserveBroadcast(channel string, delivered int)
}

// Config holds hub timing and buffering
type Config struct {
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration
	SendBuffer       int
	WriteTimeout     time.Duration
}

// DefaultConfig returns the standard liveness contract: sweep every 30s, evict after 60s of silence
func DefaultConfig() Config {
	return Config{
		SweepInterval:    30 * time.Second,
		HeartbeatTimeout: 60 * time.Second,
		SendBuffer:       64,
		WriteTimeout:     10 * time.Second,
	}
}

// Hub owns every client connection and its subscription set
type Hub struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu        sync.RWMutex
	clients   map[string]*Client
	providers map[events.Channel]SnapshotProvider
	metrics   Metrics

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	sweepDone   chan struct{}
	writers     sync.WaitGroup
}

// New creates a hub
func New(cfg Config, log zerolog.Logger) *Hub {
	defaults := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	return &Hub{
		cfg:       cfg,
		log:       log.With().Str("component", "hub").Logger(),
		now:       time.Now,
		clients:   make(map[string]*Client),
		providers: make(map[events.Channel]SnapshotProvider),
	}
}

// SetMetrics attaches a metrics sink
func (h *Hub) SetMetrics(m Metrics) {
	h.mu.Lock()
	h.metrics = m
	h.mu.Unlock()
}

// RegisterSnapshot sets the provider used for initial_data on a channel
func (h *Hub) RegisterSnapshot(channel events.Channel, provider SnapshotProvider) {
	h.mu.Lock()
	h.providers[channel] = provider
	h.mu.Unlock()
}

// Start runs the liveness sweep until Stop is called or ctx is done
func (h *Hub) Start(ctx context.Context) {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.sweepDone = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(h.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Sweep()
			}
		}
	}(h.sweepDone)

	h.log.Info().
		Dur("sweep_interval", h.cfg.SweepInterval).
		Dur("heartbeat_timeout", h.cfg.HeartbeatTimeout).
		Msg("Broadcast hub started")
}

// Stop cancels the sweep and closes every connection
func (h *Hub) Stop() {
	h.lifecycleMu.Lock()
	if h.cancel != nil {
		h.cancel()
		<-h.sweepDone
		h.cancel = nil
	}
	h.lifecycleMu.Unlock()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown("server shutting down")
	}
	h.writers.Wait()
	h.reportClients()
	h.log.Info().Int("closed", len(clients)).Msg("Broadcast hub stopped")
}

// Connect registers a new client and acknowledges it with its id and the server time
func (h *Hub) Connect(conn Conn) *Client {
	c := &Client{
		id:            uuid.New().String(),
		conn:          conn,
		hub:           h,
		send:          make(chan []byte, h.cfg.SendBuffer),
		done:          make(chan struct{}),
		subs:          make(map[events.Channel]struct{}),
		lastHeartbeat: h.now(),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.writers.Add(1)
	go c.writePump()

	h.sendTo(c, events.NewMessage("", &events.ConnectionData{
		ClientID:   c.id,
		Status:     "connected",
		ServerTime: h.now().UTC(),
	}))

	h.reportClients()
	h.log.Info().Str("client_id", c.id).Int("clients", count).Msg("Client connected")
	return c
}

// Disconnect removes a client and closes its transport
func (h *Hub) Disconnect(clientID string) {
	h.disconnect(clientID, "client disconnected")
}

func (h *Hub) disconnect(clientID, reason string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}

	c.shutdown(reason)
	h.reportClients()
	h.log.Info().Str("client_id", clientID).Str("reason", reason).Int("clients", count).Msg("Client removed")
}

// HandleMessage processes one inbound frame from a client.
// Any frame, valid or not, counts as a sign of life.
func (h *Hub) HandleMessage(clientID string, raw []byte) {
	c := h.client(clientID)
	if c == nil {
		return
	}
	c.touch(h.now())

	cmd, err := events.DecodeCommand(raw)
	if err != nil {
		h.sendTo(c, events.NewMessage("", &events.ErrorData{Message: err.Error()}))
		return
	}

	switch cmd := cmd.(type) {
	case events.Subscribe:
		c.subscribe(cmd.Channel)
		h.sendInitialData(c, cmd.Channel)
	case events.Unsubscribe:
		c.unsubscribe(cmd.Channel)
	case events.Ping:
		h.sendTo(c, events.Control(events.TypePong))
	case events.Pong:
	}
}

func (h *Hub) sendInitialData(c *Client, channel events.Channel) {
	h.mu.RLock()
	provider := h.providers[channel]
	h.mu.RUnlock()

	var data interface{}
	if provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
		snapshot, err := provider(ctx)
		cancel()
		if err != nil {
			h.log.Warn().Err(err).Str("channel", string(channel)).Msg("Snapshot provider failed")
			h.sendTo(c, events.NewMessage(channel, &events.ErrorData{
				Message: fmt.Sprintf("initial data for %s unavailable: %v", channel, err),
			}))
			return
		}
		data = snapshot
	}

	h.sendTo(c, events.NewMessage(channel, &events.InitialData{Channel: channel, Data: data}))
}

// Broadcast delivers msg to every client when channel is empty, otherwise to that channel's subscribers.
// Clients whose queue is full or closed are dropped; others are unaffected.
// It returns the number of clients the message was queued for.
func (h *Hub) Broadcast(msg events.Message, channel events.Channel) int {
	data, err := msg.Encode()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode broadcast")
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if channel == "" || c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	metrics := h.metrics
	h.mu.RUnlock()

	delivered := 0
	var dropped []string
	for _, c := range targets {
		if c.enqueue(data) {
			delivered++
			continue
		}
		dropped = append(dropped, c.id)
	}
	for _, id := range dropped {
		h.disconnect(id, "send queue full")
	}

	if metrics != nil {
		metrics.ObserveBroadcast(string(channel), delivered)
	}
	return delivered
}

// Sweep evicts clients silent for longer than the heartbeat timeout and probes the rest
func (h *Hub) Sweep() {
	now := h.now()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	probe, err := events.Control(events.TypeHeartbeat).Encode()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode heartbeat")
		return
	}

	evicted := 0
	for _, c := range clients {
		if now.Sub(c.heartbeat()) > h.cfg.HeartbeatTimeout {
			h.disconnect(c.id, "heartbeat timeout")
			evicted++
			continue
		}
		if !c.enqueue(probe) {
			h.disconnect(c.id, "send queue full")
			continue
		}
		go c.ping(h.cfg.WriteTimeout)
	}

	if evicted > 0 {
		h.log.Info().Int("evicted", evicted).Int("checked", len(clients)).Msg("Liveness sweep evicted clients")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) client(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

func (h *Hub) sendTo(c *Client, msg events.Message) {
	data, err := msg.Encode()
	if err != nil {
		h.log.Error().Err(err).Str("client_id", c.id).Msg("Failed to encode message")
		return
	}
	if !c.enqueue(data) {
		h.disconnect(c.id, "send queue full")
	}
}

func (h *Hub) reportClients() {
	h.mu.RLock()
	metrics := h.metrics
	count := len(h.clients)
	h.mu.RUnlock()
	if metrics != nil {
		metrics.SetConnectedClients(count)
	}
}
