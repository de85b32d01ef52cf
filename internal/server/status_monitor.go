package server

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/brokersync/internal/events"
	"github.com/aristath/brokersync/internal/hub"
	"github.com/rs/zerolog"
)

// StatusMonitor periodically samples system status and publishes it on the system channel
type StatusMonitor struct {
	hub            *hub.Hub
	systemHandlers *SystemHandlers
	log            zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewStatusMonitor creates a new status monitor and registers the
// system channel snapshot so new subscribers get a sample immediately.
func NewStatusMonitor(h *hub.Hub, systemHandlers *SystemHandlers, log zerolog.Logger) *StatusMonitor {
	h.RegisterSnapshot(events.ChannelSystem, systemHandlers.Snapshot)
	return &StatusMonitor{
		hub:            h,
		systemHandlers: systemHandlers,
		log:            log.With().Str("component", "status_monitor").Logger(),
		stop:           make(chan struct{}),
	}
}

// Start begins periodic status monitoring. A non-positive interval disables it.
func (m *StatusMonitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		m.log.Info().Msg("System status broadcasts disabled")
		return
	}
	m.wg.Add(1)
	go m.monitor(ctx, interval)
}

// Stop ends the monitoring loop and waits for it
func (m *StatusMonitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *StatusMonitor) monitor(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.publish()
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *StatusMonitor) publish() {
	// Sampling CPU blocks briefly, skip it when nobody listens
	if m.hub.ClientCount() == 0 {
		return
	}
	m.hub.PublishSystem(m.systemHandlers.Status())
}
