// Package cleanup retires rooms that have gone idle.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/wikiracing-llms/wikirace/pkg/room"
)

// Service periodically reaps rooms whose last activity is older than the
// room TTL. Reaping deletes the room, cancels its executors, and closes
// its WebSocket connections.
type Service struct {
	rooms    *room.Service
	ttl      time.Duration
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a reaper over the room service.
func NewService(rooms *room.Service, ttl, interval time.Duration) *Service {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Service{rooms: rooms, ttl: ttl, interval: interval}
}

// Start launches the background reap loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Room reaper started", "room_ttl", s.ttl, "interval", s.interval)
}

// Stop signals the reap loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Room reaper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.reap()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

func (s *Service) reap() {
	reaped := s.rooms.ReapIdle(s.ttl)
	if len(reaped) > 0 {
		slog.Info("Retention: reaped idle rooms", "count", len(reaped))
	}
}
