package liveness

import (
	"context"
	"log"
	"sync"
	"time"

	"staffroom/internal/hub"
	"staffroom/internal/websocket"
)

// Supervisor runs the two periodic reconciliation tasks: heartbeat probing of
// live connections and the lock expiry sweep. Both are owned by the service
// lifecycle and stop together, so no timer outlives a shutdown or a test.
type Supervisor struct {
	registry          *websocket.Registry
	hub               *hub.Hub
	heartbeatInterval time.Duration
	sweepInterval     time.Duration

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewSupervisor creates a supervisor over the registry and hub.
func NewSupervisor(registry *websocket.Registry, h *hub.Hub, heartbeatInterval, sweepInterval time.Duration) *Supervisor {
	return &Supervisor{
		registry:          registry,
		hub:               h,
		heartbeatInterval: heartbeatInterval,
		sweepInterval:     sweepInterval,
	}
}

// Start launches the heartbeat and sweep loops.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.heartbeatLoop(ctx)
	go s.sweepLoop(ctx)

	return nil
}

// Stop cancels both loops and waits for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// heartbeatLoop probes every live transport each interval. A connection quiet
// for more than twice the interval is cut off at the transport; the closing
// read loop then runs the same disconnect cascade as a client-closed socket.
func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.probe()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) probe() {
	deadline := time.Now().Add(-2 * s.heartbeatInterval)

	for _, conn := range s.registry.Connections() {
		if conn.LastActive().Before(deadline) {
			log.Printf("Terminating stale connection: id=%s last_active=%s",
				conn.UserID(), conn.LastActive().Format(time.RFC3339))
			_ = conn.Close()
			continue
		}

		if err := conn.Ping(); err != nil {
			// A failed probe means the transport is already gone; the read
			// loop will notice and unwind.
			log.Printf("Heartbeat probe failed for %s: %v", conn.UserID(), err)
		}
	}
}

// sweepLoop expires lapsed lock leases each interval.
func (s *Supervisor) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.hub.ExpireLocks()
		case <-ctx.Done():
			return
		}
	}
}
