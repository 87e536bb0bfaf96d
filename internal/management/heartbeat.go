package management

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

// Heartbeat keeps a record alive while its owner runs. When the owner dies
// the record expires after the server's TTL and the name becomes claimable.
type Heartbeat struct {
	server   *Server
	name     ObjectName
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHeartbeat refreshes name every interval. A non-positive interval
// defaults to a third of the record TTL.
func NewHeartbeat(server *Server, name ObjectName, log logger.Logger, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = server.RecordTTL() / 3
	}
	return &Heartbeat{
		server:   server,
		name:     name,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic refresh. It is a no-op when the record never
// expires.
func (h *Heartbeat) Start(ctx context.Context) {
	if h.server.RecordTTL() <= 0 || h.interval <= 0 {
		close(h.done)
		return
	}

	ticker := time.NewTicker(h.interval)
	go func() {
		defer close(h.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := h.server.Touch(ctx, h.name); err != nil {
					if errors.Is(err, ErrNotRegistered) {
						h.logger.Warn("management record vanished, heartbeat stopped",
							logger.String("name", h.name.String()))
						return
					}
					h.logger.Warn("failed to refresh management record",
						logger.String("name", h.name.String()),
						logger.Error(err))
				}
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the refresh loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.done
}
