package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often the open conversation is checked.
const DefaultPollInterval = 10 * time.Second

// Pollable is polled on every tick.
type Pollable interface {
	Poll(ctx context.Context) error
}

// Poller drives Poll at a fixed interval until stopped or the session expires.
type Poller struct {
	target   Pollable
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(target Pollable, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{target: target, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled or the target reports ErrSessionExpired.
// It returns ctx.Err() or ErrSessionExpired.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Debug("poller started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := p.target.Poll(ctx); err != nil {
				if errors.Is(err, ErrSessionExpired) {
					p.logger.Info("poller stopped: session expired")
					return err
				}
				p.logger.Warn("poll failed", "error", err)
			}
		}
	}
}

// Start runs the poller in the background. Calling Start on a running poller
// does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
}

// Stop cancels the background loop and waits for it to exit.
// It is safe to call more than once and on a poller that never started.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
