package history

import (
	"context"
	"log/slog"
	"time"
)

// Refresher is the part of Syncer the Poller drives.
type Refresher interface {
	Sync(ctx context.Context) error
	Items() []Item
}

// Poller re-syncs history on an interval and hands each fresh list to a
// callback.
type Poller struct {
	source Refresher
	poll   time.Duration
	onSync func([]Item)
	logger *slog.Logger
}

// NewPoller creates a Poller. If interval is <= 0, it defaults to 30s.
func NewPoller(source Refresher, interval time.Duration, onSync func([]Item)) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		source: source,
		poll:   interval,
		onSync: onSync,
		logger: slog.Default(),
	}
}

// Run syncs immediately and then every interval until ctx is cancelled.
// Failed syncs are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("history sync failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sync and, on success, calls the callback with
// the new list.
func (p *Poller) RunOnce(ctx context.Context) error {
	if err := p.source.Sync(ctx); err != nil {
		return err
	}
	if p.onSync != nil {
		p.onSync(p.source.Items())
	}
	return nil
}
