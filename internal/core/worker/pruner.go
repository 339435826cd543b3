package worker

import (
	"context"
	"log/slog"
	"time"
)

// PruneFunc drops expired state and returns how many records it removed.
type PruneFunc func() int

// Pruner periodically drops expired state from an in-memory store.
type Pruner struct {
	name     string
	interval time.Duration
	prune    PruneFunc
	logger   *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(name string, interval time.Duration, prune PruneFunc, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		name:     name,
		interval: interval,
		prune:    prune,
		logger:   logger,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.interval <= 0 || p.prune == nil {
		return // Pruning disabled
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial prune
	p.run()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.run()
		}
	}
}

func (p *Pruner) run() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("[Pruner] prune panicked", "store", p.name, "panic", r)
		}
	}()

	if n := p.prune(); n > 0 {
		p.logger.Debug("[Pruner] removed expired records", "store", p.name, "count", n)
	}
}
