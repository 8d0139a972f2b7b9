package roster

import (
	"context"
	"errors"
	"sync"
	"time"
)

type scheduler struct {
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// Start runs Sync every RefreshInterval until Stop is called or ctx ends.
// Calling Start on a running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.schedulerMu.Lock()
	defer o.schedulerMu.Unlock()

	if o.scheduler != nil || o.opts.RefreshInterval <= 0 {
		return
	}

	s := &scheduler{
		ticker: time.NewTicker(o.opts.RefreshInterval),
		stop:   make(chan struct{}),
	}
	o.scheduler = s

	o.logger.Info("Starting periodic sync", map[string]any{"interval": o.opts.RefreshInterval.String()})

	s.wg.Go(func() {
		for {
			select {
			case <-s.ticker.C:
				if err := o.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
					o.logger.Error("Periodic sync failed, keeping previous snapshot", map[string]any{"error": err.Error()})
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop halts the periodic timer and waits for an in-flight tick to finish.
func (o *Orchestrator) Stop() {
	o.schedulerMu.Lock()
	s := o.scheduler
	o.scheduler = nil
	o.schedulerMu.Unlock()

	if s == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
}
