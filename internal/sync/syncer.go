package sync

import (
	"context"
	"log"
	"time"
)

// AutoFetcher periodically fetches all registered remotes in the background,
// keeping mirrors warm for a serving daemon.
type AutoFetcher struct {
	syncer   *Syncer
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAutoFetcher creates a fetcher that polls at the given interval.
func NewAutoFetcher(s *Syncer, interval time.Duration) *AutoFetcher {
	return &AutoFetcher{
		syncer:   s,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background polling goroutine.
func (a *AutoFetcher) Start() {
	go func() {
		defer close(a.doneCh)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				if err := a.syncer.FetchAll(context.Background()); err != nil {
					log.Printf("drift: auto-fetch: %v", err)
				}
			}
		}
	}()
}

// Stop signals the fetcher to stop and waits for it to finish.
func (a *AutoFetcher) Stop() {
	close(a.stopCh)
	<-a.doneCh
}
