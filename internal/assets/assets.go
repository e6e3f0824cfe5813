// Package assets serves asset attribute snapshots to the rule evaluator,
// collapsing concurrent requests for the same asset into one upstream fetch.
package assets

import (
	"context"
	"sync"

	"assetrules/internal/models"
)

// Source produces asset snapshots, typically redis-cache-then-database.
type Source interface {
	Snapshot(ctx context.Context, assetID string) (*models.Asset, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, assetID string) (*models.Asset, error)

func (f SourceFunc) Snapshot(ctx context.Context, assetID string) (*models.Asset, error) {
	return f(ctx, assetID)
}

type call struct {
	done  chan struct{}
	asset *models.Asset
	err   error
}

// Fetcher deduplicates snapshot requests: while a fetch for an asset is in
// flight, later callers wait for its result instead of hitting the source
// again.
type Fetcher struct {
	source Source

	mu       sync.Mutex
	inflight map[string]*call
}

func NewFetcher(source Source) *Fetcher {
	return &Fetcher{source: source, inflight: make(map[string]*call)}
}

// Snapshot returns the asset snapshot, sharing any in-flight fetch for the
// same asset. A waiting caller's context cancels its wait, not the fetch.
func (f *Fetcher) Snapshot(ctx context.Context, assetID string) (*models.Asset, error) {
	f.mu.Lock()
	if c, ok := f.inflight[assetID]; ok {
		f.mu.Unlock()
		select {
		case <-c.done:
			return c.asset, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	f.inflight[assetID] = c
	f.mu.Unlock()

	c.asset, c.err = f.source.Snapshot(ctx, assetID)

	f.mu.Lock()
	delete(f.inflight, assetID)
	f.mu.Unlock()
	close(c.done)

	return c.asset, c.err
}
