package assets

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetrules/internal/models"
)

func TestFetcherReturnsSourceResult(t *testing.T) {
	f := NewFetcher(SourceFunc(func(ctx context.Context, id string) (*models.Asset, error) {
		return &models.Asset{ID: id, Type: "RoomAsset"}, nil
	}))

	asset, err := f.Snapshot(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", asset.ID)
}

func TestFetcherCollapsesConcurrentRequests(t *testing.T) {
	var fetches atomic.Int32
	release := make(chan struct{})
	f := NewFetcher(SourceFunc(func(ctx context.Context, id string) (*models.Asset, error) {
		fetches.Add(1)
		<-release
		return &models.Asset{ID: id}, nil
	}))

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*models.Asset, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asset, err := f.Snapshot(context.Background(), "room-1")
			require.NoError(t, err)
			results[i] = asset
		}(i)
	}

	// Let all callers pile onto the single in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load(), "concurrent requests share one fetch")
	for _, asset := range results {
		assert.Equal(t, "room-1", asset.ID)
	}
}

func TestFetcherDistinctAssetsFetchIndependently(t *testing.T) {
	var fetches atomic.Int32
	f := NewFetcher(SourceFunc(func(ctx context.Context, id string) (*models.Asset, error) {
		fetches.Add(1)
		return &models.Asset{ID: id}, nil
	}))

	_, err := f.Snapshot(context.Background(), "room-1")
	require.NoError(t, err)
	_, err = f.Snapshot(context.Background(), "room-2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestFetcherWaiterCancellation(t *testing.T) {
	release := make(chan struct{})
	f := NewFetcher(SourceFunc(func(ctx context.Context, id string) (*models.Asset, error) {
		<-release
		return &models.Asset{ID: id}, nil
	}))

	go f.Snapshot(context.Background(), "room-1")
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Snapshot(ctx, "room-1")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestFetcherNewFetchAfterCompletion(t *testing.T) {
	var fetches atomic.Int32
	f := NewFetcher(SourceFunc(func(ctx context.Context, id string) (*models.Asset, error) {
		fetches.Add(1)
		return &models.Asset{ID: id}, nil
	}))

	_, err := f.Snapshot(context.Background(), "room-1")
	require.NoError(t, err)
	_, err = f.Snapshot(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load(), "results are not cached beyond the in-flight window")
}
