// Package redis owns the redis client and the key layout shared by the
// engine, the task workers, and the session store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"assetrules/internal/models"
)

// NewClient creates a redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Key layout. Streams buffer raw attribute updates for debouncing; snapshot
// keys cache the last seen asset state; association sets map an asset to the
// rulesets referencing it.
const (
	StreamPrefix   = "stream:asset:"
	snapshotPrefix = "asset:"
	assocSuffix    = ":rulesets"
	lastReadPrefix = "last_read:"

	snapshotTTL  = time.Hour
	streamMaxLen = 100
)

func StreamKey(assetID string) string      { return StreamPrefix + assetID }
func SnapshotKey(assetID string) string    { return snapshotPrefix + assetID }
func AssociationKey(assetID string) string { return snapshotPrefix + assetID + assocSuffix }
func LastReadKey(streamKey string) string  { return lastReadPrefix + streamKey }
func PreviousKey(assetID string) string    { return snapshotPrefix + assetID + ":previous" }

// Store wraps the client with the typed operations the service needs.
type Store struct {
	Client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{Client: client}
}

// BufferUpdate appends a raw attribute payload to the asset's debounce
// stream, trimming the stream to the newest entries.
func (s *Store) BufferUpdate(ctx context.Context, assetID string, payload []byte) error {
	return s.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(assetID),
		MaxLen: streamMaxLen,
		Values: map[string]interface{}{
			"attributes": string(payload),
			"timestamp":  time.Now().UnixNano(),
		},
	}).Err()
}

// BufferedUpdate is the newest buffered attribute payload of one asset.
type BufferedUpdate struct {
	AssetID string
	Payload []byte
}

// DrainStreams returns the newest buffered update per asset stream and
// advances the read cursors. It blocks up to the given window when there is
// nothing to read.
func (s *Store) DrainStreams(ctx context.Context, block time.Duration) ([]BufferedUpdate, error) {
	keys, err := s.Client.Keys(ctx, StreamPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(block):
		}
		return nil, nil
	}

	ids := make([]string, len(keys))
	for i, key := range keys {
		lastID, err := s.Client.Get(ctx, LastReadKey(key)).Result()
		if err != nil {
			lastID = "0-0"
		}
		ids[i] = lastID
	}

	streams, err := s.Client.XRead(ctx, &redis.XReadArgs{
		Streams: append(keys, ids...),
		Block:   block,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	var updates []BufferedUpdate
	for _, stream := range streams {
		if len(stream.Messages) == 0 {
			continue
		}
		latest := stream.Messages[len(stream.Messages)-1]
		raw, _ := latest.Values["attributes"].(string)
		updates = append(updates, BufferedUpdate{
			AssetID: strings.TrimPrefix(stream.Stream, StreamPrefix),
			Payload: []byte(raw),
		})
		s.Client.Set(ctx, LastReadKey(stream.Stream), latest.ID, 0)
	}
	return updates, nil
}

// SetSnapshot caches an asset snapshot, moving the prior snapshot to the
// previous-value key so edge-triggered predicates can see the transition.
func (s *Store) SetSnapshot(ctx context.Context, asset *models.Asset) error {
	raw, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	prev, err := s.Client.Get(ctx, SnapshotKey(asset.ID)).Result()
	if err == nil {
		if err := s.Client.Set(ctx, PreviousKey(asset.ID), prev, snapshotTTL).Err(); err != nil {
			return err
		}
	} else if err != redis.Nil {
		return err
	}
	return s.Client.Set(ctx, SnapshotKey(asset.ID), raw, snapshotTTL).Err()
}

// Snapshot returns the cached asset snapshot, or nil when absent.
func (s *Store) Snapshot(ctx context.Context, assetID string) (*models.Asset, error) {
	return s.getAsset(ctx, SnapshotKey(assetID))
}

// PreviousSnapshot returns the snapshot preceding the current one, or nil.
func (s *Store) PreviousSnapshot(ctx context.Context, assetID string) (*models.Asset, error) {
	return s.getAsset(ctx, PreviousKey(assetID))
}

func (s *Store) getAsset(ctx context.Context, key string) (*models.Asset, error) {
	raw, err := s.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var asset models.Asset
	if err := json.Unmarshal([]byte(raw), &asset); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &asset, nil
}

// Associate links a ruleset to the assets its conditions reference.
func (s *Store) Associate(ctx context.Context, rulesetID int64, assetIDs []string) error {
	for _, id := range assetIDs {
		if err := s.Client.SAdd(ctx, AssociationKey(id), rulesetID).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Dissociate removes a ruleset from every association set.
func (s *Store) Dissociate(ctx context.Context, rulesetID int64) error {
	var cursor uint64
	for {
		keys, next, err := s.Client.Scan(ctx, cursor, snapshotPrefix+"*"+assocSuffix, 100).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := s.Client.SRem(ctx, key, rulesetID).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// AssociatedRulesets returns the ruleset ids referencing an asset.
func (s *Store) AssociatedRulesets(ctx context.Context, assetID string) ([]int64, error) {
	members, err := s.Client.SMembers(ctx, AssociationKey(assetID)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		var id int64
		if _, err := fmt.Sscanf(m, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
