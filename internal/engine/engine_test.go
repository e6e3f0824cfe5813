package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetrules/internal/logging"
	"assetrules/internal/models"
	redispkg "assetrules/internal/redis"
)

type fakeCatalog struct {
	assets   map[string]*models.Asset
	updated  map[string]map[string]json.RawMessage
	rulesets []models.Ruleset
}

func (c *fakeCatalog) GetAsset(_ context.Context, id string) (*models.Asset, error) {
	return c.assets[id], nil
}

func (c *fakeCatalog) UpdateAssetAttributes(_ context.Context, id string, attrs map[string]json.RawMessage) error {
	if c.updated == nil {
		c.updated = map[string]map[string]json.RawMessage{}
	}
	c.updated[id] = attrs
	return nil
}

func (c *fakeCatalog) EnabledJSONRulesets(_ context.Context) ([]models.Ruleset, error) {
	return c.rulesets, nil
}

func (c *fakeCatalog) RulesetByID(_ context.Context, id int64) (*models.Ruleset, error) {
	for i := range c.rulesets {
		if c.rulesets[i].ID == id {
			return &c.rulesets[i], nil
		}
	}
	return nil, nil
}

type fakeState struct {
	snapshots    map[string]*models.Asset
	associations map[int64][]string
	rulesetsFor  map[string][]int64
}

func (s *fakeState) BufferUpdate(context.Context, string, []byte) error { return nil }

func (s *fakeState) DrainStreams(context.Context, time.Duration) ([]redispkg.BufferedUpdate, error) {
	return nil, nil
}

func (s *fakeState) SetSnapshot(_ context.Context, asset *models.Asset) error {
	if s.snapshots == nil {
		s.snapshots = map[string]*models.Asset{}
	}
	s.snapshots[asset.ID] = asset
	return nil
}

func (s *fakeState) AssociatedRulesets(_ context.Context, assetID string) ([]int64, error) {
	return s.rulesetsFor[assetID], nil
}

func (s *fakeState) Associate(_ context.Context, rulesetID int64, assetIDs []string) error {
	if s.associations == nil {
		s.associations = map[int64][]string{}
	}
	s.associations[rulesetID] = append(s.associations[rulesetID], assetIDs...)
	return nil
}

func (s *fakeState) Dissociate(_ context.Context, rulesetID int64) error {
	delete(s.associations, rulesetID)
	return nil
}

type fakeEnqueuer struct {
	calls []struct {
		RulesetID int64
		Trigger   Trigger
	}
}

func (q *fakeEnqueuer) EnqueueEvaluation(rulesetID int64, trigger Trigger) error {
	q.calls = append(q.calls, struct {
		RulesetID int64
		Trigger   Trigger
	}{rulesetID, trigger})
	return nil
}

func TestProcessBufferedUpdatePersistsAndDispatches(t *testing.T) {
	asset := roomAsset("room-1", 20, false)
	catalog := &fakeCatalog{assets: map[string]*models.Asset{"room-1": &asset}}
	state := &fakeState{rulesetsFor: map[string][]int64{"room-1": {4, 9}}}
	queue := &fakeEnqueuer{}
	e := New(nil, state, catalog, queue, logging.Nop())

	attrs := map[string]json.RawMessage{"temperature": mustJSON(31.5)}
	e.processBufferedUpdate(context.Background(), "room-1", attrs)

	require.Contains(t, catalog.updated, "room-1", "debounced attributes reach the asset table")
	assert.Equal(t, attrs, catalog.updated["room-1"])

	require.Contains(t, state.snapshots, "room-1")
	assert.Equal(t, attrs, state.snapshots["room-1"].Attributes)

	require.Len(t, queue.calls, 2)
	assert.Equal(t, int64(4), queue.calls[0].RulesetID)
	assert.Equal(t, int64(9), queue.calls[1].RulesetID)
	assert.Equal(t, Trigger{AssetID: "room-1"}, queue.calls[0].Trigger)
}

func TestProcessBufferedUpdateUnknownAsset(t *testing.T) {
	catalog := &fakeCatalog{}
	state := &fakeState{}
	queue := &fakeEnqueuer{}
	e := New(nil, state, catalog, queue, logging.Nop())

	e.processBufferedUpdate(context.Background(), "ghost", map[string]json.RawMessage{"x": mustJSON(1)})

	assert.Empty(t, catalog.updated)
	assert.Empty(t, state.snapshots)
	assert.Empty(t, queue.calls)
}

func TestRebuildAssociations(t *testing.T) {
	body := `{
	  "rules": [
	    {
	      "name": "watch rooms",
	      "when": {"operator": "OR", "items": [{"assets": {"ids": ["room-1", "room-2"]}}]},
	      "then": [{"action": "notification", "message": "changed"}]
	    }
	  ]
	}`
	catalog := &fakeCatalog{rulesets: []models.Ruleset{
		{ID: 7, Enabled: true, Lang: models.LangJSON, Rules: body, Realm: "building-a"},
	}}
	state := &fakeState{}
	e := New(nil, state, catalog, &fakeEnqueuer{}, logging.Nop())

	require.NoError(t, e.RebuildAssociations(context.Background()))
	assert.ElementsMatch(t, []string{"room-1", "room-2"}, state.associations[7])
}
