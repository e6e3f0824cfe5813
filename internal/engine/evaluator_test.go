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
)

type fakeWorld struct {
	assets   []models.Asset
	previous map[string]*models.Asset
}

func (w *fakeWorld) QueryAssets(_ context.Context, realm string, ids, types []string) ([]models.Asset, error) {
	var out []models.Asset
	for _, a := range w.assets {
		if realm != "" && a.Realm != realm {
			continue
		}
		if len(ids) > 0 && !contains(ids, a.ID) {
			continue
		}
		if len(types) > 0 && !contains(types, a.Type) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (w *fakeWorld) Snapshot(_ context.Context, assetID string) (*models.Asset, error) {
	for i := range w.assets {
		if w.assets[i].ID == assetID {
			return &w.assets[i], nil
		}
	}
	return nil, nil
}

func (w *fakeWorld) PreviousSnapshot(_ context.Context, assetID string) (*models.Asset, error) {
	return w.previous[assetID], nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func roomAsset(id string, temperature float64, occupancy bool) models.Asset {
	return models.Asset{
		ID:    id,
		Name:  id,
		Type:  "RoomAsset",
		Realm: "building-a",
		Attributes: map[string]json.RawMessage{
			"temperature": mustJSON(temperature),
			"occupancy":   mustJSON(occupancy),
		},
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

const hotRoomBody = `{
  "rules": [
    {
      "name": "hot occupied room",
      "when": {
        "operator": "AND",
        "items": [
          {
            "assets": {
              "types": ["RoomAsset"],
              "attributes": {
                "operator": "AND",
                "items": [
                  {
                    "name": {"match": "EXACT", "caseSensitive": true, "value": "temperature"},
                    "value": {"predicateType": "number", "operator": "GREATER_THAN", "value": 30}
                  },
                  {
                    "name": {"match": "EXACT", "caseSensitive": true, "value": "occupancy"},
                    "value": {"predicateType": "boolean", "value": true}
                  }
                ]
              }
            }
          }
        ]
      },
      "then": [
        {"action": "notification", "message": "too hot"}
      ]
    }
  ]
}`

func testRuleset(body string) *models.Ruleset {
	return &models.Ruleset{
		ID:      1,
		Type:    models.ScopeRealm,
		Name:    "climate rules",
		Enabled: true,
		Rules:   body,
		Lang:    models.LangJSON,
		Realm:   "building-a",
	}
}

func TestEvaluateRulesetFiresOnMatchingAsset(t *testing.T) {
	world := &fakeWorld{assets: []models.Asset{roomAsset("room-1", 32, true)}}
	ev := NewEvaluator(world, world, logging.Nop())

	fired, err := ev.EvaluateRuleset(context.Background(), testRuleset(hotRoomBody), Trigger{AssetID: "room-1"}, time.Now())
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, "hot occupied room", fired[0].Name)
	assert.Equal(t, []string{"room-1"}, fired[0].MatchedAssets)
}

func TestEvaluateRulesetCollectsAllMatchedAssets(t *testing.T) {
	world := &fakeWorld{assets: []models.Asset{
		roomAsset("room-1", 32, true),
		roomAsset("room-2", 35, true),
		roomAsset("room-3", 20, true),
	}}
	ev := NewEvaluator(world, world, logging.Nop())

	fired, err := ev.EvaluateRuleset(context.Background(), testRuleset(hotRoomBody), Trigger{}, time.Now())
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.ElementsMatch(t, []string{"room-1", "room-2"}, fired[0].MatchedAssets)
}

func TestEvaluateRulesetNoMatch(t *testing.T) {
	world := &fakeWorld{assets: []models.Asset{
		roomAsset("room-1", 28, true),  // cool
		roomAsset("room-2", 35, false), // hot but empty
	}}
	ev := NewEvaluator(world, world, logging.Nop())

	fired, err := ev.EvaluateRuleset(context.Background(), testRuleset(hotRoomBody), Trigger{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestEvaluateRulesetValidityGate(t *testing.T) {
	world := &fakeWorld{assets: []models.Asset{roomAsset("room-1", 32, true)}}
	ev := NewEvaluator(world, world, logging.Nop())

	rs := testRuleset(hotRoomBody)
	// Weekday business hours only: 2025-01-06 is a Monday.
	rs.Meta = map[string]json.RawMessage{
		models.ValidityMetaKey: json.RawMessage(
			`{"start":1736154000000,"end":1736182800000,"recurrence":"FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"}`),
	}

	inside := time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC) // Monday 10:00
	fired, err := ev.EvaluateRuleset(context.Background(), rs, Trigger{}, inside)
	require.NoError(t, err)
	assert.Len(t, fired, 1)

	outside := time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC) // Saturday
	fired, err = ev.EvaluateRuleset(context.Background(), rs, Trigger{}, outside)
	require.NoError(t, err)
	assert.Empty(t, fired, "ruleset outside its validity window stays quiet")
}

func TestEvaluateRulesetMalformedValidity(t *testing.T) {
	world := &fakeWorld{assets: []models.Asset{roomAsset("room-1", 32, true)}}
	ev := NewEvaluator(world, world, logging.Nop())

	rs := testRuleset(hotRoomBody)
	rs.Meta = map[string]json.RawMessage{
		models.ValidityMetaKey: json.RawMessage(
			`{"start":0,"end":0,"recurrence":"FREQ=DAILY;INTERVAL=0"}`),
	}

	_, err := ev.EvaluateRuleset(context.Background(), rs, Trigger{}, time.Now())
	assert.Error(t, err)
}

func TestEvaluateRulesetTimerCondition(t *testing.T) {
	body := `{
	  "rules": [
	    {
	      "name": "morning check",
	      "when": {"operator": "AND", "items": [{"timer": "0 8 * * *"}]},
	      "then": [{"action": "notification", "message": "good morning"}]
	    }
	  ]
	}`
	world := &fakeWorld{}
	ev := NewEvaluator(world, world, logging.Nop())

	fired, err := ev.EvaluateRuleset(context.Background(), testRuleset(body), Trigger{Timer: "0 8 * * *"}, time.Now())
	require.NoError(t, err)
	assert.Len(t, fired, 1, "a timer condition matches its own firing")

	fired, err = ev.EvaluateRuleset(context.Background(), testRuleset(body), Trigger{AssetID: "room-1"}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, fired, "a timer condition ignores attribute triggers")
}

func TestEvaluateRulesetTagCondition(t *testing.T) {
	tagged := roomAsset("room-1", 20, false)
	tagged.Attributes["tags"] = mustJSON([]string{"roomSensors"})
	world := &fakeWorld{assets: []models.Asset{tagged}}
	ev := NewEvaluator(world, world, logging.Nop())

	body := `{
	  "rules": [
	    {
	      "name": "tagged assets present",
	      "when": {"operator": "AND", "items": [{"tag": "roomSensors"}]},
	      "then": [{"action": "notification", "message": "sensors online"}]
	    }
	  ]
	}`
	fired, err := ev.EvaluateRuleset(context.Background(), testRuleset(body), Trigger{}, time.Now())
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, []string{"room-1"}, fired[0].MatchedAssets)
}

func TestEvaluateRulesetEdgeTrigger(t *testing.T) {
	current := roomAsset("room-1", 20, true)
	previous := roomAsset("room-1", 20, false)
	world := &fakeWorld{
		assets:   []models.Asset{current},
		previous: map[string]*models.Asset{"room-1": &previous},
	}
	ev := NewEvaluator(world, world, logging.Nop())

	body := `{
	  "rules": [
	    {
	      "name": "occupancy rising edge",
	      "when": {
	        "operator": "AND",
	        "items": [
	          {
	            "assets": {
	              "ids": ["room-1"],
	              "attributes": {
	                "operator": "AND",
	                "items": [
	                  {
	                    "name": {"match": "EXACT", "caseSensitive": true, "value": "occupancy"},
	                    "value": {"predicateType": "boolean", "value": true},
	                    "previousValue": {"predicateType": "boolean", "value": false}
	                  }
	                ]
	              }
	            }
	          }
	        ]
	      },
	      "then": [{"action": "notification", "message": "someone arrived"}]
	    }
	  ]
	}`
	fired, err := ev.EvaluateRuleset(context.Background(), testRuleset(body), Trigger{AssetID: "room-1"}, time.Now())
	require.NoError(t, err)
	assert.Len(t, fired, 1)

	// Without a transition the edge predicate stays quiet.
	world.previous["room-1"] = &current
	fired, err = ev.EvaluateRuleset(context.Background(), testRuleset(body), Trigger{AssetID: "room-1"}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, fired)
}
