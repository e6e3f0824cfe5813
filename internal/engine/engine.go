// Package engine ingests asset attribute updates, debounces them through
// redis streams, and dispatches rule evaluation for affected rulesets.
package engine

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"assetrules/internal/models"
	mqttpkg "assetrules/internal/mqtt"
	redispkg "assetrules/internal/redis"
	"assetrules/internal/rules"
)

const debounceWindow = 2 * time.Second

// Enqueuer dispatches evaluation work. Implemented by the task queue.
type Enqueuer interface {
	EnqueueEvaluation(rulesetID int64, trigger Trigger) error
}

// Catalog is the slice of the database the engine needs: asset records and
// the rulesets to associate them with.
type Catalog interface {
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	UpdateAssetAttributes(ctx context.Context, id string, attrs map[string]json.RawMessage) error
	EnabledJSONRulesets(ctx context.Context) ([]models.Ruleset, error)
	RulesetByID(ctx context.Context, id int64) (*models.Ruleset, error)
}

// StateStore is the slice of the redis store the engine needs: update
// buffering, snapshot caching and the asset-to-ruleset association sets.
type StateStore interface {
	BufferUpdate(ctx context.Context, assetID string, payload []byte) error
	DrainStreams(ctx context.Context, block time.Duration) ([]redispkg.BufferedUpdate, error)
	SetSnapshot(ctx context.Context, asset *models.Asset) error
	AssociatedRulesets(ctx context.Context, assetID string) ([]int64, error)
	Associate(ctx context.Context, rulesetID int64, assetIDs []string) error
	Dissociate(ctx context.Context, rulesetID int64) error
}

// Engine is the core ingestion and dispatch loop.
type Engine struct {
	mqttClient mqtt.Client
	store      StateStore
	db         Catalog
	queue      Enqueuer
	log        *zap.SugaredLogger

	cancel context.CancelFunc
}

func New(mqttClient mqtt.Client, store StateStore, database Catalog, queue Enqueuer, log *zap.SugaredLogger) *Engine {
	return &Engine{
		mqttClient: mqttClient,
		store:      store,
		db:         database,
		queue:      queue,
		log:        log.Named("engine"),
	}
}

// Start subscribes to attribute updates, rebuilds asset associations, and
// begins draining the debounce streams.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	e.log.Infow("subscribing to attribute updates", "topic", mqttpkg.AttributeTopic)
	if token := e.mqttClient.Subscribe(mqttpkg.AttributeTopic, 1, e.onAttributeUpdate); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	if err := e.RebuildAssociations(ctx); err != nil {
		return err
	}

	go e.processStreams(ctx)
	e.log.Info("engine started")
	return nil
}

// Stop disconnects the broker and stops the stream loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.mqttClient.Disconnect(250)
	e.log.Info("engine stopped")
}

// onAttributeUpdate buffers a raw attribute update into the asset's stream.
func (e *Engine) onAttributeUpdate(_ mqtt.Client, msg mqtt.Message) {
	assetID := mqttpkg.AssetIDFromTopic(msg.Topic())
	if assetID == "" {
		e.log.Warnw("update on unparseable topic", "topic", msg.Topic())
		return
	}

	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload(), &attrs); err != nil {
		e.log.Warnw("malformed attribute payload", "asset", assetID, "err", err)
		return
	}

	if err := e.store.BufferUpdate(context.Background(), assetID, msg.Payload()); err != nil {
		e.log.Errorw("stream append failed", "asset", assetID, "err", err)
	}
}

// processStreams drains the debounce streams, keeping only the newest update
// per asset within each window.
func (e *Engine) processStreams(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := e.store.DrainStreams(ctx, debounceWindow)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Errorw("stream drain failed", "err", err)
			time.Sleep(debounceWindow)
			continue
		}

		for _, update := range updates {
			var attrs map[string]json.RawMessage
			if err := json.Unmarshal(update.Payload, &attrs); err != nil {
				e.log.Warnw("dropping undecodable buffered update", "asset", update.AssetID, "err", err)
				continue
			}
			e.processBufferedUpdate(ctx, update.AssetID, attrs)
		}
	}
}

// processBufferedUpdate applies the debounced update: persist the attributes,
// refresh the snapshot cache and enqueue evaluation for every ruleset
// referencing the asset.
func (e *Engine) processBufferedUpdate(ctx context.Context, assetID string, attrs map[string]json.RawMessage) {
	asset, err := e.db.GetAsset(ctx, assetID)
	if err != nil {
		e.log.Errorw("asset lookup failed", "asset", assetID, "err", err)
		return
	}
	if asset == nil {
		e.log.Debugw("update for unknown asset", "asset", assetID)
		return
	}
	asset.Attributes = attrs

	if err := e.db.UpdateAssetAttributes(ctx, assetID, attrs); err != nil {
		e.log.Errorw("asset attribute persist failed", "asset", assetID, "err", err)
	}
	if err := e.store.SetSnapshot(ctx, asset); err != nil {
		e.log.Errorw("snapshot cache update failed", "asset", assetID, "err", err)
	}

	rulesetIDs, err := e.store.AssociatedRulesets(ctx, assetID)
	if err != nil {
		e.log.Errorw("association lookup failed", "asset", assetID, "err", err)
		return
	}
	for _, id := range rulesetIDs {
		if err := e.queue.EnqueueEvaluation(id, Trigger{AssetID: assetID}); err != nil {
			e.log.Errorw("enqueue failed", "ruleset", id, "asset", assetID, "err", err)
		}
	}
}

// RebuildAssociations recomputes the asset-to-ruleset association sets from
// every enabled JSON ruleset.
func (e *Engine) RebuildAssociations(ctx context.Context) error {
	rulesets, err := e.db.EnabledJSONRulesets(ctx)
	if err != nil {
		return err
	}

	for _, rs := range rulesets {
		if err := e.store.Dissociate(ctx, rs.ID); err != nil {
			return err
		}
		if err := e.associate(ctx, &rs); err != nil {
			e.log.Warnw("skipping ruleset with unparseable body", "ruleset", rs.ID, "err", err)
		}
	}
	e.log.Infow("associations rebuilt", "rulesets", len(rulesets))
	return nil
}

// RefreshRulesetAssociations re-links one ruleset after a create or update.
func (e *Engine) RefreshRulesetAssociations(ctx context.Context, rulesetID int64) error {
	if err := e.store.Dissociate(ctx, rulesetID); err != nil {
		return err
	}
	rs, err := e.db.RulesetByID(ctx, rulesetID)
	if err != nil {
		return err
	}
	if !rs.Enabled || rs.Lang != models.LangJSON {
		return nil
	}
	return e.associate(ctx, rs)
}

// RemoveRulesetAssociations unlinks a deleted ruleset.
func (e *Engine) RemoveRulesetAssociations(ctx context.Context, rulesetID int64) error {
	return e.store.Dissociate(ctx, rulesetID)
}

// TriggerRulesetEvaluation enqueues an immediate evaluation without an
// attribute trigger.
func (e *Engine) TriggerRulesetEvaluation(rulesetID int64) {
	if err := e.queue.EnqueueEvaluation(rulesetID, Trigger{}); err != nil {
		e.log.Errorw("manual trigger failed", "ruleset", rulesetID, "err", err)
	}
}

func (e *Engine) associate(ctx context.Context, rs *models.Ruleset) error {
	body, err := rules.ParseRuleBody(rs.Rules)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, rule := range body.Rules {
		for _, id := range rules.AssetIDs(rule.When) {
			if !seen[id] {
				seen[id] = true
				if err := e.store.Associate(ctx, rs.ID, []string{id}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
