package engine

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	mqttpkg "assetrules/internal/mqtt"
	"assetrules/internal/rules"
)

// NotificationTopic carries notification actions to downstream consumers.
const NotificationTopic = "notifications"

// Executor runs the action list of a fired rule in order. A wait action
// delays the actions after it; cancellation aborts the remainder.
type Executor struct {
	mqttClient mqtt.Client
	directory  Directory
	log        *zap.SugaredLogger
}

func NewExecutor(mqttClient mqtt.Client, directory Directory, log *zap.SugaredLogger) *Executor {
	return &Executor{mqttClient: mqttClient, directory: directory, log: log.Named("executor")}
}

// ExecuteActions runs the actions of one fired rule. matchedAssets are the
// assets the rule's conditions matched; target-less write actions apply to
// them.
func (x *Executor) ExecuteActions(ctx context.Context, realm, ruleName string, matchedAssets []string, actions []rules.RuleAction) error {
	for _, action := range actions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch a := action.(type) {
		case *rules.WriteAttributeAction:
			x.writeAttribute(ctx, realm, ruleName, matchedAssets, a)
		case *rules.NotificationAction:
			x.notify(ruleName, a)
		case *rules.WaitAction:
			select {
			case <-time.After(time.Duration(a.Millis) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			x.log.Warnw("unexecutable action", "rule", ruleName, "action", action.ActionType())
		}
	}
	return nil
}

func (x *Executor) writeAttribute(ctx context.Context, realm, ruleName string, matchedAssets []string, a *rules.WriteAttributeAction) {
	payload, err := json.Marshal(map[string]json.RawMessage{a.AttributeName: a.Value})
	if err != nil {
		x.log.Errorw("write-attribute payload encode failed", "rule", ruleName, "err", err)
		return
	}

	for _, assetID := range x.targetAssets(ctx, realm, a.Target, matchedAssets) {
		topic := mqttpkg.WriteTopic(assetID)
		x.log.Debugw("publishing attribute write", "rule", ruleName, "topic", topic, "attribute", a.AttributeName)
		x.mqttClient.Publish(topic, 1, false, payload)
	}
}

// targetAssets resolves the action target to concrete asset ids. A nil
// target addresses every asset the rule's conditions matched; a matched tag
// expands to every tagged asset in the realm.
func (x *Executor) targetAssets(ctx context.Context, realm string, target *rules.ActionTarget, matchedAssets []string) []string {
	if target == nil {
		return matchedAssets
	}
	ids := append([]string(nil), target.AssetIDs...)
	if target.MatchedTag != "" {
		assets, err := x.directory.QueryAssets(ctx, realm, nil, nil)
		if err != nil {
			x.log.Warnw("tag target resolution failed", "tag", target.MatchedTag, "err", err)
			return ids
		}
		for i := range assets {
			if assetHasTag(&assets[i], target.MatchedTag) {
				ids = append(ids, assets[i].ID)
			}
		}
	}
	return ids
}

func (x *Executor) notify(ruleName string, a *rules.NotificationAction) {
	payload, err := json.Marshal(a)
	if err != nil {
		x.log.Errorw("notification encode failed", "rule", ruleName, "err", err)
		return
	}
	x.log.Infow("notification", "rule", ruleName, "name", a.Name, "message", a.Message)
	x.mqttClient.Publish(NotificationTopic, 1, false, payload)
}
