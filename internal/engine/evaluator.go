package engine

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"assetrules/internal/models"
	"assetrules/internal/rules"
	"assetrules/internal/validity"
)

// Trigger describes what caused an evaluation: an asset attribute update, a
// timer firing, or nothing (manual trigger).
type Trigger struct {
	AssetID string `json:"assetId,omitempty"`
	Timer   string `json:"timer,omitempty"`
}

// Directory resolves asset-query id/type filters against the asset store.
type Directory interface {
	QueryAssets(ctx context.Context, realm string, ids, types []string) ([]models.Asset, error)
}

// Snapshots serves cached attribute snapshots and their predecessors.
type Snapshots interface {
	Snapshot(ctx context.Context, assetID string) (*models.Asset, error)
	PreviousSnapshot(ctx context.Context, assetID string) (*models.Asset, error)
}

// Evaluator decides whether a ruleset's rules fire. Evaluation errors inside
// the condition tree degrade to false and are logged; only structural errors
// (unparseable body, malformed validity) surface to the caller.
type Evaluator struct {
	directory Directory
	snapshots Snapshots
	log       *zap.SugaredLogger
}

func NewEvaluator(directory Directory, snapshots Snapshots, log *zap.SugaredLogger) *Evaluator {
	return &Evaluator{directory: directory, snapshots: snapshots, log: log.Named("evaluator")}
}

// FiredRule couples a matched rule with the assets its conditions matched,
// so target-less actions know what to apply to.
type FiredRule struct {
	rules.JSONRule
	MatchedAssets []string
}

// matchSet collects matched asset ids in first-match order, deduplicated.
type matchSet struct {
	seen map[string]bool
	ids  []string
}

func (m *matchSet) add(id string) {
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if !m.seen[id] {
		m.seen[id] = true
		m.ids = append(m.ids, id)
	}
}

// EvaluateRuleset returns the rules of the ruleset whose when-tree matches.
// A ruleset outside its validity window yields no matches.
func (ev *Evaluator) EvaluateRuleset(ctx context.Context, rs *models.Ruleset, trigger Trigger, now time.Time) ([]FiredRule, error) {
	event, err := rs.Validity()
	if err != nil {
		return nil, err
	}
	if event != nil {
		window, err := validity.NewWindow(*event)
		if err != nil {
			return nil, err
		}
		if !window.IsActive(now) {
			ev.log.Debugw("ruleset outside validity window", "ruleset", rs.ID)
			return nil, nil
		}
	}

	body, err := rules.ParseRuleBody(rs.Rules)
	if err != nil {
		return nil, err
	}

	var fired []FiredRule
	for _, rule := range body.Rules {
		var matchedAssets matchSet
		matched, err := rules.Evaluate(rule.When, func(cond rules.RuleCondition) bool {
			return ev.conditionMatches(ctx, rs.Realm, cond, trigger, &matchedAssets)
		})
		if err != nil {
			ev.log.Warnw("when-tree evaluation failed", "ruleset", rs.ID, "rule", rule.Name, "err", err)
			continue
		}
		if matched {
			fired = append(fired, FiredRule{JSONRule: rule, MatchedAssets: matchedAssets.ids})
		}
	}
	return fired, nil
}

func (ev *Evaluator) conditionMatches(ctx context.Context, realm string, cond rules.RuleCondition, trigger Trigger, matched *matchSet) bool {
	switch cond.Kind() {
	case rules.ConditionAssets:
		return ev.assetsMatch(ctx, realm, cond.Assets, matched)
	case rules.ConditionTimer:
		// A timer condition is satisfied only by its own firing.
		return trigger.Timer != "" && trigger.Timer == cond.Timer
	case rules.ConditionSun:
		ev.log.Debugw("sun-position conditions need a location fix, treating as unmatched",
			"position", cond.Sun.Position)
		return false
	case rules.ConditionTag:
		return ev.tagMatches(ctx, realm, cond.Tag, matched)
	default:
		return false
	}
}

// assetsMatch reports whether any asset satisfies the query, recording every
// satisfying asset.
func (ev *Evaluator) assetsMatch(ctx context.Context, realm string, q *rules.AssetQuery, matched *matchSet) bool {
	if q.Realm != "" {
		realm = q.Realm
	}
	candidates, err := ev.candidates(ctx, realm, q.IDs, q.Types)
	if err != nil {
		ev.log.Warnw("asset query failed", "err", err)
		return false
	}

	any := false
	for i := range candidates {
		if ev.assetMatches(ctx, &candidates[i], q) {
			matched.add(candidates[i].ID)
			any = true
		}
	}
	return any
}

// candidates prefers the snapshot cache for explicit ids and falls back to
// the asset directory.
func (ev *Evaluator) candidates(ctx context.Context, realm string, ids, types []string) ([]models.Asset, error) {
	if len(ids) == 0 {
		return ev.directory.QueryAssets(ctx, realm, nil, types)
	}

	var assets []models.Asset
	var missing []string
	for _, id := range ids {
		asset, err := ev.snapshots.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			missing = append(missing, id)
			continue
		}
		assets = append(assets, *asset)
	}
	if len(missing) > 0 {
		fetched, err := ev.directory.QueryAssets(ctx, realm, missing, types)
		if err != nil {
			return nil, err
		}
		assets = append(assets, fetched...)
	}
	if len(types) > 0 {
		assets = filterTypes(assets, types)
	}
	return assets, nil
}

func filterTypes(assets []models.Asset, types []string) []models.Asset {
	keep := assets[:0]
	for _, a := range assets {
		for _, t := range types {
			if a.Type == t {
				keep = append(keep, a)
				break
			}
		}
	}
	return keep
}

func (ev *Evaluator) assetMatches(ctx context.Context, asset *models.Asset, q *rules.AssetQuery) bool {
	for _, name := range q.Names {
		if name != nil && !name.Matches(asset.Name) {
			return false
		}
	}

	attrs := ev.attributeSnapshots(ctx, asset)
	matched, err := rules.Evaluate(q.Attributes, func(p rules.AttributePredicate) bool {
		for _, attr := range attrs {
			if p.MatchesAttribute(attr) {
				return true
			}
		}
		return false
	})
	if err != nil {
		ev.log.Warnw("attribute group evaluation failed", "asset", asset.ID, "err", err)
		return false
	}
	return matched
}

// attributeSnapshots decodes the asset's attributes, attaching previous
// values for edge-triggered predicates when the cache has them.
func (ev *Evaluator) attributeSnapshots(ctx context.Context, asset *models.Asset) []rules.Attribute {
	var previous map[string]json.RawMessage
	if prev, err := ev.snapshots.PreviousSnapshot(ctx, asset.ID); err == nil && prev != nil {
		previous = prev.Attributes
	}

	attrs := make([]rules.Attribute, 0, len(asset.Attributes))
	for name, raw := range asset.Attributes {
		attr := rules.Attribute{Name: name, Value: decodeValue(raw)}
		if old, ok := previous[name]; ok {
			attr.OldValue = decodeValue(old)
		}
		attrs = append(attrs, attr)
	}
	return attrs
}

func decodeValue(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// tagMatches reports whether any asset in the realm carries the tag in its
// "tags" attribute, recording every tagged asset.
func (ev *Evaluator) tagMatches(ctx context.Context, realm, tag string, matched *matchSet) bool {
	assets, err := ev.directory.QueryAssets(ctx, realm, nil, nil)
	if err != nil {
		ev.log.Warnw("tag query failed", "tag", tag, "err", err)
		return false
	}
	any := false
	for i := range assets {
		if assetHasTag(&assets[i], tag) {
			matched.add(assets[i].ID)
			any = true
		}
	}
	return any
}

func assetHasTag(asset *models.Asset, tag string) bool {
	raw, ok := asset.Attributes["tags"]
	if !ok {
		return false
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return false
	}
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
