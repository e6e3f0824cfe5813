package rules

import (
	"encoding/json"
	"fmt"
)

// JSONRule is one rule of a JSON-language ruleset body: a when-tree of
// conditions and an ordered action list.
type JSONRule struct {
	Name        string
	Description string
	When        LogicGroup[RuleCondition]
	Then        []RuleAction
}

// RuleBody is the persisted shape of a JSON-language ruleset's rules field.
type RuleBody struct {
	Rules []JSONRule `json:"rules"`
}

func (r *JSONRule) MarshalJSON() ([]byte, error) {
	actions := make([]json.RawMessage, 0, len(r.Then))
	for _, a := range r.Then {
		b, err := MarshalRuleAction(a)
		if err != nil {
			return nil, err
		}
		actions = append(actions, b)
	}
	return json.Marshal(struct {
		Name        string                    `json:"name,omitempty"`
		Description string                    `json:"description,omitempty"`
		When        LogicGroup[RuleCondition] `json:"when"`
		Then        []json.RawMessage         `json:"then,omitempty"`
	}{r.Name, r.Description, r.When, actions})
}

func (r *JSONRule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name        string                    `json:"name"`
		Description string                    `json:"description"`
		When        LogicGroup[RuleCondition] `json:"when"`
		Then        []json.RawMessage         `json:"then"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Name = raw.Name
	r.Description = raw.Description
	r.When = raw.When
	r.Then = r.Then[:0]
	for i, rawAction := range raw.Then {
		a, err := UnmarshalRuleAction(rawAction)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		r.Then = append(r.Then, a)
	}
	return nil
}

// ParseRuleBody decodes and validates a JSON-language rules body.
func ParseRuleBody(body string) (*RuleBody, error) {
	var rb RuleBody
	if err := json.Unmarshal([]byte(body), &rb); err != nil {
		return nil, err
	}
	for i := range rb.Rules {
		if err := validateWhen(&rb.Rules[i].When); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rb.Rules[i].Name, err)
		}
	}
	return &rb, nil
}

// Serialize renders the body back to its persisted string form.
func (rb *RuleBody) Serialize() (string, error) {
	b, err := json.Marshal(rb)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func validateWhen(g *LogicGroup[RuleCondition]) error {
	switch g.Operator {
	case OperatorAnd, OperatorOr, "":
	default:
		return ErrInvalidLogicGroup
	}
	for i := range g.Items {
		if err := g.Items[i].Validate(); err != nil {
			return err
		}
	}
	for i := range g.Groups {
		if err := validateWhen(&g.Groups[i]); err != nil {
			return err
		}
	}
	return nil
}

// TimerExpressions collects all timer condition expressions in a when-tree.
// The scheduler registers cron jobs for these.
func TimerExpressions(g LogicGroup[RuleCondition]) []string {
	var out []string
	for _, item := range g.Items {
		if item.Timer != "" {
			out = append(out, item.Timer)
		}
	}
	for _, sub := range g.Groups {
		out = append(out, TimerExpressions(sub)...)
	}
	return out
}

// AssetIDs collects all asset IDs referenced by asset-query conditions in a
// when-tree. The engine uses these to maintain asset to ruleset associations.
func AssetIDs(g LogicGroup[RuleCondition]) []string {
	seen := map[string]bool{}
	var walk func(LogicGroup[RuleCondition])
	walk = func(g LogicGroup[RuleCondition]) {
		for _, item := range g.Items {
			if item.Assets != nil {
				for _, id := range item.Assets.IDs {
					seen[id] = true
				}
			}
		}
		for _, sub := range g.Groups {
			walk(sub)
		}
	}
	walk(g)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}
