package rules

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action type tags as persisted in the rule-body JSON.
const (
	ActionTypeWriteAttribute = "write-attribute"
	ActionTypeNotification   = "notification"
	ActionTypeWait           = "wait"
)

var ErrUnknownActionType = errors.New("unknown rule action type")

// RuleAction is the closed set of action variants, keyed by the "action"
// tag in JSON.
type RuleAction interface {
	ActionType() string
}

// ActionTarget narrows which matched assets an action applies to. An empty
// target means all assets matched by the triggering condition.
type ActionTarget struct {
	MatchedTag string   `json:"matchedTag,omitempty"`
	AssetIDs   []string `json:"assets,omitempty"`
}

// WriteAttributeAction writes a value to an attribute of the targeted assets.
type WriteAttributeAction struct {
	Target        *ActionTarget   `json:"target,omitempty"`
	AttributeName string          `json:"attributeName"`
	Value         json.RawMessage `json:"value"`
}

func (a *WriteAttributeAction) ActionType() string { return ActionTypeWriteAttribute }

// NotificationAction sends a named notification message.
type NotificationAction struct {
	Name    string   `json:"name,omitempty"`
	Message string   `json:"message"`
	Targets []string `json:"targets,omitempty"`
}

func (a *NotificationAction) ActionType() string { return ActionTypeNotification }

// WaitAction pauses action execution.
type WaitAction struct {
	Millis int64 `json:"millis"`
}

func (a *WaitAction) ActionType() string { return ActionTypeWait }

// MarshalRuleAction encodes an action variant with its "action" tag injected.
func MarshalRuleAction(a RuleAction) ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	fields["action"] = json.RawMessage(fmt.Sprintf("%q", a.ActionType()))
	return json.Marshal(fields)
}

// UnmarshalRuleAction decodes a tagged action into its concrete variant.
func UnmarshalRuleAction(data []byte) (RuleAction, error) {
	var tag struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}
	var a RuleAction
	switch tag.Action {
	case ActionTypeWriteAttribute:
		a = &WriteAttributeAction{}
	case ActionTypeNotification:
		a = &NotificationAction{}
	case ActionTypeWait:
		a = &WaitAction{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, tag.Action)
	}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}
