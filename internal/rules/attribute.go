package rules

import (
	"encoding/json"
)

// Attribute is a snapshot leaf the engine evaluates predicates against:
// the current value, the previously observed value (for edge triggers) and
// meta items.
type Attribute struct {
	Name     string
	Value    any
	OldValue any
	Meta     map[string]any
}

// NameValuePredicate pairs a name match with a value match.
type NameValuePredicate struct {
	Name    *StringPredicate
	Value   ValuePredicate
	Negated bool
}

// Matches applies the name and value predicates to a named value. Unset
// predicates are treated as wildcards.
func (p *NameValuePredicate) Matches(name string, value any) bool {
	result := true
	if p.Name != nil && !p.Name.Matches(name) {
		result = false
	}
	if result && p.Value != nil && !p.Value.Matches(value) {
		result = false
	}
	if p.Negated {
		return !result
	}
	return result
}

func (p *NameValuePredicate) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	if p.Name != nil {
		b, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		out["name"] = b
	}
	if p.Value != nil {
		b, err := MarshalValuePredicate(p.Value)
		if err != nil {
			return nil, err
		}
		out["value"] = b
	}
	if p.Negated {
		out["negated"] = json.RawMessage("true")
	}
	return json.Marshal(out)
}

func (p *NameValuePredicate) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    *StringPredicate `json:"name"`
		Value   json.RawMessage  `json:"value"`
		Negated bool             `json:"negated"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Name = raw.Name
	p.Negated = raw.Negated
	p.Value = nil
	if len(raw.Value) > 0 && string(raw.Value) != "null" {
		v, err := UnmarshalValuePredicate(raw.Value)
		if err != nil {
			return err
		}
		p.Value = v
	}
	return nil
}

// AttributePredicate extends NameValuePredicate with meta predicates and an
// optional previous-value predicate for edge-triggered matching. Value shape
// versus the attribute's declared type is the caller's concern.
type AttributePredicate struct {
	NameValuePredicate
	Meta          []NameValuePredicate
	PreviousValue ValuePredicate
}

// MatchesAttribute evaluates the predicate against an attribute snapshot.
// The outer Negated flag flips the combined result.
func (p *AttributePredicate) MatchesAttribute(attr Attribute) bool {
	result := true
	if p.Name != nil && !p.Name.Matches(attr.Name) {
		result = false
	}
	if result && p.Value != nil && !p.Value.Matches(attr.Value) {
		result = false
	}
	if result && p.PreviousValue != nil && !p.PreviousValue.Matches(attr.OldValue) {
		result = false
	}
	if result {
		for i := range p.Meta {
			m := &p.Meta[i]
			matched := false
			for name, value := range attr.Meta {
				if m.Matches(name, value) {
					matched = true
					break
				}
			}
			if !matched {
				result = false
				break
			}
		}
	}
	if p.Negated {
		return !result
	}
	return result
}

func (p *AttributePredicate) MarshalJSON() ([]byte, error) {
	base, err := p.NameValuePredicate.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(base, &out); err != nil {
		return nil, err
	}
	if len(p.Meta) > 0 {
		b, err := json.Marshal(p.Meta)
		if err != nil {
			return nil, err
		}
		out["meta"] = b
	}
	if p.PreviousValue != nil {
		b, err := MarshalValuePredicate(p.PreviousValue)
		if err != nil {
			return nil, err
		}
		out["previousValue"] = b
	}
	return json.Marshal(out)
}

func (p *AttributePredicate) UnmarshalJSON(data []byte) error {
	if err := p.NameValuePredicate.UnmarshalJSON(data); err != nil {
		return err
	}
	var raw struct {
		Meta          []NameValuePredicate `json:"meta"`
		PreviousValue json.RawMessage      `json:"previousValue"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Meta = raw.Meta
	p.PreviousValue = nil
	if len(raw.PreviousValue) > 0 && string(raw.PreviousValue) != "null" {
		v, err := UnmarshalValuePredicate(raw.PreviousValue)
		if err != nil {
			return err
		}
		p.PreviousValue = v
	}
	return nil
}
