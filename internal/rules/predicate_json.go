package rules

import (
	"encoding/json"
	"fmt"
)

// MarshalValuePredicate encodes a predicate variant with its predicateType
// tag injected. Field names are the persisted rule-body wire format.
func MarshalValuePredicate(p ValuePredicate) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(p)
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
	fields["predicateType"] = json.RawMessage(fmt.Sprintf("%q", p.PredicateType()))
	return json.Marshal(fields)
}

// UnmarshalValuePredicate decodes a tagged predicate into its concrete
// variant. Unknown tags fail fast with ErrUnknownPredicateType.
func UnmarshalValuePredicate(data []byte) (ValuePredicate, error) {
	var tag struct {
		PredicateType string `json:"predicateType"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPredicate, err)
	}
	var p ValuePredicate
	switch tag.PredicateType {
	case PredicateTypeString:
		p = &StringPredicate{}
	case PredicateTypeNumber:
		p = &NumberPredicate{}
	case PredicateTypeBoolean:
		p = &BooleanPredicate{}
	case PredicateTypeDateTime:
		p = &DateTimePredicate{}
	case PredicateTypeRadial:
		p = &RadialGeofencePredicate{}
	case PredicateTypeRect:
		p = &RectangularGeofencePredicate{}
	case PredicateTypeArray:
		p = &ArrayPredicate{}
	case PredicateTypeValueEmpty:
		p = &ValueEmptyPredicate{}
	case PredicateTypeValueAny:
		p = &ValueAnyPredicate{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPredicateType, tag.PredicateType)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPredicate, err)
	}
	return p, nil
}
