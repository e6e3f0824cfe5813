package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Predicate type tags as they appear in the persisted rule-body JSON.
// These values are interop-normative and must not change.
const (
	PredicateTypeString     = "string"
	PredicateTypeNumber     = "number"
	PredicateTypeBoolean    = "boolean"
	PredicateTypeDateTime   = "datetime"
	PredicateTypeRadial     = "radial"
	PredicateTypeRect       = "rect"
	PredicateTypeArray      = "array"
	PredicateTypeValueEmpty = "value-empty"
	PredicateTypeValueAny   = "value-any"
)

// StringMatch selects how a string predicate compares its value.
type StringMatch string

const (
	MatchExact    StringMatch = "EXACT"
	MatchBegin    StringMatch = "BEGIN"
	MatchEnd      StringMatch = "END"
	MatchContains StringMatch = "CONTAINS"
)

// CompareOperator is the comparison set for number and datetime predicates.
type CompareOperator string

const (
	OpEquals        CompareOperator = "EQUALS"
	OpGreaterThan   CompareOperator = "GREATER_THAN"
	OpGreaterEquals CompareOperator = "GREATER_EQUALS"
	OpLessThan      CompareOperator = "LESS_THAN"
	OpLessEquals    CompareOperator = "LESS_EQUALS"
	OpBetween       CompareOperator = "BETWEEN"
)

var (
	ErrInvalidPredicate     = errors.New("invalid predicate")
	ErrUnknownPredicateType = errors.New("unknown predicate type")
)

// ValuePredicate is the closed set of value match variants. Each variant
// carries only its own payload; the discriminant is the predicateType tag
// in the JSON form.
type ValuePredicate interface {
	PredicateType() string
	// Matches reports whether the predicate holds for a snapshot value as
	// decoded from JSON (float64, string, bool, []any, map[string]any, nil).
	Matches(value any) bool
}

// StringPredicate matches a string value by mode and case sensitivity.
type StringPredicate struct {
	Match         StringMatch `json:"match,omitempty"`
	CaseSensitive bool        `json:"caseSensitive,omitempty"`
	Value         string      `json:"value"`
	Negate        bool        `json:"negate,omitempty"`
}

// NewStringPredicate validates the match mode. BETWEEN belongs to the
// number/datetime predicates and is rejected here.
func NewStringPredicate(match StringMatch, caseSensitive bool, value string, negate bool) (*StringPredicate, error) {
	switch match {
	case MatchExact, MatchBegin, MatchEnd, MatchContains:
	case "":
		match = MatchExact
	default:
		return nil, fmt.Errorf("%w: string match %q", ErrInvalidPredicate, match)
	}
	return &StringPredicate{Match: match, CaseSensitive: caseSensitive, Value: value, Negate: negate}, nil
}

func (p *StringPredicate) PredicateType() string { return PredicateTypeString }

func (p *StringPredicate) Matches(value any) bool {
	s, ok := value.(string)
	if !ok {
		return p.Negate
	}
	target := p.Value
	if !p.CaseSensitive {
		s = strings.ToLower(s)
		target = strings.ToLower(target)
	}
	var result bool
	switch p.Match {
	case MatchBegin:
		result = strings.HasPrefix(s, target)
	case MatchEnd:
		result = strings.HasSuffix(s, target)
	case MatchContains:
		result = strings.Contains(s, target)
	default:
		result = s == target
	}
	if p.Negate {
		return !result
	}
	return result
}

// NumberPredicate compares a numeric value. RangeValue is only set when
// Operator is BETWEEN.
type NumberPredicate struct {
	Operator   CompareOperator `json:"operator,omitempty"`
	Value      float64         `json:"value"`
	RangeValue float64         `json:"rangeValue,omitempty"`
	Negate     bool            `json:"negate,omitempty"`
}

func NewNumberPredicate(op CompareOperator, value float64, negate bool) (*NumberPredicate, error) {
	switch op {
	case OpEquals, OpGreaterThan, OpGreaterEquals, OpLessThan, OpLessEquals:
	case "":
		op = OpEquals
	case OpBetween:
		return nil, fmt.Errorf("%w: BETWEEN requires a range, use NewNumberRangePredicate", ErrInvalidPredicate)
	default:
		return nil, fmt.Errorf("%w: number operator %q", ErrInvalidPredicate, op)
	}
	return &NumberPredicate{Operator: op, Value: value, Negate: negate}, nil
}

func NewNumberRangePredicate(lo, hi float64, negate bool) (*NumberPredicate, error) {
	if hi < lo {
		return nil, fmt.Errorf("%w: range upper bound %v below lower bound %v", ErrInvalidPredicate, hi, lo)
	}
	return &NumberPredicate{Operator: OpBetween, Value: lo, RangeValue: hi, Negate: negate}, nil
}

func (p *NumberPredicate) PredicateType() string { return PredicateTypeNumber }

func (p *NumberPredicate) Matches(value any) bool {
	n, ok := toFloat(value)
	if !ok {
		return p.Negate
	}
	result := compareFloat(n, p.Operator, p.Value, p.RangeValue)
	if p.Negate {
		return !result
	}
	return result
}

// BooleanPredicate matches a boolean value exactly.
type BooleanPredicate struct {
	Value bool `json:"value"`
}

func (p *BooleanPredicate) PredicateType() string { return PredicateTypeBoolean }

func (p *BooleanPredicate) Matches(value any) bool {
	b, ok := value.(bool)
	return ok && b == p.Value
}

// DateTimePredicate compares epoch-millisecond timestamps with the same
// operator set as NumberPredicate.
type DateTimePredicate struct {
	Operator   CompareOperator `json:"operator,omitempty"`
	Value      int64           `json:"value"`
	RangeValue int64           `json:"rangeValue,omitempty"`
	Negate     bool            `json:"negate,omitempty"`
}

func NewDateTimePredicate(op CompareOperator, millis int64, negate bool) (*DateTimePredicate, error) {
	switch op {
	case OpEquals, OpGreaterThan, OpGreaterEquals, OpLessThan, OpLessEquals:
	case "":
		op = OpEquals
	case OpBetween:
		return nil, fmt.Errorf("%w: BETWEEN requires a range, use NewDateTimeRangePredicate", ErrInvalidPredicate)
	default:
		return nil, fmt.Errorf("%w: datetime operator %q", ErrInvalidPredicate, op)
	}
	return &DateTimePredicate{Operator: op, Value: millis, Negate: negate}, nil
}

func NewDateTimeRangePredicate(fromMillis, toMillis int64, negate bool) (*DateTimePredicate, error) {
	if toMillis < fromMillis {
		return nil, fmt.Errorf("%w: datetime range end before start", ErrInvalidPredicate)
	}
	return &DateTimePredicate{Operator: OpBetween, Value: fromMillis, RangeValue: toMillis, Negate: negate}, nil
}

func (p *DateTimePredicate) PredicateType() string { return PredicateTypeDateTime }

func (p *DateTimePredicate) Matches(value any) bool {
	n, ok := toFloat(value)
	if !ok {
		return p.Negate
	}
	result := compareFloat(n, p.Operator, float64(p.Value), float64(p.RangeValue))
	if p.Negate {
		return !result
	}
	return result
}

// RadialGeofencePredicate matches a GeoJSON point value inside a circle.
type RadialGeofencePredicate struct {
	Radius  int     `json:"radius"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Negated bool    `json:"negated,omitempty"`
}

func (p *RadialGeofencePredicate) PredicateType() string { return PredicateTypeRadial }

func (p *RadialGeofencePredicate) Matches(value any) bool {
	lng, lat, ok := toPoint(value)
	if !ok {
		return p.Negated
	}
	result := haversineMeters(p.Lat, p.Lng, lat, lng) <= float64(p.Radius)
	if p.Negated {
		return !result
	}
	return result
}

// RectangularGeofencePredicate matches a GeoJSON point value inside a
// lat/lng bounding box.
type RectangularGeofencePredicate struct {
	LatMin  float64 `json:"latMin"`
	LngMin  float64 `json:"lngMin"`
	LatMax  float64 `json:"latMax"`
	LngMax  float64 `json:"lngMax"`
	Negated bool    `json:"negated,omitempty"`
}

func (p *RectangularGeofencePredicate) PredicateType() string { return PredicateTypeRect }

func (p *RectangularGeofencePredicate) Matches(value any) bool {
	lng, lat, ok := toPoint(value)
	if !ok {
		return p.Negated
	}
	result := lat >= p.LatMin && lat <= p.LatMax && lng >= p.LngMin && lng <= p.LngMax
	if p.Negated {
		return !result
	}
	return result
}

// ArrayPredicate matches array values: an expected element (optionally at a
// fixed index) and/or length comparisons. All set fields must hold.
type ArrayPredicate struct {
	Value             json.RawMessage `json:"value,omitempty"`
	Index             *int            `json:"index,omitempty"`
	LengthEquals      *int            `json:"lengthEquals,omitempty"`
	LengthGreaterThan *int            `json:"lengthGreaterThan,omitempty"`
	LengthLessThan    *int            `json:"lengthLessThan,omitempty"`
	Negated           bool            `json:"negated,omitempty"`
}

func (p *ArrayPredicate) PredicateType() string { return PredicateTypeArray }

func (p *ArrayPredicate) Matches(value any) bool {
	arr, ok := value.([]any)
	if !ok {
		return p.Negated
	}
	result := true
	if p.LengthEquals != nil && len(arr) != *p.LengthEquals {
		result = false
	}
	if p.LengthGreaterThan != nil && len(arr) <= *p.LengthGreaterThan {
		result = false
	}
	if p.LengthLessThan != nil && len(arr) >= *p.LengthLessThan {
		result = false
	}
	if result && len(p.Value) > 0 {
		var want any
		if err := json.Unmarshal(p.Value, &want); err != nil {
			result = false
		} else if p.Index != nil {
			result = *p.Index >= 0 && *p.Index < len(arr) && looseEqual(arr[*p.Index], want)
		} else {
			found := false
			for _, el := range arr {
				if looseEqual(el, want) {
					found = true
					break
				}
			}
			result = found
		}
	}
	if p.Negated {
		return !result
	}
	return result
}

// ValueEmptyPredicate matches absent values (nil or empty string/array/object).
type ValueEmptyPredicate struct {
	Negate bool `json:"negate,omitempty"`
}

func (p *ValueEmptyPredicate) PredicateType() string { return PredicateTypeValueEmpty }

func (p *ValueEmptyPredicate) Matches(value any) bool {
	var empty bool
	switch v := value.(type) {
	case nil:
		empty = true
	case string:
		empty = v == ""
	case []any:
		empty = len(v) == 0
	case map[string]any:
		empty = len(v) == 0
	}
	if p.Negate {
		return !empty
	}
	return empty
}

// ValueAnyPredicate matches any present value.
type ValueAnyPredicate struct{}

func (p *ValueAnyPredicate) PredicateType() string { return PredicateTypeValueAny }

func (p *ValueAnyPredicate) Matches(value any) bool { return value != nil }

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func compareFloat(actual float64, op CompareOperator, value, rangeValue float64) bool {
	switch op {
	case OpGreaterThan:
		return actual > value
	case OpGreaterEquals:
		return actual >= value
	case OpLessThan:
		return actual < value
	case OpLessEquals:
		return actual <= value
	case OpBetween:
		return actual >= value && actual <= rangeValue
	default:
		return actual == value
	}
}

// toPoint decodes a GeoJSON point map {"type":"Point","coordinates":[lng,lat]}.
func toPoint(value any) (lng, lat float64, ok bool) {
	m, isMap := value.(map[string]any)
	if !isMap {
		return 0, 0, false
	}
	coords, isArr := m["coordinates"].([]any)
	if !isArr || len(coords) < 2 {
		return 0, 0, false
	}
	lng, okLng := toFloat(coords[0])
	lat, okLat := toFloat(coords[1])
	return lng, lat, okLng && okLat
}

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}

func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ab) == string(bb)
}
