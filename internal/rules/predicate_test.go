package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringPredicateModes(t *testing.T) {
	tests := []struct {
		name  string
		match StringMatch
		cs    bool
		value string
		in    any
		want  bool
	}{
		{"exact hit", MatchExact, true, "kitchen", "kitchen", true},
		{"exact miss", MatchExact, true, "kitchen", "Kitchen", false},
		{"exact case-insensitive", MatchExact, false, "kitchen", "KITCHEN", true},
		{"begin", MatchBegin, true, "temp", "temperature", true},
		{"end", MatchEnd, true, "ture", "temperature", true},
		{"contains", MatchContains, true, "era", "temperature", true},
		{"contains miss", MatchContains, true, "xyz", "temperature", false},
		{"non-string value", MatchExact, true, "kitchen", 42.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewStringPredicate(tt.match, tt.cs, tt.value, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Matches(tt.in))
		})
	}
}

func TestStringPredicateNegate(t *testing.T) {
	p, err := NewStringPredicate(MatchExact, true, "kitchen", true)
	require.NoError(t, err)
	assert.False(t, p.Matches("kitchen"))
	assert.True(t, p.Matches("lounge"))
}

func TestStringPredicateRejectsUnknownMatch(t *testing.T) {
	_, err := NewStringPredicate("BETWEEN", true, "x", false)
	assert.ErrorIs(t, err, ErrInvalidPredicate)
}

func TestNumberPredicateOperators(t *testing.T) {
	tests := []struct {
		op    CompareOperator
		value float64
		in    float64
		want  bool
	}{
		{OpEquals, 30, 30, true},
		{OpEquals, 30, 31, false},
		{OpGreaterThan, 30, 32, true},
		{OpGreaterThan, 30, 30, false},
		{OpGreaterEquals, 30, 30, true},
		{OpLessThan, 30, 28, true},
		{OpLessEquals, 30, 30, true},
	}
	for _, tt := range tests {
		p, err := NewNumberPredicate(tt.op, tt.value, false)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.Matches(tt.in), "%v %s %v", tt.in, tt.op, tt.value)
	}
}

func TestNumberPredicateBetween(t *testing.T) {
	_, err := NewNumberPredicate(OpBetween, 10, false)
	assert.ErrorIs(t, err, ErrInvalidPredicate, "BETWEEN without a range is illegal")

	p, err := NewNumberRangePredicate(10, 20, false)
	require.NoError(t, err)
	assert.True(t, p.Matches(10.0))
	assert.True(t, p.Matches(15.0))
	assert.True(t, p.Matches(20.0))
	assert.False(t, p.Matches(21.0))

	_, err = NewNumberRangePredicate(20, 10, false)
	assert.ErrorIs(t, err, ErrInvalidPredicate)
}

func TestNumberPredicateNoRangeValueOutsideBetween(t *testing.T) {
	p, err := NewNumberPredicate(OpGreaterThan, 30, false)
	require.NoError(t, err)
	assert.Zero(t, p.RangeValue, "rangeValue must stay unset outside BETWEEN")
}

func TestDateTimePredicate(t *testing.T) {
	p, err := NewDateTimeRangePredicate(1000, 2000, false)
	require.NoError(t, err)
	assert.True(t, p.Matches(1500.0))
	assert.False(t, p.Matches(2500.0))

	_, err = NewDateTimePredicate(OpBetween, 0, false)
	assert.ErrorIs(t, err, ErrInvalidPredicate)
}

func TestBooleanPredicate(t *testing.T) {
	p := &BooleanPredicate{Value: true}
	assert.True(t, p.Matches(true))
	assert.False(t, p.Matches(false))
	assert.False(t, p.Matches("true"))
}

func TestValueEmptyAndAnyPredicates(t *testing.T) {
	empty := &ValueEmptyPredicate{}
	assert.True(t, empty.Matches(nil))
	assert.True(t, empty.Matches(""))
	assert.True(t, empty.Matches([]any{}))
	assert.False(t, empty.Matches("x"))

	notEmpty := &ValueEmptyPredicate{Negate: true}
	assert.True(t, notEmpty.Matches("x"))

	anyP := &ValueAnyPredicate{}
	assert.True(t, anyP.Matches(0.0))
	assert.False(t, anyP.Matches(nil))
}

func TestArrayPredicate(t *testing.T) {
	idx := 1
	length := 3
	p := &ArrayPredicate{Value: json.RawMessage(`"b"`), Index: &idx, LengthEquals: &length}
	assert.True(t, p.Matches([]any{"a", "b", "c"}))
	assert.False(t, p.Matches([]any{"b", "a", "c"}))
	assert.False(t, p.Matches([]any{"a", "b"}))

	contains := &ArrayPredicate{Value: json.RawMessage(`2`)}
	assert.True(t, contains.Matches([]any{1.0, 2.0, 3.0}))
	assert.False(t, contains.Matches([]any{1.0, 3.0}))
}

func TestRadialGeofencePredicate(t *testing.T) {
	p := &RadialGeofencePredicate{Radius: 1000, Lat: 52.52, Lng: 13.405}
	inside := map[string]any{"type": "Point", "coordinates": []any{13.406, 52.521}}
	outside := map[string]any{"type": "Point", "coordinates": []any{13.5, 52.6}}
	assert.True(t, p.Matches(inside))
	assert.False(t, p.Matches(outside))
}

func TestRectangularGeofencePredicate(t *testing.T) {
	p := &RectangularGeofencePredicate{LatMin: 50, LatMax: 53, LngMin: 10, LngMax: 14}
	assert.True(t, p.Matches(map[string]any{"coordinates": []any{13.0, 52.0}}))
	assert.False(t, p.Matches(map[string]any{"coordinates": []any{15.0, 52.0}}))
}

func TestValuePredicateJSONRoundTrip(t *testing.T) {
	np, err := NewNumberRangePredicate(10, 20, true)
	require.NoError(t, err)
	sp, err := NewStringPredicate(MatchBegin, true, "temp", false)
	require.NoError(t, err)

	tests := []struct {
		p       ValuePredicate
		tagJSON string
	}{
		{np, `"number"`},
		{sp, `"string"`},
		{&BooleanPredicate{Value: true}, `"boolean"`},
		{&DateTimePredicate{Operator: OpLessThan, Value: 99}, `"datetime"`},
		{&RadialGeofencePredicate{Radius: 100, Lat: 1, Lng: 2}, `"radial"`},
		{&RectangularGeofencePredicate{LatMin: 1, LatMax: 2, LngMin: 3, LngMax: 4}, `"rect"`},
		{&ArrayPredicate{Value: json.RawMessage(`1`)}, `"array"`},
		{&ValueEmptyPredicate{Negate: true}, `"value-empty"`},
		{&ValueAnyPredicate{}, `"value-any"`},
	}
	for _, tt := range tests {
		data, err := MarshalValuePredicate(tt.p)
		require.NoError(t, err)

		var tag map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &tag))
		assert.JSONEq(t, tt.tagJSON, string(tag["predicateType"]))

		back, err := UnmarshalValuePredicate(data)
		require.NoError(t, err)
		assert.Equal(t, tt.p, back)
	}
}

func TestUnmarshalValuePredicateUnknownType(t *testing.T) {
	_, err := UnmarshalValuePredicate([]byte(`{"predicateType":"fuzzy"}`))
	assert.ErrorIs(t, err, ErrUnknownPredicateType)
}

func TestAttributePredicateSnapshotScenario(t *testing.T) {
	tempName, err := NewStringPredicate(MatchExact, true, "temperature", false)
	require.NoError(t, err)
	tempValue, err := NewNumberPredicate(OpGreaterThan, 30, false)
	require.NoError(t, err)
	occName, err := NewStringPredicate(MatchExact, true, "occupancy", false)
	require.NoError(t, err)

	group := LogicGroup[AttributePredicate]{
		Operator: OperatorAnd,
		Items: []AttributePredicate{
			{NameValuePredicate: NameValuePredicate{Name: tempName, Value: tempValue}},
			{NameValuePredicate: NameValuePredicate{Name: occName, Value: &BooleanPredicate{Value: true}}},
		},
	}

	evalAgainst := func(snapshot map[string]any) bool {
		got, err := Evaluate(group, func(p AttributePredicate) bool {
			for name, value := range snapshot {
				if p.MatchesAttribute(Attribute{Name: name, Value: value}) {
					return true
				}
			}
			return false
		})
		require.NoError(t, err)
		return got
	}

	assert.True(t, evalAgainst(map[string]any{"temperature": 32.0, "occupancy": true}))
	assert.False(t, evalAgainst(map[string]any{"temperature": 28.0, "occupancy": true}))
}

func TestAttributePredicatePreviousValue(t *testing.T) {
	name, err := NewStringPredicate(MatchExact, true, "presence", false)
	require.NoError(t, err)
	p := AttributePredicate{
		NameValuePredicate: NameValuePredicate{Name: name, Value: &BooleanPredicate{Value: true}},
		PreviousValue:      &BooleanPredicate{Value: false},
	}

	// Edge trigger: only a false-to-true transition matches.
	assert.True(t, p.MatchesAttribute(Attribute{Name: "presence", Value: true, OldValue: false}))
	assert.False(t, p.MatchesAttribute(Attribute{Name: "presence", Value: true, OldValue: true}))
}

func TestAttributePredicateJSONRoundTrip(t *testing.T) {
	name, err := NewStringPredicate(MatchExact, true, "temperature", false)
	require.NoError(t, err)
	value, err := NewNumberRangePredicate(18, 24, false)
	require.NoError(t, err)
	p := AttributePredicate{
		NameValuePredicate: NameValuePredicate{Name: name, Value: value, Negated: true},
		PreviousValue:      &ValueEmptyPredicate{},
		Meta: []NameValuePredicate{
			{Name: mustString(t, "units"), Value: &ValueAnyPredicate{}},
		},
	}

	data, err := json.Marshal(&p)
	require.NoError(t, err)

	var back AttributePredicate
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p, back)
}

func mustString(t *testing.T, v string) *StringPredicate {
	t.Helper()
	p, err := NewStringPredicate(MatchExact, true, v, false)
	require.NoError(t, err)
	return p
}
