package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCondition marks a condition with zero or multiple variants set,
// or a malformed timer expression.
var ErrInvalidCondition = errors.New("invalid rule condition")

// ConditionKind identifies the populated variant of a RuleCondition.
type ConditionKind string

const (
	ConditionAssets ConditionKind = "assets"
	ConditionTimer  ConditionKind = "timer"
	ConditionSun    ConditionKind = "sun"
	ConditionTag    ConditionKind = "tag"
	ConditionNone   ConditionKind = ""
)

// AssetQuery selects assets and the attribute predicates to test against
// them. Attribute predicates compose through a logic group of unbounded
// depth.
type AssetQuery struct {
	IDs        []string                       `json:"ids,omitempty"`
	Types      []string                       `json:"types,omitempty"`
	Realm      string                         `json:"realm,omitempty"`
	Names      []*StringPredicate             `json:"names,omitempty"`
	Attributes LogicGroup[AttributePredicate] `json:"attributes,omitempty"`
}

// SunPositionTrigger fires relative to a solar position event.
type SunPositionTrigger struct {
	Position   string `json:"position"` // e.g. "sunrise", "sunset", "twilight_civil_dawn"
	OffsetMins int    `json:"offsetMins,omitempty"`
}

// RuleCondition is a tagged variant: exactly one of the fields is populated.
type RuleCondition struct {
	Assets *AssetQuery         `json:"assets,omitempty"`
	Timer  string              `json:"timer,omitempty"` // cron expression or ISO-8601 duration
	Sun    *SunPositionTrigger `json:"sun,omitempty"`
	Tag    string              `json:"tag,omitempty"`
}

// Kind returns the populated variant, or ConditionNone when empty or
// ambiguous.
func (c *RuleCondition) Kind() ConditionKind {
	kinds := make([]ConditionKind, 0, 1)
	if c.Assets != nil {
		kinds = append(kinds, ConditionAssets)
	}
	if c.Timer != "" {
		kinds = append(kinds, ConditionTimer)
	}
	if c.Sun != nil {
		kinds = append(kinds, ConditionSun)
	}
	if c.Tag != "" {
		kinds = append(kinds, ConditionTag)
	}
	if len(kinds) != 1 {
		return ConditionNone
	}
	return kinds[0]
}

// Validate enforces the exactly-one-variant invariant and checks the timer
// expression when present.
func (c *RuleCondition) Validate() error {
	kind := c.Kind()
	if kind == ConditionNone {
		return fmt.Errorf("%w: exactly one variant must be set", ErrInvalidCondition)
	}
	if kind == ConditionTimer {
		if err := ValidateTimer(c.Timer); err != nil {
			return err
		}
	}
	return nil
}

// isoDurationPattern covers the ISO-8601 duration subset used by timer
// conditions, e.g. "PT1H30M" or "P1DT12H".
var isoDurationPattern = regexp.MustCompile(`^P(?:\d+[YMWD])*(?:T(?:\d+[HMS])+)?$`)

// ValidateTimer accepts either a cron expression or an ISO-8601 duration.
func ValidateTimer(timer string) error {
	if strings.HasPrefix(timer, "P") {
		if !isoDurationPattern.MatchString(timer) || timer == "P" {
			return fmt.Errorf("%w: malformed duration %q", ErrInvalidCondition, timer)
		}
		return nil
	}
	if _, err := cron.ParseStandard(timer); err != nil {
		return fmt.Errorf("%w: malformed cron expression %q: %v", ErrInvalidCondition, timer, err)
	}
	return nil
}
