package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assetrules/internal/validity"
)

// RulesetScope determines what a ruleset's rules may reference.
type RulesetScope string

const (
	ScopeAsset  RulesetScope = "asset"
	ScopeRealm  RulesetScope = "realm"
	ScopeGlobal RulesetScope = "global"
)

// RulesetLang identifies the language of the rules body.
type RulesetLang string

const (
	LangJSON   RulesetLang = "JSON"
	LangGroovy RulesetLang = "GROOVY"
	LangFlow   RulesetLang = "FLOW"
)

// RulesetStatus is the deployment status reported by the execution engine.
type RulesetStatus string

const (
	StatusReady    RulesetStatus = "ready"
	StatusDeployed RulesetStatus = "deployed"
	StatusPaused   RulesetStatus = "paused"
	StatusError    RulesetStatus = "error"
)

// ValidityMetaKey is the meta entry holding the validity calendar event.
const ValidityMetaKey = "validity"

var ErrInvalidRuleset = errors.New("invalid ruleset")

// Ruleset is a named container for one automation rule body plus metadata.
// ID 0 marks a draft that the store has not persisted yet.
type Ruleset struct {
	ID           int64                      `json:"id"`
	Type         RulesetScope               `json:"type"`
	Name         string                     `json:"name"`
	Enabled      bool                       `json:"enabled"`
	Rules        string                     `json:"rules"`
	Lang         RulesetLang                `json:"lang"`
	Meta         map[string]json.RawMessage `json:"meta,omitempty"`
	Status       RulesetStatus              `json:"status,omitempty"`
	Error        string                     `json:"error,omitempty"`
	Realm        string                     `json:"realm,omitempty"`
	AssetID      string                     `json:"assetId,omitempty"`
	CreatedOn    time.Time                  `json:"createdOn,omitempty"`
	LastModified time.Time                  `json:"lastModified,omitempty"`
}

// Persisted reports whether the store has assigned an id.
func (r *Ruleset) Persisted() bool { return r.ID != 0 }

// Validate checks the entity invariants before persistence.
func (r *Ruleset) Validate() error {
	if len(r.Name) < 3 || len(r.Name) > 255 {
		return fmt.Errorf("%w: name must be 3-255 characters, got %d", ErrInvalidRuleset, len(r.Name))
	}
	switch r.Type {
	case ScopeAsset, ScopeRealm, ScopeGlobal:
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidRuleset, r.Type)
	}
	switch r.Lang {
	case LangJSON, LangGroovy, LangFlow:
	default:
		return fmt.Errorf("%w: unknown language %q", ErrInvalidRuleset, r.Lang)
	}
	if r.Type == ScopeAsset && r.AssetID == "" {
		return fmt.Errorf("%w: asset-scoped ruleset needs an asset id", ErrInvalidRuleset)
	}
	return nil
}

// Validity decodes the validity calendar event from meta; nil when unset.
func (r *Ruleset) Validity() (*validity.CalendarEvent, error) {
	raw, ok := r.Meta[ValidityMetaKey]
	if !ok {
		return nil, nil
	}
	var ev validity.CalendarEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: validity meta: %v", ErrInvalidRuleset, err)
	}
	return &ev, nil
}

// SetValidity stores (or clears, with nil) the validity window in meta.
func (r *Ruleset) SetValidity(ev *validity.CalendarEvent) error {
	if ev == nil {
		delete(r.Meta, ValidityMetaKey)
		return nil
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if r.Meta == nil {
		r.Meta = map[string]json.RawMessage{}
	}
	r.Meta[ValidityMetaKey] = raw
	return nil
}

// RealmContext carries the realm and permission information an operation
// runs under. It is threaded explicitly into queries and handlers; there is
// no ambient global session.
type RealmContext struct {
	Realm  string
	UserID string
	Roles  []string
}

func (c RealmContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Asset is the minimal asset shape the rules service works with: identity
// plus an attribute snapshot.
type Asset struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name"`
	Type       string                     `json:"type"`
	Realm      string                     `json:"realm"`
	Attributes map[string]json.RawMessage `json:"attributes"`
}
