// Package editor tracks the draft/modified/saved lifecycle of the ruleset
// being edited and gates selection changes that would discard unsaved edits.
package editor

import (
	"context"
	"errors"
	"fmt"

	"assetrules/internal/models"
)

// State of the editor.
type State int

const (
	StateUnselected State = iota
	StateViewing
	StateEditing
	StateSaving
	StateSaveFailed
)

func (s State) String() string {
	switch s {
	case StateUnselected:
		return "unselected"
	case StateViewing:
		return "viewing"
	case StateEditing:
		return "editing"
	case StateSaving:
		return "saving"
	case StateSaveFailed:
		return "save-failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrDiscardDeclined = errors.New("discard of unsaved edits declined")
	ErrSaveFailed      = errors.New("ruleset save failed")
	ErrNoSelection     = errors.New("no ruleset selected")
	ErrSaveInFlight    = errors.New("a save is already in flight")
)

// Store is the external persistence collaborator.
type Store interface {
	CreateRuleset(ctx context.Context, rc models.RealmContext, rs models.Ruleset) (int64, error)
	UpdateRuleset(ctx context.Context, rc models.RealmContext, id int64, rs models.Ruleset) error
	DeleteRuleset(ctx context.Context, rc models.RealmContext, id int64) error
	ListRulesets(ctx context.Context, rc models.RealmContext, scope models.RulesetScope, filter ListFilter) ([]models.Ruleset, error)
}

// ListFilter narrows ListRulesets results.
type ListFilter struct {
	AssetID     string
	Lang        models.RulesetLang
	EnabledOnly bool
}

// ConfirmDiscard asks the application (a dialog, typically) whether unsaved
// edits may be discarded. It may never settle: callers abandon it through
// context cancellation.
type ConfirmDiscard func(ctx context.Context) (bool, error)

// Editor is the lifecycle state machine. Its mutable fields are owned by the
// single control goroutine; it takes no locks.
type Editor struct {
	store   Store
	confirm ConfirmDiscard
	rc      models.RealmContext

	state    State
	current  *models.Ruleset
	modified bool
	saving   bool
}

func New(store Store, confirm ConfirmDiscard, rc models.RealmContext) *Editor {
	return &Editor{store: store, confirm: confirm, rc: rc, state: StateUnselected}
}

func (e *Editor) State() State { return e.state }

// Modified reports whether local edits diverge from the last-saved snapshot.
func (e *Editor) Modified() bool { return e.modified }

// Current returns the selected ruleset, or nil.
func (e *Editor) Current() *models.Ruleset { return e.current }

// dirty reports whether switching away would lose edits.
func (e *Editor) dirty() bool {
	return e.modified && (e.state == StateEditing || e.state == StateSaveFailed)
}

// Select makes rs the current ruleset. While editing, the transition is
// intercepted: the confirm callback must explicitly approve discarding the
// unsaved edits, otherwise the selection is left untouched and
// ErrDiscardDeclined is returned. A cancelled confirmation (the user
// navigated away) surfaces the context error, also leaving state unchanged.
func (e *Editor) Select(ctx context.Context, rs models.Ruleset) error {
	if e.state == StateSaving {
		return ErrSaveInFlight
	}
	if e.dirty() {
		ok, err := e.confirm(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDiscardDeclined
		}
	}
	e.current = &rs
	e.state = StateViewing
	e.modified = false
	return nil
}

// Add starts a new draft ruleset with id 0. It enters Editing with
// modified=true immediately: a draft has no persisted counterpart to view.
// Unsaved edits to a previously selected ruleset are guarded the same way
// as in Select.
func (e *Editor) Add(ctx context.Context, draft models.Ruleset) error {
	if e.state == StateSaving {
		return ErrSaveInFlight
	}
	if e.dirty() {
		ok, err := e.confirm(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDiscardDeclined
		}
	}
	draft.ID = 0
	draft.Realm = e.rc.Realm
	e.current = &draft
	e.state = StateEditing
	e.modified = true
	return nil
}

// Edit applies a local mutation to the current ruleset and flags it
// modified. Reapplying an identical value still flags modified: the editor
// never diffs against the loaded snapshot.
func (e *Editor) Edit(mutate func(*models.Ruleset)) error {
	switch e.state {
	case StateViewing, StateEditing, StateSaveFailed:
	case StateUnselected:
		return ErrNoSelection
	default:
		return ErrSaveInFlight
	}
	mutate(e.current)
	e.state = StateEditing
	e.modified = true
	return nil
}

// Save persists the current edits through the store. Drafts are created
// (receiving their id), persisted rulesets updated. On success the editor
// returns to Viewing with modified=false; on store failure it moves to
// SaveFailed, keeps the edits, and returns the wrapped error. A second Save
// while one is in flight is ignored.
func (e *Editor) Save(ctx context.Context) error {
	switch e.state {
	case StateEditing, StateSaveFailed:
	case StateSaving:
		return nil
	default:
		return ErrNoSelection
	}
	if e.saving {
		return nil
	}
	if err := e.current.Validate(); err != nil {
		return err
	}
	e.saving = true
	e.state = StateSaving
	defer func() { e.saving = false }()

	if !e.current.Persisted() {
		id, err := e.store.CreateRuleset(ctx, e.rc, *e.current)
		if err != nil {
			e.state = StateSaveFailed
			return fmt.Errorf("%w: %v", ErrSaveFailed, err)
		}
		e.current.ID = id
	} else {
		if err := e.store.UpdateRuleset(ctx, e.rc, e.current.ID, *e.current); err != nil {
			e.state = StateSaveFailed
			return fmt.Errorf("%w: %v", ErrSaveFailed, err)
		}
	}
	e.state = StateViewing
	e.modified = false
	return nil
}

// Delete removes the current ruleset from the store and clears the
// selection. Drafts are simply dropped.
func (e *Editor) Delete(ctx context.Context) error {
	switch e.state {
	case StateViewing, StateEditing, StateSaveFailed:
	case StateUnselected:
		return ErrNoSelection
	default:
		return ErrSaveInFlight
	}
	if e.current.Persisted() {
		if err := e.store.DeleteRuleset(ctx, e.rc, e.current.ID); err != nil {
			return err
		}
	}
	e.current = nil
	e.state = StateUnselected
	e.modified = false
	return nil
}
