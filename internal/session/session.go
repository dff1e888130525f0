// Package session manages authoring-session lifecycle: one exclusively owned
// workspace per session, holding the step state, the live edit buffer, and
// the load-time baseline the commit gate compares against.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fincraft/ledgerform/internal/catalog"
	"github.com/fincraft/ledgerform/internal/crossref"
	"github.com/fincraft/ledgerform/internal/dirty"
	"github.com/fincraft/ledgerform/internal/reconcile"
	"github.com/fincraft/ledgerform/internal/sanitize"
	"github.com/fincraft/ledgerform/internal/sequence"
	"github.com/fincraft/ledgerform/internal/store"
	"github.com/fincraft/ledgerform/internal/types"
	"github.com/fincraft/ledgerform/internal/validation"
)

// Session holds one in-progress authoring flow. All mutation goes through the
// Manager, which serializes access per session.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time

	machine   *sequence.Machine
	state     sequence.AuthoringState
	persisted types.PropertyMap
	baseline  dirty.Snapshot

	// record is the stored record this session edits; nil until first save.
	record *types.Record

	committing bool
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.LastActiveAt = time.Now()
}

// IsExpired reports whether the session exceeded the given max age.
func (s *Session) IsExpired(maxAge time.Duration) bool {
	return time.Since(s.CreatedAt) > maxAge
}

// IsIdle reports whether the session has been idle longer than the timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	return time.Since(s.LastActiveAt) > timeout
}

func (s *Session) snapshot() dirty.Snapshot {
	return dirty.Capture(s.state.Name, subjectID(s.state), s.state.Properties, s.state.Members)
}

func subjectID(st sequence.AuthoringState) string {
	if st.Subject == nil {
		return ""
	}
	return st.Subject.ID
}

// Manager owns all live sessions and the collaborators they share.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	catalog   catalog.Catalog
	store     store.Store
	sanitizer *sanitize.Sanitizer
	filter    *crossref.Filter
	logger    *slog.Logger

	maxAge      time.Duration
	idleTimeout time.Duration
}

// NewManager creates a session manager over the given collaborators.
func NewManager(cat catalog.Catalog, st store.Store, san *sanitize.Sanitizer, filter *crossref.Filter, maxAge, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if san == nil {
		san = sanitize.New(nil)
	}
	if filter == nil {
		filter = crossref.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		catalog:     cat,
		store:       st,
		sanitizer:   san,
		filter:      filter,
		logger:      logger,
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
	}
}

// OpenOptions controls session creation.
type OpenOptions struct {
	// RecordID resumes authoring over an existing record. Empty starts a
	// fresh flow.
	RecordID string

	// SubjectLevel opens the flow in subject-level mode.
	SubjectLevel bool
}

// Open creates a session. The catalog is snapshotted once here; identifiers
// stay stable for the session's lifetime. Existing records are sanitized on
// load and their step state recomputed from what survives.
func (m *Manager) Open(ctx context.Context, opts OpenOptions) (*Session, error) {
	machine, err := m.buildMachine(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		LastActiveAt: now,
		machine:      machine,
		state:        machine.Initial(opts.SubjectLevel),
		persisted:    types.PropertyMap{},
	}

	if opts.RecordID != "" {
		rec, err := m.store.Get(ctx, opts.RecordID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &StaleRecordError{RecordID: opts.RecordID}
			}
			return nil, fmt.Errorf("load record: %w", err)
		}
		m.hydrate(ctx, sess, rec, opts.SubjectLevel)
	}

	sess.baseline = sess.snapshot()

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("session opened",
		slog.String("session_id", sess.ID),
		slog.String("record_id", opts.RecordID))
	return sess, nil
}

func (m *Manager) buildMachine(ctx context.Context) (*sequence.Machine, error) {
	defs, err := m.catalog.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot type catalog: %w", err)
	}
	txTypes, err := m.catalog.ListTransactionTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot transaction catalog: %w", err)
	}

	return sequence.NewMachine(m.filter, txTypes, defs), nil
}

// hydrate rebuilds the authoring state from a stored record. References that
// no longer resolve are left unset; Resume lands the flow on the furthest
// step the surviving state satisfies.
func (m *Manager) hydrate(ctx context.Context, sess *Session, rec *types.Record, subjectLevel bool) {
	props := m.sanitizer.Clean(rec.Properties, sanitize.BoundaryLoad)

	st := sess.machine.Initial(subjectLevel)
	st.Name = rec.Name
	st.Members = append([]string(nil), rec.Members...)
	st.Properties = props.Clone()

	st.Subject = m.lookupRecord(ctx, rec.SubjectID)
	st.CounterItem = m.lookupRecord(ctx, rec.CounterItemID)
	if cat, ok := sess.machine.Category(rec.TypeID); ok {
		st.Category = &cat
	}
	st.CounterParty = m.lookupRecord(ctx, rec.CounterPartyID)

	sess.state = sess.machine.Resume(st)
	sess.persisted = props
	sess.record = rec
}

func (m *Manager) lookupRecord(ctx context.Context, id string) *types.Record {
	if id == "" {
		return nil
	}
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		m.logger.Warn("session reference unresolved", slog.String("record_id", id))
		return nil
	}
	return rec
}

// Get retrieves a live session. Expired and idle sessions are removed and
// read as not found.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.IsExpired(m.maxAge) || sess.IsIdle(m.idleTimeout) {
		m.Remove(id)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove closes a session without saving.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Cleanup removes all expired and idle sessions. Called periodically.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.IsExpired(m.maxAge) || sess.IsIdle(m.idleTimeout) {
			delete(m.sessions, id)
		}
	}
}

// Apply runs one step event against the session's state.
func (m *Manager) Apply(id string, ev sequence.Event) (sequence.AuthoringState, error) {
	sess, err := m.Get(id)
	if err != nil {
		return sequence.AuthoringState{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A wholesale property replacement is the free-form editor handing its
	// document back to the structured view; it crosses the mode-switch
	// boundary and gets sanitized before the state machine trusts it.
	if rp, ok := ev.(sequence.ReplaceProperties); ok {
		ev = sequence.ReplaceProperties{
			Properties: m.sanitizer.Clean(rp.Properties, sanitize.BoundaryModeSwitch),
		}
	}

	next, err := sess.machine.Apply(sess.state, ev)
	if err != nil {
		return sess.state, err
	}
	sess.state = next
	sess.Touch()
	return next, nil
}

// State returns the session's current authoring state.
func (m *Manager) State(id string) (sequence.AuthoringState, error) {
	sess, err := m.Get(id)
	if err != nil {
		return sequence.AuthoringState{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sess.state, nil
}

// Fields reconciles the session's declared schema with its persisted values
// and live edits into the render-ready field list.
func (m *Manager) Fields(id string) ([]types.ReconciledField, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return reconcile.Merge(sess.machine.DeclaredFields(sess.state), sess.persisted, sess.state.Properties), nil
}

// LegalCategories returns the category candidates for the session's state.
func (m *Manager) LegalCategories(id string) ([]types.TransactionType, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sess.machine.LegalCategories(sess.state), nil
}

// LegalCounterparties filters the entity candidates for the session's chosen
// category.
func (m *Manager) LegalCounterparties(ctx context.Context, id string) ([]types.Record, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	candidates, err := m.catalog.ListReferenceRecords(ctx, types.CategoryEntity)
	if err != nil {
		return nil, fmt.Errorf("list counterparty candidates: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sess.machine.LegalCounterparties(sess.state, candidates), nil
}

// IsDirty reports whether the session diverged from its load-time baseline.
func (m *Manager) IsDirty(id string) (bool, error) {
	sess, err := m.Get(id)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return dirty.IsDirty(sess.snapshot(), sess.baseline), nil
}

// Commit persists the session's state. A complete flow is validated and
// saved as complete; an earlier commit saves a draft. Clean sessions over an
// existing record are a no-op. A second commit while one is pending returns
// ErrCommitInFlight.
func (m *Manager) Commit(ctx context.Context, id string) (*types.Record, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if sess.committing {
		m.mu.Unlock()
		return nil, ErrCommitInFlight
	}
	sess.committing = true
	state := sess.state
	persisted := sess.persisted
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		sess.committing = false
		m.mu.Unlock()
	}()

	complete := sess.machine.Complete(state)
	if complete {
		fields := reconcile.Merge(sess.machine.DeclaredFields(state), persisted, state.Properties)
		if verrs := validation.ValidateFields(fields); len(verrs) > 0 {
			return nil, &ValidationFailedError{Errors: verrs}
		}
	}

	props := m.sanitizer.Clean(state.Properties, sanitize.BoundarySubmit)
	rec := buildRecord(state, props, complete)

	m.mu.Lock()
	existing := sess.record
	clean := !dirty.IsDirty(sess.snapshot(), sess.baseline)
	m.mu.Unlock()

	var saved *types.Record
	if existing == nil {
		saved, err = m.store.Create(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("create record: %w", err)
		}
	} else {
		if clean {
			return existing, nil
		}
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		saved, err = m.store.Update(ctx, rec)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				m.Remove(id)
				return nil, &StaleRecordError{RecordID: existing.ID}
			}
			return nil, fmt.Errorf("update record: %w", err)
		}
	}

	m.mu.Lock()
	sess.record = saved
	sess.persisted = props.Clone()
	sess.baseline = sess.snapshot()
	sess.Touch()
	m.mu.Unlock()

	m.logger.Info("session committed",
		slog.String("session_id", id),
		slog.String("record_id", saved.ID),
		slog.Bool("complete", complete))
	return saved, nil
}

// Dismiss closes the session. Dirty state is auto-saved as a draft first; a
// clean dismissal discards nothing and writes nothing.
func (m *Manager) Dismiss(ctx context.Context, id string) (*types.Record, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	defer m.Remove(id)

	m.mu.RLock()
	state := sess.state
	existing := sess.record
	isDirty := dirty.IsDirty(sess.snapshot(), sess.baseline)
	m.mu.RUnlock()

	if !isDirty {
		return existing, nil
	}
	if existing == nil && state.Subject == nil && len(state.Properties) == 0 && state.Name == "" {
		// Nothing worth keeping.
		return nil, nil
	}

	props := m.sanitizer.Clean(state.Properties, sanitize.BoundaryDismiss)
	rec := buildRecord(state, props, false)

	var saved *types.Record
	if existing == nil {
		saved, err = m.store.Create(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("auto-save on dismiss: %w", err)
		}
	} else {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		rec.Lifecycle = existing.Lifecycle
		saved, err = m.store.Update(ctx, rec)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &StaleRecordError{RecordID: existing.ID}
			}
			return nil, fmt.Errorf("auto-save on dismiss: %w", err)
		}
	}

	m.logger.Info("session dismissed with auto-save",
		slog.String("session_id", id),
		slog.String("record_id", saved.ID))
	return saved, nil
}

// buildRecord maps the authoring state onto the stored record shape.
func buildRecord(state sequence.AuthoringState, props types.PropertyMap, complete bool) types.Record {
	rec := types.Record{
		Name:       state.Name,
		Members:    append([]string(nil), state.Members...),
		Properties: props,
		Lifecycle:  types.LifecycleIncomplete,
	}
	if complete {
		rec.Lifecycle = types.LifecycleComplete
	}
	if state.Subject != nil {
		rec.SubjectID = state.Subject.ID
	}
	if state.CounterItem != nil {
		rec.CounterItemID = state.CounterItem.ID
	}
	if state.Category != nil {
		rec.TypeID = state.Category.ID
	}
	if state.CounterParty != nil {
		rec.CounterPartyID = state.CounterParty.ID
	}
	if rec.Name == "" && state.Category != nil {
		rec.Name = draftName(state)
	}
	return rec
}

func draftName(state sequence.AuthoringState) string {
	name := state.Category.Name
	if state.CounterItem != nil {
		name += " " + state.CounterItem.Name
	}
	return name
}
