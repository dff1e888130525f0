package session

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincraft/ledgerform/internal/catalog"
	"github.com/fincraft/ledgerform/internal/sequence"
	"github.com/fincraft/ledgerform/internal/store"
	"github.com/fincraft/ledgerform/internal/types"
)

type fixture struct {
	manager *Manager
	store   store.Store
	catalog *catalog.Memory

	portfolio types.Record
	equity    types.Record
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, newSQLiteStore(t))
}

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newFixtureWithStore(t *testing.T, st store.Store) *fixture {
	t.Helper()
	ctx := context.Background()

	portfolio, err := st.Create(ctx, types.Record{Name: "Growth", TypeID: "type-portfolio"})
	require.NoError(t, err)
	equity, err := st.Create(ctx, types.Record{Name: "AAPL", TypeID: "type-equity"})
	require.NoError(t, err)

	cat := catalog.NewMemory(catalog.DefaultTypeDefinitions(), catalog.DefaultTransactionTypes(), nil)
	cat.AddRecord(*portfolio)
	cat.AddRecord(*equity)

	mgr := NewManager(cat, st, nil, nil, time.Hour, time.Hour, slog.Default())
	return &fixture{
		manager:   mgr,
		store:     st,
		catalog:   cat,
		portfolio: *portfolio,
		equity:    *equity,
	}
}

// completeFlow drives a session through subject, instrument, and category.
// tx-buy auto-fills the counter-party, landing on the properties step.
func (f *fixture) completeFlow(t *testing.T) *Session {
	t.Helper()
	sess, err := f.manager.Open(context.Background(), OpenOptions{})
	require.NoError(t, err)

	_, err = f.manager.Apply(sess.ID, sequence.SelectSubject{Subject: f.portfolio})
	require.NoError(t, err)
	_, err = f.manager.Apply(sess.ID, sequence.SelectCounterItem{Item: f.equity})
	require.NoError(t, err)
	st, err := f.manager.Apply(sess.ID, sequence.SelectCategory{CategoryID: "tx-buy"})
	require.NoError(t, err)
	require.Equal(t, sequence.StepProperties, st.Step)
	return sess
}

func TestOpenNewSession(t *testing.T) {
	f := newFixture(t)

	sess, err := f.manager.Open(context.Background(), OpenOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	st, err := f.manager.State(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sequence.StepSubject, st.Step)

	isDirty, err := f.manager.IsDirty(sess.ID)
	require.NoError(t, err)
	assert.False(t, isDirty)
}

func TestCommitCompleteFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completeFlow(t)

	_, err := f.manager.Apply(sess.ID, sequence.SetProperty{Key: "amount", Value: types.Int(500)})
	require.NoError(t, err)
	_, err = f.manager.Apply(sess.ID, sequence.SetProperty{Key: "trade_date", Value: types.String("2026-08-31")})
	require.NoError(t, err)

	rec, err := f.manager.Commit(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, types.LifecycleComplete, rec.Lifecycle)
	assert.Equal(t, "tx-buy", rec.TypeID)
	assert.Equal(t, f.portfolio.ID, rec.SubjectID)
	assert.Equal(t, f.equity.ID, rec.CounterItemID)
	assert.Equal(t, f.portfolio.ID, rec.CounterPartyID, "self rule fills the counter-party")
	assert.Equal(t, "Buy AAPL", rec.Name)

	stored, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Properties["amount"].Equal(types.Int(500)))
	assert.True(t, stored.Properties["settled"].Equal(types.Bool(false)), "schema default persisted")
}

func TestCommitValidationGate(t *testing.T) {
	f := newFixture(t)
	sess := f.completeFlow(t)

	_, err := f.manager.Commit(context.Background(), sess.ID)
	require.Error(t, err)

	var vErr *ValidationFailedError
	require.True(t, errors.As(err, &vErr))
	fields := make(map[string]bool)
	for _, fe := range vErr.Errors {
		fields[fe.Field] = true
	}
	assert.True(t, fields["amount"])
	assert.True(t, fields["trade_date"])

	// Session survives a failed commit.
	_, err = f.manager.State(sess.ID)
	assert.NoError(t, err)
}

func TestCommitEarlyStepSavesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Open(ctx, OpenOptions{})
	require.NoError(t, err)
	_, err = f.manager.Apply(sess.ID, sequence.SelectSubject{Subject: f.portfolio})
	require.NoError(t, err)
	_, err = f.manager.Apply(sess.ID, sequence.Rename{Name: "Work in progress"})
	require.NoError(t, err)

	rec, err := f.manager.Commit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleIncomplete, rec.Lifecycle)
	assert.Equal(t, f.portfolio.ID, rec.SubjectID)
}

func TestCleanCommitIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completeFlow(t)

	_, err := f.manager.Apply(sess.ID, sequence.SetProperty{Key: "amount", Value: types.Int(500)})
	require.NoError(t, err)
	_, err = f.manager.Apply(sess.ID, sequence.SetProperty{Key: "trade_date", Value: types.String("2026-08-31")})
	require.NoError(t, err)

	first, err := f.manager.Commit(ctx, sess.ID)
	require.NoError(t, err)

	second, err := f.manager.Commit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "clean commit must not rewrite the record")
}

func TestStaleRecordClosesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.store.Create(ctx, types.Record{Name: "Draft", TypeID: "tx-buy"})
	require.NoError(t, err)

	sess, err := f.manager.Open(ctx, OpenOptions{RecordID: draft.ID})
	require.NoError(t, err)

	_, err = f.manager.Apply(sess.ID, sequence.Rename{Name: "Edited"})
	require.NoError(t, err)

	// Another actor deletes the record while the session is open.
	require.NoError(t, f.store.Delete(ctx, draft.ID))

	_, err = f.manager.Commit(ctx, sess.ID)
	var stale *StaleRecordError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, draft.ID, stale.RecordID)

	_, err = f.manager.State(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOpenMissingRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Open(context.Background(), OpenOptions{RecordID: "no-such-record"})
	var stale *StaleRecordError
	assert.True(t, errors.As(err, &stale))
}

func TestReopenResumesFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completeFlow(t)

	_, err := f.manager.Apply(sess.ID, sequence.SetProperty{Key: "amount", Value: types.Int(500)})
	require.NoError(t, err)
	_, err = f.manager.Apply(sess.ID, sequence.SetProperty{Key: "trade_date", Value: types.String("2026-08-31")})
	require.NoError(t, err)

	rec, err := f.manager.Commit(ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.manager.Dismiss(ctx, sess.ID)
	require.NoError(t, err)

	reopened, err := f.manager.Open(ctx, OpenOptions{RecordID: rec.ID})
	require.NoError(t, err)

	st, err := f.manager.State(reopened.ID)
	require.NoError(t, err)
	assert.Equal(t, sequence.StepProperties, st.Step)
	require.NotNil(t, st.Subject)
	assert.Equal(t, f.portfolio.ID, st.Subject.ID)
	require.NotNil(t, st.Category)
	assert.Equal(t, "tx-buy", st.Category.ID)

	fields, err := f.manager.Fields(reopened.ID)
	require.NoError(t, err)
	byKey := make(map[string]types.ReconciledField)
	for _, fld := range fields {
		byKey[fld.Key] = fld
	}
	assert.True(t, byKey["amount"].Value.Equal(types.Int(500)))

	isDirty, err := f.manager.IsDirty(reopened.ID)
	require.NoError(t, err)
	assert.False(t, isDirty, "freshly reopened session is clean")
}

func TestCorruptedPropertiesSanitizedOnLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Create(ctx, types.Record{
		Name:   "Imported",
		TypeID: "tx-buy",
		Properties: types.PropertyMap{
			"0":      types.String("["),
			"1":      types.String("{"),
			"amount": types.Int(500),
		},
	})
	require.NoError(t, err)

	sess, err := f.manager.Open(ctx, OpenOptions{RecordID: rec.ID})
	require.NoError(t, err)

	st, err := f.manager.State(sess.ID)
	require.NoError(t, err)
	assert.Len(t, st.Properties, 1)
	assert.True(t, st.Properties["amount"].Equal(types.Int(500)))
}

func TestReplacePropertiesSanitizedOnModeSwitch(t *testing.T) {
	f := newFixture(t)
	sess := f.completeFlow(t)

	st, err := f.manager.Apply(sess.ID, sequence.ReplaceProperties{
		Properties: types.PropertyMap{
			"0":      types.String("a"),
			"1":      types.String("b"),
			"amount": types.Int(500),
		},
	})
	require.NoError(t, err)
	assert.Len(t, st.Properties, 1)
	assert.True(t, st.Properties["amount"].Equal(types.Int(500)))

	fields, err := f.manager.Fields(sess.ID)
	require.NoError(t, err)
	for _, fld := range fields {
		assert.NotEqual(t, "0", fld.Key, "numeric key reached the reconciled field list")
		assert.NotEqual(t, "1", fld.Key, "numeric key reached the reconciled field list")
	}
}

func TestDismissAutoSavesDirtyState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completeFlow(t)

	_, err := f.manager.Apply(sess.ID, sequence.SetProperty{Key: "amount", Value: types.Int(42)})
	require.NoError(t, err)

	rec, err := f.manager.Dismiss(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.LifecycleIncomplete, rec.Lifecycle, "auto-save never completes a record")

	stored, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Properties["amount"].Equal(types.Int(42)))

	_, err = f.manager.State(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDismissCleanWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Open(ctx, OpenOptions{})
	require.NoError(t, err)

	rec, err := f.manager.Dismiss(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	all, err := f.store.List(ctx, store.Filter{Lifecycle: types.LifecycleIncomplete})
	require.NoError(t, err)
	assert.Len(t, all, 2, "only the fixture reference records exist")
}

func TestSessionExpiry(t *testing.T) {
	f := newFixture(t)
	expiring := NewManager(f.catalog, f.store, nil, nil, 0, time.Hour, slog.Default())

	sess, err := expiring.Open(context.Background(), OpenOptions{})
	require.NoError(t, err)

	_, err = expiring.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// gatedStore lets a test hold a commit inside the store, keeping the
// session's in-flight guard observable. Unarmed it passes straight through.
type gatedStore struct {
	store.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Create(ctx context.Context, rec types.Record) (*types.Record, error) {
	if g.armed.Load() {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Store.Create(ctx, rec)
}

func TestSecondCommitWhilePendingRejected(t *testing.T) {
	gate := &gatedStore{
		Store:   newSQLiteStore(t),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixtureWithStore(t, gate)
	ctx := context.Background()
	sess := f.completeFlow(t)

	_, err := f.manager.Apply(sess.ID, sequence.SetProperty{Key: "amount", Value: types.Int(500)})
	require.NoError(t, err)
	_, err = f.manager.Apply(sess.ID, sequence.SetProperty{Key: "trade_date", Value: types.String("2026-08-31")})
	require.NoError(t, err)

	gate.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Commit(ctx, sess.ID)
		done <- err
	}()

	// The first commit is now held inside the store write.
	<-gate.entered

	_, err = f.manager.Commit(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrCommitInFlight)

	gate.armed.Store(false)
	close(gate.release)
	require.NoError(t, <-done)
}
