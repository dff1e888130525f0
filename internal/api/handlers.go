package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fincraft/ledgerform/internal/catalog"
	"github.com/fincraft/ledgerform/internal/reconcile"
	"github.com/fincraft/ledgerform/internal/sequence"
	"github.com/fincraft/ledgerform/internal/session"
	"github.com/fincraft/ledgerform/internal/store"
	"github.com/fincraft/ledgerform/internal/types"
)

// Handler implements the API handlers
type Handler struct {
	store    store.Store
	catalog  catalog.Catalog
	sessions *session.Manager
	apiKey   string
	version  string
}

// NewHandler creates a new Handler over the domain collaborators.
func NewHandler(s store.Store, c catalog.Catalog, sm *session.Manager, apiKey, version string) *Handler {
	return &Handler{
		store:    s,
		catalog:  c,
		sessions: sm,
		apiKey:   apiKey,
		version:  version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.Count(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	defs, err := h.catalog.ListTypes(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:      "healthy",
		Version:     h.version,
		RecordCount: count,
		TypeCount:   int64(len(defs)),
	})
}

// ListTypes handles GET /api/v1/types
func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	defs, err := h.catalog.ListTypes(r.Context())
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	if defs == nil {
		defs = []types.TypeDefinition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

// GetType handles GET /api/v1/types/{id}
func (h *Handler) GetType(w http.ResponseWriter, r *http.Request) {
	def, err := h.catalog.GetType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// fieldListResponse is the resolved-schema payload for one type.
type fieldListResponse struct {
	TypeID string                  `json:"type_id"`
	Fields []types.ReconciledField `json:"fields"`
}

// TypeFields handles GET /api/v1/types/{id}/fields. It renders the declared
// schema as a reconciled field list with no persisted or live values.
func (h *Handler) TypeFields(w http.ResponseWriter, r *http.Request) {
	def, err := h.catalog.GetType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	fields := reconcile.Merge(def.Schema, nil, nil)
	if fields == nil {
		fields = []types.ReconciledField{}
	}
	writeJSON(w, http.StatusOK, fieldListResponse{TypeID: def.ID, Fields: fields})
}

// ListTransactionTypes handles GET /api/v1/transaction-types
func (h *Handler) ListTransactionTypes(w http.ResponseWriter, r *http.Request) {
	txTypes, err := h.catalog.ListTransactionTypes(r.Context())
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	if txTypes == nil {
		txTypes = []types.TransactionType{}
	}
	writeJSON(w, http.StatusOK, txTypes)
}

// ListReferences handles GET /api/v1/references/{category}
func (h *Handler) ListReferences(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	switch category {
	case types.CategoryEntity, types.CategoryInstrument, types.CategoryGroup:
	default:
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Unknown reference category %q", category))
		return
	}

	recs, err := h.catalog.ListReferenceRecords(r.Context(), category)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	if recs == nil {
		recs = []types.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ListRecords handles GET /api/v1/records
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	f := store.Filter{
		TypeID:    r.URL.Query().Get("type_id"),
		ParentID:  r.URL.Query().Get("parent_id"),
		Lifecycle: types.Lifecycle(r.URL.Query().Get("lifecycle")),
	}

	recs, err := h.store.List(r.Context(), f)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	if recs == nil {
		recs = []types.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetRecord handles GET /api/v1/records/{id}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/v1/records/{id}
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// openSessionRequest opens an authoring session.
type openSessionRequest struct {
	RecordID     string `json:"record_id,omitempty"`
	SubjectLevel bool   `json:"subject_level,omitempty"`
}

// sessionResponse summarizes a session's authoring state.
type sessionResponse struct {
	ID           string                  `json:"id"`
	Step         string                  `json:"step"`
	SubjectLevel bool                    `json:"subject_level"`
	Name         string                  `json:"name,omitempty"`
	Subject      *types.Record           `json:"subject,omitempty"`
	CounterItem  *types.Record           `json:"counter_item,omitempty"`
	Category     *types.TransactionType  `json:"category,omitempty"`
	CounterParty *types.Record           `json:"counter_party,omitempty"`
	AutoFilled   bool                    `json:"counter_party_auto_filled,omitempty"`
	Members      []string                `json:"members"`
	Dirty        bool                    `json:"dirty"`
	Fields       []types.ReconciledField `json:"fields"`
}

func (h *Handler) sessionResponse(id string, state sequence.AuthoringState) (*sessionResponse, error) {
	fields, err := h.sessions.Fields(id)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = []types.ReconciledField{}
	}
	isDirty, err := h.sessions.IsDirty(id)
	if err != nil {
		return nil, err
	}

	members := state.Members
	if members == nil {
		members = []string{}
	}
	return &sessionResponse{
		ID:           id,
		Step:         state.Step.String(),
		SubjectLevel: state.SubjectLevel,
		Name:         state.Name,
		Subject:      state.Subject,
		CounterItem:  state.CounterItem,
		Category:     state.Category,
		CounterParty: state.CounterParty,
		AutoFilled:   state.CounterPartyAutoFilled,
		Members:      members,
		Dirty:        isDirty,
		Fields:       fields,
	}, nil
}

// OpenSession handles POST /api/v1/sessions
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
			return
		}
	}

	sess, err := h.sessions.Open(r.Context(), session.OpenOptions{
		RecordID:     req.RecordID,
		SubjectLevel: req.SubjectLevel,
	})
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	state, err := h.sessions.State(sess.ID)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	resp, err := h.sessionResponse(sess.ID, state)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.sessions.State(id)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	resp, err := h.sessionResponse(id, state)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApplyEvent handles POST /api/v1/sessions/{id}/events
func (h *Handler) ApplyEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := h.decodeEvent(r)
	if err != nil {
		var invalid *session.ValidationFailedError
		if errors.As(err, &invalid) {
			MapDomainError(w, r, err)
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.sessions.Apply(id, ev)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	resp, err := h.sessionResponse(id, state)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SessionFields handles GET /api/v1/sessions/{id}/fields
func (h *Handler) SessionFields(w http.ResponseWriter, r *http.Request) {
	fields, err := h.sessions.Fields(chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	if fields == nil {
		fields = []types.ReconciledField{}
	}
	writeJSON(w, http.StatusOK, fields)
}

// SessionCategories handles GET /api/v1/sessions/{id}/categories
func (h *Handler) SessionCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.sessions.LegalCategories(chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	if categories == nil {
		categories = []types.TransactionType{}
	}
	writeJSON(w, http.StatusOK, categories)
}

// SessionCounterparties handles GET /api/v1/sessions/{id}/counterparties
func (h *Handler) SessionCounterparties(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.sessions.LegalCounterparties(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []types.Record{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

// CommitSession handles POST /api/v1/sessions/{id}/commit
func (h *Handler) CommitSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.sessions.Commit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// dismissResponse reports what a dismissal did.
type dismissResponse struct {
	Saved  bool          `json:"saved"`
	Record *types.Record `json:"record,omitempty"`
}

// DismissSession handles POST /api/v1/sessions/{id}/dismiss
func (h *Handler) DismissSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.sessions.Dismiss(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dismissResponse{Saved: rec != nil, Record: rec})
}
