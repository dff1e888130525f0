package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fincraft/ledgerform/internal/catalog"
	"github.com/fincraft/ledgerform/internal/sequence"
	"github.com/fincraft/ledgerform/internal/session"
	"github.com/fincraft/ledgerform/internal/store"
	"github.com/fincraft/ledgerform/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://ledgerform.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://ledgerform.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://ledgerform.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusInternalServerError: {
		typeURI: "https://ledgerform.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://ledgerform.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusConflict: {
		typeURI: "https://ledgerform.dev/errors/conflict",
		title:   "Conflict",
	},
	http.StatusForbidden: {
		typeURI: "https://ledgerform.dev/errors/forbidden",
		title:   "Forbidden",
	},
	http.StatusTooManyRequests: {
		typeURI: "https://ledgerform.dev/errors/rate-limit",
		title:   "Too Many Requests",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://ledgerform.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := problemTypes[http.StatusUnprocessableEntity]

	p := ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapDomainError converts domain errors to Problem Details responses.
func MapDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var stale *session.StaleRecordError
	var invalid *session.ValidationFailedError

	switch {
	case errors.As(err, &stale):
		WriteProblem(w, r, http.StatusNotFound, "Record no longer exists; reload and start over")
	case errors.As(err, &invalid):
		WriteProblemWithErrors(w, r, "Record contains invalid fields", invalid.Errors)
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, store.ErrNotDeletable):
		WriteProblem(w, r, http.StatusConflict, "Only incomplete records can be deleted")
	case errors.Is(err, catalog.ErrTypeNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Type not found")
	case errors.Is(err, session.ErrSessionNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Session not found or expired")
	case errors.Is(err, session.ErrCommitInFlight):
		WriteProblem(w, r, http.StatusConflict, "A commit is already in progress for this session")
	case errors.Is(err, sequence.ErrStepOrder):
		WriteProblem(w, r, http.StatusConflict, "A required earlier step has not been completed")
	case errors.Is(err, sequence.ErrIllegalChoice):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Selection is not in the legal choice set")
	case errors.Is(err, sequence.ErrNotApplicable):
		WriteProblem(w, r, http.StatusConflict, "Step does not apply to this authoring mode")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
