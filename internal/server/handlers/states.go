package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/server/responses"
	"github.com/Raiccio/demographics-backend/internal/store"
)

// StateStore defines the storage reads needed by the states handlers.
type StateStore interface {
	GetAll(ctx context.Context) ([]store.StateAggregate, error)
	GetOne(ctx context.Context, stateName string) (*store.StateAggregate, error)
	GetFiltered(ctx context.Context, names []string) ([]store.StateAggregate, error)
}

// StatesHandlers serves the aggregated state population rows.
type StatesHandlers struct {
	db           StateStore
	errorAdapter *derrors.HTTPErrorAdapter
}

// NewStatesHandlers creates a states handler instance.
func NewStatesHandlers(db StateStore) *StatesHandlers {
	return &StatesHandlers{
		db:           db,
		errorAdapter: derrors.NewHTTPErrorAdapter(slog.Default()),
	}
}

// NormalizeStateName canonicalizes client-supplied state names to the casing
// stored by the processor: title case with a lowercase "of" connector, so
// "district of columbia" and "DISTRICT OF COLUMBIA" both map to
// "District of Columbia".
func NormalizeStateName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	name = cases.Title(language.AmericanEnglish).String(strings.ToLower(name))
	return strings.ReplaceAll(name, " Of ", " of ")
}

// HandleStates handles GET /api/states, with an optional comma-separated
// states filter. Unknown names in the filter are silently omitted.
func (h *StatesHandlers) HandleStates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "GET").
			Build()
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	var (
		rows []store.StateAggregate
		err  error
	)
	if filter := r.URL.Query().Get("states"); filter != "" {
		names := parseStateFilter(filter)
		rows, err = h.db.GetFiltered(r.Context(), names)
	} else {
		rows, err = h.db.GetAll(r.Context())
	}
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.StateAggregate{}
	}

	resp := &responses.StatesResponse{
		Status:    "ok",
		Count:     len(rows),
		States:    rows,
		Timestamp: time.Now().UTC(),
	}
	if werr := writeJSONPretty(w, r, http.StatusOK, resp); werr != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.WrapError(werr, derrors.CategoryInternal, "failed to write states response").Build())
	}
}

// HandleState handles GET /api/states/{name}.
func (h *StatesHandlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "GET").
			Build()
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	name := NormalizeStateName(strings.TrimPrefix(r.URL.Path, "/api/states/"))
	if name == "" {
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.ValidationError("state name is required").Build())
		return
	}

	row, err := h.db.GetOne(r.Context(), name)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	resp := &responses.StateResponse{
		Status:    "ok",
		State:     *row,
		Timestamp: time.Now().UTC(),
	}
	if werr := writeJSONPretty(w, r, http.StatusOK, resp); werr != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.WrapError(werr, derrors.CategoryInternal, "failed to write state response").Build())
	}
}

// parseStateFilter splits a comma-separated filter, dropping empties and
// normalizing each name.
func parseStateFilter(filter string) []string {
	parts := strings.Split(filter, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := NormalizeStateName(p); n != "" {
			names = append(names, n)
		}
	}
	return names
}
