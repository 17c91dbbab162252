package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/authz"
	"github.com/clawlets/controlplane/internal/httpserver"
)

// Handler provides the admin-facing audit log query route of spec.md
// §4.K ("Query pagination is admin-readable"), grounded on the deleted
// teacher internal/audit/handler.go's Handler/Routes shape.
type Handler struct {
	store *Store
	gate  *authz.Gate
}

func NewHandler(store *Store, gate *authz.Gate) *Handler {
	return &Handler{store: store, gate: gate}
}

// Routes mounts GET / under /api/v1/projects/{projectID}/audit-log.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}
	if _, err := h.gate.RequireAdmin(r.Context(), projectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	entries, total, err := h.store.List(r.Context(), projectID, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(entries, params, total))
}
