package setupdraft

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/authz"
	"github.com/clawlets/controlplane/internal/httpserver"
)

// Handler provides the operator-facing setup-draft surface under
// /api/v1/projects/{projectID}/hosts/{host}/setup-draft, grounded on
// pkg/job/handler.go's admin-gated handler shape. Reads need project
// access; every mutation needs the admin gate (spec.md §4.C).
type Handler struct {
	drafts *Service
	gate   *authz.Gate
}

func NewHandler(drafts *Service, gate *authz.Gate) *Handler {
	return &Handler{drafts: drafts, gate: gate}
}

// Routes is mounted at /projects/{projectID}/hosts.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{host}/setup-draft", h.handleGet)
	r.Put("/{host}/setup-draft/sections/{section}", h.handlePutSection)
	r.Post("/{host}/setup-draft/commit", h.handleCommit)
	r.Post("/{host}/setup-draft/resolve", h.handleResolve)
	return r
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}
	if _, err := h.gate.RequireProjectAccess(r.Context(), projectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	draft, err := h.drafts.Get(r.Context(), projectID, chi.URLParam(r, "host"))
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, draft)
}

type putSectionBody struct {
	SealedInputB64 string `json:"sealed_input_b64" validate:"required"`
	Version        int64  `json:"version"`
}

func (h *Handler) handlePutSection(w http.ResponseWriter, r *http.Request) {
	projectID, access, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var body putSectionBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	draft, err := h.drafts.PutSection(r.Context(), projectID, access.Principal,
		chi.URLParam(r, "host"), Section(chi.URLParam(r, "section")), body.SealedInputB64, body.Version)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, draft)
}

type versionBody struct {
	Version int64 `json:"version"`
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	projectID, _, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var body versionBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	draft, err := h.drafts.Commit(r.Context(), projectID, chi.URLParam(r, "host"), body.Version)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, draft)
}

type resolveBody struct {
	OK      bool  `json:"ok"`
	Version int64 `json:"version"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	projectID, _, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var body resolveBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	draft, err := h.drafts.Resolve(r.Context(), projectID, chi.URLParam(r, "host"), body.OK, body.Version)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, draft)
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (uuid.UUID, authz.Access, bool) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return uuid.Nil, authz.Access{}, false
	}
	access, err := h.gate.RequireAdmin(r.Context(), projectID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return uuid.Nil, authz.Access{}, false
	}
	return projectID, access, true
}
