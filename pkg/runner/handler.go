package runner

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/authz"
	"github.com/clawlets/controlplane/internal/httpserver"
)

// AuditRecorder writes an audit row; satisfied by *audit.Recorder.
// Declared here as a narrow collaborator interface rather than importing
// internal/audit, mirroring pkg/erasure/service.go's.
type AuditRecorder interface {
	Record(ctx context.Context, projectID uuid.UUID, actor, action string, data map[string]any)
}

// AdminHandler provides the operator-facing runner registration surface:
// minting a runner token, listing a project's runners, and revoking a
// token. Grounded on the deleted teacher pkg/apikey/handler.go's CRUD
// handler shape. Distinct from pkg/job.RunnerHandler, which is the
// runner-facing surface (heartbeat/lease-next/etc.) of spec.md §6.
type AdminHandler struct {
	runners *Service
	gate    *authz.Gate
	audit   AuditRecorder
}

func NewAdminHandler(runners *Service, gate *authz.Gate, audit AuditRecorder) *AdminHandler {
	return &AdminHandler{runners: runners, gate: gate, audit: audit}
}

// Routes mounts admin runner routes under /api/v1/projects/{projectID}/runners.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleMint)
	r.Get("/", h.handleList)
	r.Post("/{tokenID}/revoke", h.handleRevoke)
	return r
}

type mintBody struct {
	RunnerName string `json:"runner_name" validate:"required,min=1,max=200"`
}

func (h *AdminHandler) handleMint(w http.ResponseWriter, r *http.Request) {
	projectID, access, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var body mintBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	resp, err := h.runners.MintToken(r.Context(), projectID, body.RunnerName)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	h.audit.Record(r.Context(), projectID, access.Principal, "runner.token.mint", map[string]any{"prefix": resp.Prefix})
	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *AdminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	projectID, _, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	runners, err := h.runners.ListByProject(r.Context(), projectID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list runners")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"runners": runners})
}

func (h *AdminHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	projectID, access, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	tokenID, err := uuid.Parse(chi.URLParam(r, "tokenID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid token id")
		return
	}

	if err := h.runners.Revoke(r.Context(), tokenID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	h.audit.Record(r.Context(), projectID, access.Principal, "runner.token.revoke", nil)
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (uuid.UUID, authz.Access, bool) {
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
