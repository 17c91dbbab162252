package project

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/authz"
	"github.com/clawlets/controlplane/internal/httpserver"
)

// AuditRecorder writes an audit row; satisfied by *audit.Recorder.
// Declared here rather than imported to avoid a pkg/project ->
// internal/audit -> pkg/project import cycle, mirroring
// pkg/erasure/service.go's narrow collaborator interface.
type AuditRecorder interface {
	Record(ctx context.Context, projectID uuid.UUID, actor, action string, data map[string]any)
}

// Handler provides the project and project-member CRUD surface spec.md §3
// names as the tenant root every other component hangs off of. Grounded on
// the deleted teacher pkg/apikey/handler.go's CRUD handler shape.
type Handler struct {
	projects *Service
	gate     *authz.Gate
	audit    AuditRecorder
}

func NewHandler(projects *Service, gate *authz.Gate, audit AuditRecorder) *Handler {
	return &Handler{projects: projects, gate: gate, audit: audit}
}

// Routes mounts project CRUD under /api/v1/projects.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{projectID}", h.handleGet)
	r.Post("/{projectID}/members", h.handleAddMember)
	r.Get("/{projectID}/members", h.handleListMembers)
	r.Delete("/{projectID}/members/{userID}", h.handleRemoveMember)
	return r
}

func (h *Handler) principal(r *http.Request) (string, bool) {
	p, err := h.gate.Principal(r.Context())
	if err != nil || p == "" {
		return "", false
	}
	return p, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var body CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	p, err := h.projects.Create(r.Context(), principal, body)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	h.audit.Record(r.Context(), p.ID, principal, "project.create", map[string]any{
		"name":           p.Name,
		"execution_mode": string(p.ExecutionMode),
	})
	httpserver.Respond(w, http.StatusCreated, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	projects, err := h.projects.List(r.Context(), principal)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list projects")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"projects": projects})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathProjectID(w, r)
	if !ok {
		return
	}
	access, err := h.gate.RequireProjectAccess(r.Context(), projectID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, access.Project)
}

type addMemberBody = AddMemberRequest

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathProjectID(w, r)
	if !ok {
		return
	}
	access, err := h.gate.RequireAdmin(r.Context(), projectID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	var body addMemberBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	m, err := h.projects.AddMember(r.Context(), projectID, body)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	h.audit.Record(r.Context(), projectID, access.Principal, "project.members.add", map[string]any{"role": string(m.Role)})
	httpserver.Respond(w, http.StatusOK, m)
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathProjectID(w, r)
	if !ok {
		return
	}
	if _, err := h.gate.RequireProjectAccess(r.Context(), projectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	members, err := h.projects.ListMembers(r.Context(), projectID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list members")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"members": members})
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathProjectID(w, r)
	if !ok {
		return
	}
	access, err := h.gate.RequireAdmin(r.Context(), projectID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := h.projects.RemoveMember(r.Context(), projectID, userID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	h.audit.Record(r.Context(), projectID, access.Principal, "project.members.remove", nil)
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) pathProjectID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return uuid.Nil, false
	}
	return id, true
}
