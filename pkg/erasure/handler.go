package erasure

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/authn"
	"github.com/clawlets/controlplane/internal/authz"
	"github.com/clawlets/controlplane/internal/httpserver"
	"github.com/clawlets/controlplane/pkg/project"
)

// Handler provides the admin-facing HTTP surface of spec.md §4.I:
// deleteStart, deleteConfirm, and job-status polling, grounded on the
// deleted teacher pkg/incident/handler.go's Service/Handler layering.
type Handler struct {
	erasure  *Service
	projects *project.Service
	gate     *authz.Gate
}

func NewHandler(erasure *Service, projects *project.Service, gate *authz.Gate) *Handler {
	return &Handler{erasure: erasure, projects: projects, gate: gate}
}

// Routes mounts admin routes under /api/v1/projects/{projectID}/delete*.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/delete-start", h.handleDeleteStart)
	r.Post("/delete-confirm", h.handleDeleteConfirm)
	return r
}

// JobRoutes mounts the deletion-job status route, not scoped under a
// project path since a job's status stays readable after its project is
// gone (spec.md §4.I).
func (h *Handler) JobRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{jobID}", h.handleGetJob)
	return r
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

func (h *Handler) handleDeleteStart(w http.ResponseWriter, r *http.Request) {
	projectID, access, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	token, expiresAt, err := h.erasure.DeleteStart(r.Context(), projectID, access.Principal)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

type deleteConfirmBody struct {
	Token              string `json:"token" validate:"required"`
	ConfirmationString string `json:"confirmation_string" validate:"required"`
}

func (h *Handler) handleDeleteConfirm(w http.ResponseWriter, r *http.Request) {
	projectID, access, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var body deleteConfirmBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	p, err := h.projects.Get(r.Context(), projectID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	job, err := h.erasure.DeleteConfirm(r.Context(), projectID, p.Name, access.Principal, body.Token, body.ConfirmationString)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, job)
}

// handleGetJob is mounted unauthenticated-by-project-membership since an
// erasure job outlives its project row; it instead checks admin membership
// on the job's recorded project id, falling back to "you are the original
// requester" once that project is gone (spec.md §4.I "Status readable by
// admins or by the original requester even after the project row is gone").
func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}

	job, err := h.erasure.GetJob(r.Context(), jobID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	if _, err := h.gate.RequireAdmin(r.Context(), job.ProjectID); err != nil {
		id := authn.FromContext(r.Context())
		if id != nil && job.Requester != "" && id.Principal == job.Requester {
			httpserver.Respond(w, http.StatusOK, job)
			return
		}
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, job)
}
