package job

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/authz"
	"github.com/clawlets/controlplane/internal/httpserver"
	"github.com/clawlets/controlplane/pkg/runner"
)

// Handler provides operator-facing HTTP handlers for the job/run API
// (spec.md §6), grounded on the deleted teacher pkg/incident/handler.go's
// Service/Handler layering. Every mutation goes through the admin gate
// (spec.md §4.F.1 step 1, "Admin gate").
type Handler struct {
	jobs   *Service
	gate   *authz.Gate
	logger *slog.Logger
}

func NewHandler(jobs *Service, gate *authz.Gate, logger *slog.Logger) *Handler {
	return &Handler{jobs: jobs, gate: gate, logger: logger}
}

// Routes mounts operator routes under /api/v1/projects/{projectID}/jobs.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/enqueue", h.handleEnqueue)
	r.Post("/reserve-sealed-input", h.handleReserveSealedInput)
	r.Get("/{jobID}", h.handleGet)
	r.Post("/{jobID}/finalize-sealed-enqueue", h.handleFinalizeSealedEnqueue)
	r.Post("/{jobID}/cancel", h.handleCancel)
	r.Get("/{jobID}/result", h.handleGetResult)
	return r
}

// RunsRoutes mounts the run read surface under
// /api/v1/projects/{projectID}/runs (SPEC_FULL.md's admin jobs/runs read
// surface; runs have no mutating operations of their own, only the
// lease-engine's projector, so this is list/get only).
func (h *Handler) RunsRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleListRuns)
	r.Get("/{runID}", h.handleGetRun)
	return r
}

// handleList implements the admin jobs list surface SPEC_FULL.md adds:
// offset pagination plus run_id/status/kind filters, readable by any
// project member (spec.md §4.C: "viewers can read but never mutate"),
// grounded on pkg/incident/handler.go's handleList.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}
	if _, err := h.gate.RequireProjectAccess(r.Context(), projectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var f JobFilters
	if v := r.URL.Query().Get("run_id"); v != "" {
		runID, err := uuid.Parse(v)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid run_id")
			return
		}
		f.RunID = &runID
	}
	f.Status = JobStatus(r.URL.Query().Get("status"))
	f.Kind = r.URL.Query().Get("kind")

	items, total, err := h.jobs.ListJobs(r.Context(), projectID, f, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing jobs", "error", err, "project_id", projectID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
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
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}

	j, err := h.jobs.GetJobRead(r.Context(), projectID, jobID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, j)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}
	if _, err := h.gate.RequireProjectAccess(r.Context(), projectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	f := RunFilters{
		Status: RunStatus(r.URL.Query().Get("status")),
		Kind:   r.URL.Query().Get("kind"),
	}

	items, total, err := h.jobs.ListRuns(r.Context(), projectID, f, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing runs", "error", err, "project_id", projectID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}
	if _, err := h.gate.RequireProjectAccess(r.Context(), projectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid run id")
		return
	}

	run, err := h.jobs.GetRunRead(r.Context(), projectID, runID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, run)
}

type enqueueBody struct {
	Kind         string          `json:"kind" validate:"required"`
	PayloadMeta  json.RawMessage `json:"payload_meta,omitempty"`
	RunID        *uuid.UUID      `json:"run_id,omitempty"`
	Title        *string         `json:"title,omitempty"`
	Host         *string         `json:"host,omitempty"`
	TargetRunner *uuid.UUID      `json:"target_runner_id,omitempty"`
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	projectID, access, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var body enqueueBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), access.Principal, projectID, EnqueueRequest{
		Kind:         body.Kind,
		PayloadMeta:  body.PayloadMeta,
		RunID:        body.RunID,
		Title:        body.Title,
		Host:         body.Host,
		TargetRunner: body.TargetRunner,
	})
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, job)
}

func (h *Handler) handleReserveSealedInput(w http.ResponseWriter, r *http.Request) {
	projectID, access, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var body enqueueBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	resp, err := h.jobs.ReserveSealedInput(r.Context(), access.Principal, projectID, EnqueueRequest{
		Kind:         body.Kind,
		PayloadMeta:  body.PayloadMeta,
		RunID:        body.RunID,
		Title:        body.Title,
		Host:         body.Host,
		TargetRunner: body.TargetRunner,
	})
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, resp)
}

type finalizeSealedBody struct {
	Kind           string `json:"kind" validate:"required"`
	SealedInputB64 string `json:"sealed_input_b64" validate:"required"`
	Alg            string `json:"alg" validate:"required"`
	KeyID          string `json:"key_id" validate:"required"`
}

func (h *Handler) handleFinalizeSealedEnqueue(w http.ResponseWriter, r *http.Request) {
	projectID, _, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}

	var body finalizeSealedBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	job, err := h.jobs.FinalizeSealedEnqueue(r.Context(), projectID, jobID, body.Kind, body.SealedInputB64, body.Alg, body.KeyID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, job)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	projectID, _, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}

	if err := h.jobs.Cancel(r.Context(), projectID, jobID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleGetResult implements the operator-facing side of spec.md §4.E's
// take operation: GET returns whichever result row is present (small-JSON
// inline, blob as an octet-stream download) and consumes it, or 404 if
// none is currently available.
func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	projectID, _, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}

	taken, err := h.jobs.GetResult(r.Context(), projectID, jobID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if taken == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "no result available for this job")
		return
	}

	switch {
	case taken.Small != nil:
		httpserver.Respond(w, http.StatusOK, taken.Small)
	case taken.Blob != nil:
		data, err := h.jobs.FetchResultBlob(r.Context(), taken.Blob.StorageID)
		if err != nil {
			h.logger.Error("fetching result blob", "error", err, "job_id", jobID)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to fetch result blob")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
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

// RunnerHandler provides the runner-facing HTTP surface of spec.md §6:
// heartbeat, lease-next, job-heartbeat, complete. Each handler validates
// the caller's bearer token itself (against the project id carried in the
// JSON body) rather than through a generic middleware, since
// runner.Service.ValidateToken needs the asserted project before the body
// is known to any earlier middleware stage.
type RunnerHandler struct {
	jobs    *Service
	runners *runner.Service
	logger  *slog.Logger
}

func NewRunnerHandler(jobs *Service, runners *runner.Service, logger *slog.Logger) *RunnerHandler {
	return &RunnerHandler{jobs: jobs, runners: runners, logger: logger}
}

func (h *RunnerHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/heartbeat", h.handleRunnerHeartbeat)
	r.Post("/jobs/lease-next", h.handleLeaseNext)
	r.Post("/jobs/heartbeat", h.handleJobHeartbeat)
	r.Post("/jobs/complete", h.handleComplete)
	r.Post("/run-events/append-batch", h.handleAppendRunEvents)
	return r
}

func (h *RunnerHandler) handleRunnerHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body runner.HeartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}
	if _, err := h.runners.ValidateToken(r.Context(), r.Header.Get("Authorization"), body.ProjectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	rnr, err := h.runners.Heartbeat(r.Context(), body.ProjectID, body.RunnerName, body.Version, body.Capabilities)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, runner.HeartbeatResponse{OK: true, RunnerID: rnr.ID})
}

type appendRunEventsBody struct {
	ProjectID uuid.UUID       `json:"projectId" validate:"required"`
	RunID     uuid.UUID       `json:"runId" validate:"required"`
	Events    []RunEventInput `json:"events" validate:"required"`
}

func (h *RunnerHandler) handleAppendRunEvents(w http.ResponseWriter, r *http.Request) {
	var body appendRunEventsBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}
	if _, err := h.runners.ValidateToken(r.Context(), r.Header.Get("Authorization"), body.ProjectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	if err := h.jobs.AppendRunEvents(r.Context(), body.ProjectID, body.RunID, body.Events); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

type leaseNextBody struct {
	ProjectID  uuid.UUID `json:"projectId" validate:"required"`
	LeaseTTLMs *int64    `json:"leaseTtlMs,omitempty"`
}

func (h *RunnerHandler) handleLeaseNext(w http.ResponseWriter, r *http.Request) {
	var body leaseNextBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	validated, err := h.runners.ValidateToken(r.Context(), r.Header.Get("Authorization"), body.ProjectID)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	ttl := LeaseTTLDefault
	if body.LeaseTTLMs != nil {
		ttl = time.Duration(*body.LeaseTTLMs) * time.Millisecond
	}

	j, err := h.jobs.LeaseNext(r.Context(), body.ProjectID, validated.Runner.ID, ttl)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]*Job{"job": j})
}

type jobHeartbeatBody struct {
	ProjectID  uuid.UUID `json:"projectId" validate:"required"`
	JobID      uuid.UUID `json:"jobId" validate:"required"`
	LeaseID    uuid.UUID `json:"leaseId" validate:"required"`
	LeaseTTLMs *int64    `json:"leaseTtlMs,omitempty"`
}

func (h *RunnerHandler) handleJobHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body jobHeartbeatBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}
	if _, err := h.runners.ValidateToken(r.Context(), r.Header.Get("Authorization"), body.ProjectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	ttl := LeaseTTLDefault
	if body.LeaseTTLMs != nil {
		ttl = time.Duration(*body.LeaseTTLMs) * time.Millisecond
	}

	result, err := h.jobs.Heartbeat(r.Context(), body.JobID, body.LeaseID, ttl)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"ok": result.OK, "status": result.Status})
}

type completeBody struct {
	ProjectID                   uuid.UUID       `json:"projectId" validate:"required"`
	JobID                       uuid.UUID       `json:"jobId" validate:"required"`
	LeaseID                     uuid.UUID       `json:"leaseId" validate:"required"`
	Status                      JobStatus       `json:"status" validate:"required"`
	ErrorMessage                *string         `json:"errorMessage,omitempty"`
	CommandResultJSON           json.RawMessage `json:"commandResultJson,omitempty"`
	CommandResultLargeStorageID *string         `json:"commandResultLargeStorageId,omitempty"`
	CommandResultSize           *int64          `json:"commandResultSize,omitempty"`
}

func (h *RunnerHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}
	if _, err := h.runners.ValidateToken(r.Context(), r.Header.Get("Authorization"), body.ProjectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	result, err := h.jobs.Complete(r.Context(), body.JobID, body.LeaseID, CompleteRequest{
		Status:              body.Status,
		ErrorMessage:        body.ErrorMessage,
		ResultJSON:          body.CommandResultJSON,
		ResultBlobStorageID: body.CommandResultLargeStorageID,
		ResultBlobSize:      body.CommandResultSize,
	})
	if err != nil {
		if _, isAPIErr := apierr.As(err); isAPIErr {
			httpserver.RespondAPIError(w, err)
			return
		}
		h.logger.Error("completing job", "error", err, "job_id", body.JobID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to complete job")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"ok": result.OK, "status": result.Status})
}
