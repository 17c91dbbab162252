// Package maintenance provides the destructive, operator-triggered
// maintenance endpoints spec.md §6 gates behind CLAWLETS_MAINTENANCE_ENABLED
// (manual retention sweep, manual erasure-recovery pass), grounded on the
// deleted teacher pkg/escalation/handler.go's thin trigger-the-engine shape.
package maintenance

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clawlets/controlplane/internal/authz"
	"github.com/clawlets/controlplane/internal/httpserver"
	"github.com/clawlets/controlplane/pkg/erasure"
	"github.com/clawlets/controlplane/pkg/retention"
)

// Handler exposes manual triggers for the background sweeps, disabled
// unless CLAWLETS_MAINTENANCE_ENABLED is set (spec.md §6).
type Handler struct {
	retention *retention.Service
	erasure   *erasure.Service
	gate      *authz.Gate
	enabled   bool
}

func NewHandler(retention *retention.Service, erasure *erasure.Service, gate *authz.Gate, enabled bool) *Handler {
	return &Handler{retention: retention, erasure: erasure, gate: gate, enabled: enabled}
}

// Routes mounts maintenance routes under /api/v1/maintenance. Every route
// requires authentication (any principal — there is no cross-project admin
// role in this engine) and CLAWLETS_MAINTENANCE_ENABLED.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/retention-sweep", h.handleRetentionSweep)
	r.Post("/erasure-recovery", h.handleErasureRecovery)
	return r
}

func (h *Handler) requireEnabled(w http.ResponseWriter, r *http.Request) (context.Context, bool) {
	if !h.enabled {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "maintenance endpoints are disabled")
		return nil, false
	}
	if _, err := h.gate.Principal(r.Context()); err != nil {
		httpserver.RespondAPIError(w, err)
		return nil, false
	}
	return r.Context(), true
}

func (h *Handler) handleRetentionSweep(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.requireEnabled(w, r)
	if !ok {
		return
	}
	result, err := h.retention.RunSweep(ctx, "manual")
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "retention sweep failed")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleErasureRecovery(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.requireEnabled(w, r)
	if !ok {
		return
	}
	resumed, err := h.erasure.RunRecoveryPass(ctx)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "erasure recovery pass failed")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]int{"resumed": resumed})
}
