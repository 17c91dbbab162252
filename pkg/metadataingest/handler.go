package metadataingest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/httpserver"
	"github.com/clawlets/controlplane/internal/validate"
	"github.com/clawlets/controlplane/pkg/runner"
)

// Handler provides the single runner-facing route of spec.md §6: `POST
// /runner/metadata/sync`. Grounded on pkg/job/handler.go's RunnerHandler,
// which validates the bearer token against the project id carried in the
// body rather than through generic middleware.
type Handler struct {
	sync    *Service
	runners *runner.Service
}

func NewHandler(sync *Service, runners *runner.Service) *Handler {
	return &Handler{sync: sync, runners: runners}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/sync", h.handleSync)
	return r
}

type configRowBody struct {
	Key   string          `json:"key" validate:"required"`
	Value json.RawMessage `json:"value" validate:"required"`
}

type hostRowBody struct {
	HostName       string          `json:"hostName" validate:"required"`
	DesiredSummary json.RawMessage `json:"desiredSummary,omitempty"`
}

type gatewayRowBody struct {
	HostName       string          `json:"hostName" validate:"required"`
	GatewayID      string          `json:"gatewayId" validate:"required"`
	DesiredSummary json.RawMessage `json:"desiredSummary,omitempty"`
}

type secretWiringRowBody struct {
	HostName  string          `json:"hostName" validate:"required"`
	WiringKey string          `json:"wiringKey" validate:"required"`
	Value     json.RawMessage `json:"value" validate:"required"`
}

type syncBody struct {
	ProjectID      uuid.UUID             `json:"projectId" validate:"required"`
	ProjectConfigs []configRowBody       `json:"projectConfigs,omitempty"`
	Hosts          []hostRowBody         `json:"hosts,omitempty"`
	Gateways       []gatewayRowBody      `json:"gateways,omitempty"`
	SecretWiring   []secretWiringRowBody `json:"secretWiring,omitempty"`
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var body syncBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	if _, err := h.runners.ValidateToken(r.Context(), r.Header.Get("Authorization"), body.ProjectID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	req := SyncRequest{ProjectID: body.ProjectID}
	for _, c := range body.ProjectConfigs {
		req.ProjectConfigs = append(req.ProjectConfigs, ConfigRow{Key: c.Key, Value: c.Value})
	}
	for _, hst := range body.Hosts {
		summary, err := sanitizeHostSummaryJSON(hst.DesiredSummary)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		req.Hosts = append(req.Hosts, HostRow{HostName: hst.HostName, DesiredSummary: summary})
	}
	for _, g := range body.Gateways {
		summary, err := sanitizeGatewaySummaryJSON(g.DesiredSummary)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		req.Gateways = append(req.Gateways, GatewayRow{HostName: g.HostName, GatewayID: g.GatewayID, DesiredSummary: summary})
	}
	for _, sw := range body.SecretWiring {
		req.SecretWiring = append(req.SecretWiring, SecretWiringRow{HostName: sw.HostName, WiringKey: sw.WiringKey, Value: sw.Value})
	}

	result, err := h.sync.Sync(r.Context(), req)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"ok": true, "synced": result})
}

// sanitizeHostSummaryJSON decodes an optional desiredSummary payload into
// validate.HostSummary, clips it (spec.md §4.L), and re-encodes it for
// storage. An empty payload passes through unchanged.
func sanitizeHostSummaryJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var summary validate.HostSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, err
	}
	return json.Marshal(validate.SanitizeDesiredHostSummary(summary))
}

// sanitizeGatewaySummaryJSON is sanitizeHostSummaryJSON's gateway counterpart.
func sanitizeGatewaySummaryJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var summary validate.GatewaySummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, err
	}
	return json.Marshal(validate.SanitizeDesiredGatewaySummary(summary))
}
