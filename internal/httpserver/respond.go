package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/clawlets/controlplane/internal/apierr"
)

// Respond writes v as a JSON body with the given status code. The teacher's
// version of this helper lived in the private github.com/wisbric/core
// module; this repo reimplements it directly since that dependency cannot
// be fetched (see DESIGN.md).
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the JSON shape every error response takes.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RespondError writes a {error, code} JSON body with the given status.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	Respond(w, status, ErrorBody{Error: message, Code: code})
}

// RespondAPIError translates an apierr.Error to its HTTP status (spec.md
// §7) and writes it; any other error is treated as an internal error.
func RespondAPIError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
		return
	}
	RespondError(w, statusForKind(apiErr.Kind), string(apiErr.Kind), apiErr.Message)
}

func statusForKind(k apierr.Kind) int {
	switch k {
	case apierr.KindUnauthorized:
		return http.StatusUnauthorized
	case apierr.KindForbidden:
		return http.StatusForbidden
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindConflict:
		return http.StatusConflict
	case apierr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
