// Package api implements C5: the HTTP surface (/v3/tokens*) and its
// request/response envelope. Grounded on auth/http/server.go's manual
// switch-based handleRequest dispatch (kept deliberately rather than
// adopting gin, even though gin appears in the streamspace sibling repo
// — this is the teacher's own demonstrated idiom for serving HTTP) and
// auth/http/middleware.go's writeJSON/writeError helpers.
package api

import (
	"encoding/json"
	"net/http"

	"tokensapi/internal/apperr"
	"tokensapi/internal/logging"
)

const apiVersion = "v3"

// envelope is the response shape every handler writes, per spec.md
// §6's "all responses use the envelope {status, message, version, result}".
type envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Version string      `json:"version"`
	Result  interface{} `json:"result,omitempty"`
}

func writeResult(w http.ResponseWriter, message string, result interface{}) {
	writeJSON(w, http.StatusOK, envelope{Status: "success", Message: message, Version: apiVersion, Result: result})
}

func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	message := "internal error"
	if ae, ok := apperr.As(err); ok {
		code = ae.StatusCode()
		message = ae.Message
		if ae.Kind == apperr.KindInternal || ae.Kind == apperr.KindInconsistency {
			logging.GetLogger().Error().Err(err).Str("kind", string(ae.Kind)).Msg("request failed")
		} else {
			logging.GetLogger().Warn().Str("kind", string(ae.Kind)).Str("message", message).Msg("request rejected")
		}
	} else {
		logging.GetLogger().Error().Err(err).Msg("unclassified error")
	}
	writeJSON(w, code, envelope{Status: "error", Message: message, Version: apiVersion})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
