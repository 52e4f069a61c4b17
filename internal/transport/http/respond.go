package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "github.com/plecsi/reactom/pkg/domain-errors"
)

// writeJSON centralizes response encoding so handlers stay declarative.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors into the {message} envelope the client
// consumes. Internal causes are logged, never serialized.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"error", err,
			"path", r.URL.Path,
		)
	}
	writeJSON(w, status, map[string]string{"message": dErrors.MessageOf(err)})
}
