package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"meal-board/internal/board"
	"meal-board/internal/identity"
	"meal-board/internal/week"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}

// writeAppError maps the error taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	var (
		invalid  *board.ValidationError
		conflict *week.VersionConflictError
		persist  *week.PersistenceError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.Is(err, identity.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, "Authentication required")
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  invalid.Error(),
			"field":  invalid.Field,
			"reason": invalid.Reason,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":          "Board was modified by another request",
			"currentVersion": conflict.Current,
		})
	case errors.As(err, &persist):
		log.WithError(err).Error("Board storage failure")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":     "Storage temporarily unavailable",
			"retryable": persist.Retryable(),
		})
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	default:
		log.WithError(err).Error("Unhandled request error")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
