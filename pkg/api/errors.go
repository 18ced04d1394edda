package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/crateworks/crate-validator/pkg/dispatch"
	"github.com/crateworks/crate-validator/pkg/objectstore"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError translates a dispatch or object store error into a
// response. It is the only place that maps errors to status codes.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var de *dispatch.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case dispatch.NotFoundError:
			writeMessage(w, de.StatusCode(), de.Message)
		case dispatch.UserInputError:
			writeError(w, de.StatusCode(), de.Message)
		default:
			logger.Error("dispatch failed", "error", err)
			writeError(w, de.StatusCode(), de.Error())
		}
		return
	}

	var se *objectstore.Error
	if errors.As(err, &se) {
		logger.Error("object store request failed", "kind", string(se.Kind), "error", err)
		writeMessage(w, se.StatusCode(), se.Error())
		return
	}

	logger.Error("unexpected error", "error", err)
	writeMessage(w, http.StatusInternalServerError, string(objectstore.UnknownError))
}
