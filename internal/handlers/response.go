package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/logging"
)

// Envelope is the uniform body of every API response.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

type errorDetails struct {
	Fields []string `json:"fields,omitempty"`
}

func respondData(ctx context.Context, w http.ResponseWriter, status int, data any, message string) {
	respondJSON(ctx, w, status, Envelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

// respondError translates err into an envelope. Unclassified errors become a
// generic 500 so internals never reach the client.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logging.FromContext(ctx)

	appErr, ok := apperr.As(err)
	if !ok {
		logger.Error("unhandled error", "error", err)
		respondData(ctx, w, http.StatusInternalServerError, nil, "something went wrong")
		return
	}

	status := appErr.StatusCode()
	switch {
	case appErr.Kind == apperr.KindReconciliation:
		logger.Error("request left inconsistent state", "defect", true, "error", err)
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "kind", appErr.Kind.String(), "error", err)
	default:
		logger.Warn("request rejected", "kind", appErr.Kind.String(), "message", appErr.Message)
	}

	var data any
	if len(appErr.Fields) > 0 {
		data = errorDetails{Fields: appErr.Fields}
	}
	respondData(ctx, w, status, data, appErr.Message)
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
	}
}
