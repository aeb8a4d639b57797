package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error ErrorBody    `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorBody provides detailed error information
type ErrorBody struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// ResponseMeta contains response metadata
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err onto its AppError status. Anything that is not an
// AppError is reported as an internal error without leaking its text.
func writeError(ctx context.Context, w http.ResponseWriter, logger *zap.Logger, err error) {
	status := errors.GetStatusCode(err)
	body := ErrorBody{
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred",
	}

	var appErr *errors.AppError
	switch {
	case stderrors.As(err, &appErr):
		body.Code = appErr.Code
		body.Message = appErr.Message
		body.Retryable = appErr.Retryable
		body.Details = appErr.Details
	case stderrors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		body.Code = "REQUEST_TIMEOUT"
		body.Message = "Request timed out"
		body.Retryable = true
	case stderrors.Is(err, context.Canceled):
		status = 499
		body.Code = "REQUEST_CANCELED"
		body.Message = "Request was canceled"
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		body.TraceID = sc.TraceID().String()
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.String("code", body.Code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", status), zap.String("code", body.Code), zap.Error(err))
	}

	writeJSON(w, status, ErrorResponse{
		Error: body,
		Meta: ResponseMeta{
			RequestID: RequestIDFromContext(ctx),
			Timestamp: time.Now().UTC(),
		},
	})
}
