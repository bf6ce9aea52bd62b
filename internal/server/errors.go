package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"snapsched/internal/registry"
	"snapsched/internal/schedule"
	"snapsched/pkg/logx"
)

// retryAfterSeconds is advertised on 503 responses caused by a transient
// scheduler or registry failure.
const retryAfterSeconds = "5"

// Error codes used in the response envelope.
const (
	CodeBadRequest           = "BAD_REQUEST"
	CodeInvalidArgument      = "INVALID_ARGUMENT"
	CodeNotFound             = "NOT_FOUND"
	CodeUnprocessable        = "UNPROCESSABLE_ENTITY"
	CodeConsistencyViolation = "CONSISTENCY_VIOLATION"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeBadGateway           = "BAD_GATEWAY"
	CodeInternal             = "INTERNAL"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// apiError is a response that did not come from the domain layer
// (malformed bodies, missing objects).
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(msg string) error    { return &apiError{http.StatusBadRequest, CodeBadRequest, msg} }
func unprocessable(msg string) error { return &apiError{http.StatusUnprocessableEntity, CodeUnprocessable, msg} }

// statusFor maps err to an HTTP status and envelope body.
func statusFor(err error) (int, errorBody) {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status, errorBody{Code: ae.code, Message: ae.message}
	}
	if errors.Is(err, registry.ErrNotFound) && !errors.As(err, new(*schedule.Error)) {
		return http.StatusNotFound, errorBody{Code: CodeNotFound, Message: "The server could not be found"}
	}

	var se *schedule.Error
	if !errors.As(err, &se) {
		return http.StatusInternalServerError, errorBody{Code: CodeInternal, Message: "internal error"}
	}
	body := errorBody{Message: se.Message}
	if se.ResourceID != "" || se.Value != "" {
		body.Details = map[string]string{}
		if se.ResourceID != "" {
			body.Details["resource_id"] = se.ResourceID
		}
		if se.Value != "" {
			body.Details["value"] = se.Value
		}
	}

	switch se.Kind {
	case schedule.KindInvalidArgument:
		body.Code = CodeInvalidArgument
		return http.StatusBadRequest, body
	case schedule.KindNotFound:
		body.Code = CodeNotFound
		return http.StatusNotFound, body
	case schedule.KindConsistencyViolation:
		body.Code = CodeConsistencyViolation
		return http.StatusInternalServerError, body
	case schedule.KindExternalService:
		body.Message = "scheduling backend unavailable"
		if se.Transient {
			body.Code = CodeServiceUnavailable
			return http.StatusServiceUnavailable, body
		}
		body.Code = CodeBadGateway
		return http.StatusBadGateway, body
	default:
		body.Code = CodeInternal
		body.Message = "internal error"
		return http.StatusInternalServerError, body
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log logx.Logger, err error) {
	status, body := statusFor(err)
	body.RequestID = middleware.GetReqID(r.Context())

	if status >= 500 {
		log.Error("request failed",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", status),
			logx.String("request_id", body.RequestID),
			logx.Err(err),
		)
	} else {
		log.Debug("request rejected", logx.Int("status", status), logx.String("request_id", body.RequestID), logx.Err(err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
