package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"agrosentry/internal/domain"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	message := "internal error"

	var rejected *domain.RejectedError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
		code = "unauthorized"
		message = "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
		code = "forbidden"
		message = "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
		message = "not found"
	case errors.Is(err, domain.ErrCommandBusy):
		status = http.StatusConflict
		code = "command_busy"
		message = "another command is in flight"
	case errors.Is(err, domain.ErrDroneLost):
		status = http.StatusConflict
		code = "drone_lost"
		message = "drone link is lost"
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
		code = "invalid_transition"
		message = "command not allowed in current mode"
	case errors.As(err, &rejected):
		status = http.StatusConflict
		code = "rejected"
		message = rejected.Reason
	case errors.Is(err, domain.ErrInvalid):
		status = http.StatusUnprocessableEntity
		code = "invalid"
		message = "invalid request"
	case errors.Is(err, domain.ErrOverloaded):
		status = http.StatusServiceUnavailable
		code = "overloaded"
		message = "drone queue is full"
	case errors.Is(err, domain.ErrClosed):
		status = http.StatusServiceUnavailable
		code = "closed"
		message = "engine is shutting down"
	}
	respondJSON(w, status, errorResponse{Code: code, Message: message})
}
