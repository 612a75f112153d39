package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/infra/logging"
)

type errorBody struct {
	Error    string                 `json:"error"`
	Message  string                 `json:"message"`
	Cap      int                    `json:"cap,omitempty"`
	Tier     string                 `json:"tier,omitempty"`
	Sessions []*model.DeviceSession `json:"sessions,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// classify maps use-case errors onto an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrDeviceCapReached):
		return http.StatusLocked, "device_cap_reached"
	case errors.Is(err, domain.ErrCodeNotFound):
		return http.StatusNotFound, "code_not_found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return http.StatusConflict, "already_redeemed"
	case errors.Is(err, domain.ErrCodeExpired):
		return http.StatusGone, "code_expired"
	case errors.Is(err, domain.ErrCodeNotYetValid):
		return http.StatusUnprocessableEntity, "code_not_yet_valid"
	case errors.Is(err, domain.ErrInvalidDeviceToken):
		return http.StatusUnauthorized, "invalid_device_token"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrStorageFault):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// message localises code for the caller's Accept-Language, falling back to
// fallback when no catalog is wired or the code is not translated.
func (s *Server) message(r *http.Request, code, fallback string, args ...interface{}) string {
	if s.deps.Messages == nil {
		return fallback
	}
	tr := s.deps.Messages.For(r.Header.Get("Accept-Language"))
	if !tr.Has(code) {
		return fallback
	}
	return tr.T(code, args...)
}

// fail writes err as a JSON error. Device-cap rejections carry the sessions
// currently holding a slot.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	var capErr *model.DeviceCapError
	if errors.As(err, &capErr) {
		writeJSON(w, status, errorBody{
			Error:    code,
			Message:  s.message(r, code, capErr.Error(), capErr.Cap),
			Cap:      capErr.Cap,
			Tier:     string(capErr.Tier),
			Sessions: capErr.Sessions,
		})
		return
	}

	fallback := err.Error()
	switch status {
	case http.StatusInternalServerError:
		fallback = "internal error"
	case http.StatusServiceUnavailable:
		fallback = "storage is temporarily unavailable"
	}
	if status >= http.StatusInternalServerError {
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, code, s.message(r, code, fallback))
}
