package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/infra/logging"
	red "premium-access/internal/infra/redis"
	"premium-access/internal/usecase"
)

const deviceTokenHeader = "X-Device-Token"

type statusResponse struct {
	*model.UserEntitlementStatus
	Active bool `json:"active"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	st, err := s.deps.Entitlements.Resolve(r.Context(), chi.URLParam(r, "userID"), now)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{UserEntitlementStatus: st, Active: st.ActiveAt(now)})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := logging.WithUserID(r.Context(), userID)

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	if lim := s.deps.RedeemLimiter; lim != nil && s.cfg.RateLimit.RedeemPerMinute > 0 {
		ok, err := lim.Allow(ctx, red.RedeemAttemptKey(userID), s.cfg.RateLimit.RedeemPerMinute, time.Minute)
		if err != nil {
			l := logging.With(ctx, s.log)
			l.Warn().Err(err).Msg("redeem rate limiter unavailable; allowing attempt")
		} else if !ok {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", s.message(r, "rate_limited", "too many redemption attempts"))
			return
		}
	}

	res, err := s.deps.Codes.Activate(ctx, req.Code, userID, s.now())
	if err != nil {
		l := logging.With(ctx, s.log)
		l.Debug().Err(err).Str("code", logging.Redact(req.Code, s.cfg.Runtime.Dev)).Msg("redemption refused")
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":   res.Code.Code,
		"kind":   res.Code.Kind,
		"status": res.Status,
	})
}

func (s *Server) handleTrial(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Codes.GrantTrial(r.Context(), chi.URLParam(r, "userID"), s.now())
	if err != nil && !errors.Is(err, domain.ErrAlreadyRedeemed) {
		s.fail(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"granted": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"granted": true, "status": res.Status})
}

type loginRequest struct {
	DeviceID    string            `json:"device_id"`
	DeviceInfo  map[string]string `json:"device_info"`
	DeviceToken string            `json:"device_token"`
}

type loginResponse struct {
	DeviceID       string                       `json:"device_id"`
	DeviceToken    string                       `json:"device_token"`
	TokenExpiresAt time.Time                    `json:"token_expires_at"`
	Tier           model.CodeKind               `json:"tier,omitempty"`
	Managed        bool                         `json:"managed"`
	Status         *model.UserEntitlementStatus `json:"status"`
	Session        *model.DeviceSession         `json:"session,omitempty"`
	// HeartbeatSeconds tells managed clients how often to call the heartbeat endpoint.
	HeartbeatSeconds int `json:"heartbeat_seconds,omitempty"`
}

// handleLogin admits a device. A valid device token presented by a returning
// device pins the device id; a fresh device without an id gets one minted.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	now := s.now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	if req.DeviceToken != "" {
		claims, err := s.deps.Tokens.Verify(req.DeviceToken, now)
		if err != nil || claims.UserID() != userID {
			s.fail(w, r, domain.ErrInvalidDeviceToken)
			return
		}
		deviceID = claims.DeviceID
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	ctx := logging.WithDeviceID(logging.WithUserID(r.Context(), userID), deviceID)
	res, err := s.deps.Admission.Login(ctx, usecase.LoginRequest{
		UserID:     userID,
		DeviceID:   deviceID,
		DeviceInfo: req.DeviceInfo,
	}, now)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !res.Decision.Admitted() {
		s.fail(w, r, res.Decision.Err())
		return
	}

	token, exp, err := s.deps.Tokens.Issue(userID, deviceID, now)
	if err != nil {
		l := logging.With(ctx, s.log)
		l.Error().Err(err).Msg("failed to sign device token")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	resp := loginResponse{
		DeviceID:       deviceID,
		DeviceToken:    token,
		TokenExpiresAt: exp,
		Tier:           res.Decision.Tier,
		Managed:        res.Decision.Managed,
		Status:         res.Status,
		Session:        res.Session,
	}
	if res.Decision.Managed {
		resp.HeartbeatSeconds = int(s.cfg.Sessions.HeartbeatInterval / time.Second)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deviceClaims(r *http.Request) (userID, deviceID string, err error) {
	raw := r.Header.Get(deviceTokenHeader)
	if raw == "" {
		return "", "", domain.ErrInvalidDeviceToken
	}
	claims, err := s.deps.Tokens.Verify(raw, s.now())
	if err != nil {
		return "", "", err
	}
	return claims.UserID(), claims.DeviceID, nil
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, err := s.deviceClaims(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Sessions.Touch(r.Context(), userID, deviceID, s.now()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, err := s.deviceClaims(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	removed, err := s.deps.Sessions.Remove(r.Context(), userID, deviceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// handleListSessions lists a user's sessions; ?active=true restricts it to the
// recently seen ones.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	var (
		items []*model.DeviceSession
		err   error
	)
	if activeOnly {
		items, err = s.deps.Sessions.ActiveSessions(r.Context(), userID, s.now())
	} else {
		items, err = s.deps.Sessions.Sessions(r.Context(), userID)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
