package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/usecase"
)

type generateCodesRequest struct {
	Kind       string     `json:"kind"`
	Issuer     string     `json:"issuer"`
	Count      int        `json:"count"`
	Start      *time.Time `json:"start,omitempty"`
	End        *time.Time `json:"end,omitempty"`
	CustomDays *int       `json:"custom_days,omitempty"`
}

const maxCodesPerRequest = 100

func (s *Server) handleGenerateCodes(w http.ResponseWriter, r *http.Request) {
	var req generateCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 || req.Count > maxCodesPerRequest {
		s.fail(w, r, fmt.Errorf("%w: count must be between 1 and %d", domain.ErrInvalidArgument, maxCodesPerRequest))
		return
	}

	now := s.now()
	items := make([]*model.PremiumCode, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		code, err := s.deps.Codes.Generate(r.Context(), usecase.GenerateCodeRequest{
			Issuer:     req.Issuer,
			Kind:       model.CodeKind(req.Kind),
			Start:      req.Start,
			End:        req.End,
			CustomDays: req.CustomDays,
		}, now)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		items = append(items, code)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"items": items})
}

// handleListCodes returns every code, or only the temporally active ones with ?active=true.
func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	var (
		items []*model.PremiumCode
		err   error
	)
	if activeOnly {
		items, err = s.deps.Codes.ListActive(r.Context(), s.now())
	} else {
		items, err = s.deps.Codes.ListAll(r.Context())
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleDeleteCodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	res, err := s.deps.Codes.Delete(r.Context(), req.IDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted_count":     res.DeletedCount,
		"affected_user_ids": res.AffectedUserIDs,
	})
}

func (s *Server) handleCodeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Codes.Stats(r.Context(), s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Entitlements.Revoke(r.Context(), chi.URLParam(r, "userID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Entitlements.RevokeAllCodesForUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"codes_updated": n})
}

func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Entitlements.ExportSnapshot(r.Context(), s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (s *Server) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Records []*model.UserEntitlementStatus `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	n, err := s.deps.Entitlements.ImportSnapshot(r.Context(), req.Records)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Entitlements.Reconcile(r.Context(), s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
