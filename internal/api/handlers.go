package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tokopoints/campaigner/internal/audience"
	"github.com/tokopoints/campaigner/internal/campaign"
	"github.com/tokopoints/campaigner/internal/dispatch"
	"github.com/tokopoints/campaigner/internal/faults"
	"github.com/tokopoints/campaigner/internal/risk"
)

// ErrorResponse is the common error payload
type ErrorResponse struct {
	Error string `json:"error"`

	// Set on risk-gated launch refusals.
	Score    int      `json:"score,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
	NeedsAck bool     `json:"needs_ack,omitempty"`
}

// HealthResponse is the /health payload
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// CreateCampaignRequest is the campaign creation payload
type CreateCampaignRequest struct {
	Name             string           `json:"name"`
	Message          string           `json:"message"`
	LinkURL          string           `json:"link_url,omitempty"`
	Audience         audience.Request `json:"audience"`
	ScheduledAt      *time.Time       `json:"scheduled_at,omitempty"`
	RiskAcknowledged bool             `json:"risk_acknowledged,omitempty"`
}

// ValidateMessageRequest is the message risk check payload
type ValidateMessageRequest struct {
	Message string `json:"message"`
}

// LaunchRequest is the optional launch payload
type LaunchRequest struct {
	RiskAcknowledged bool `json:"risk_acknowledged,omitempty"`
}

// TestSendRequest is the test delivery payload
type TestSendRequest struct {
	Phone string `json:"phone"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: "0.1.0",
		Uptime:  time.Since(s.startTime).String(),
	})
}

// handleResolveAudience handles POST /api/v1/audience/resolve
func (s *Server) handleResolveAudience(w http.ResponseWriter, r *http.Request) {
	var req audience.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	start := time.Now()
	res, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.metrics.ResolveDurationSeconds.Observe(time.Since(start).Seconds())

	s.sendJSON(w, http.StatusOK, res)
}

// handleValidateMessage handles POST /api/v1/messages/validate. The
// assessment itself is always a 200: a blocked message is a result,
// not a request error.
func (s *Server) handleValidateMessage(w http.ResponseWriter, r *http.Request) {
	var req ValidateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		s.sendError(w, http.StatusBadRequest, "message is required")
		return
	}

	a := risk.Score(req.Message, risk.Limits{
		MaxLinks:  s.policy.MaxLinks,
		MaxLength: s.policy.MaxLength,
	})
	s.sendJSON(w, http.StatusOK, a)
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Message == "" {
		s.sendError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Audience.Mode == "" {
		s.sendError(w, http.StatusBadRequest, "audience.mode is required")
		return
	}
	if req.Audience.Spec != nil {
		if err := req.Audience.Spec.Validate(); err != nil {
			s.sendDomainError(w, err)
			return
		}
	}

	now := time.Now()
	c := &campaign.Campaign{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Audience:         req.Audience,
		Message:          req.Message,
		LinkURL:          req.LinkURL,
		RiskAcknowledged: req.RiskAcknowledged,
		ScheduledAt:      req.ScheduledAt,
		Status:           campaign.StatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.SaveCampaign(c); err != nil {
		s.logger.Error("failed to save campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to save campaign")
		return
	}

	s.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	s.sendJSON(w, http.StatusCreated, c)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListCampaigns()
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}
	s.sendJSON(w, http.StatusOK, list)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleLaunchCampaign handles POST /api/v1/campaigns/{id}/launch
func (s *Server) handleLaunchCampaign(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	// The launch request may carry the operator's risk acknowledgement.
	var req LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RiskAcknowledged && !c.RiskAcknowledged {
		c.RiskAcknowledged = true
		if err := s.store.SaveCampaign(c); err != nil {
			s.logger.Error("failed to save campaign", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to save campaign")
			return
		}
	}

	if err := s.dispatcher.Launch(r.Context(), c.ID); err != nil {
		s.sendDomainError(w, err)
		return
	}

	c, _ = s.store.GetCampaign(c.ID)
	s.logger.Info("campaign launch accepted", "campaign_id", c.ID, "status", c.Status)
	s.sendJSON(w, http.StatusAccepted, c)
}

// handlePauseCampaign handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if err := s.dispatcher.Pause(r.Context(), c.ID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	c, _ = s.store.GetCampaign(c.ID)
	s.sendJSON(w, http.StatusOK, c)
}

// handleResumeCampaign handles POST /api/v1/campaigns/{id}/resume
func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if err := s.dispatcher.Resume(r.Context(), c.ID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	c, _ = s.store.GetCampaign(c.ID)
	s.sendJSON(w, http.StatusAccepted, c)
}

// handleArchiveCampaign handles POST /api/v1/campaigns/{id}/archive
func (s *Server) handleArchiveCampaign(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if err := s.dispatcher.Archive(r.Context(), c.ID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	c, _ = s.store.GetCampaign(c.ID)
	s.sendJSON(w, http.StatusOK, c)
}

// handleTestSend handles POST /api/v1/campaigns/{id}/test-send
func (s *Server) handleTestSend(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	var req TestSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.dispatcher.TestSend(r.Context(), req.Phone, c.Message); err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.logger.Info("test message sent", "campaign_id", c.ID, "phone", req.Phone)
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// loadCampaign fetches the campaign from the URL or writes the error
// response and returns nil.
func (s *Server) loadCampaign(w http.ResponseWriter, r *http.Request) *campaign.Campaign {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return nil
	}
	c, err := s.store.GetCampaign(id)
	if err != nil {
		s.logger.Error("failed to get campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return nil
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return nil
	}
	return c
}

// sendDomainError maps domain errors to HTTP statuses: bad input is
// 400, an illegal lifecycle move 409, a risk-gated refusal 422 and a
// directory failure 502.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	var rbe *dispatch.RiskBlockedError
	var ite *campaign.InvalidTransitionError
	switch {
	case errors.As(err, &rbe):
		s.sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:    rbe.Error(),
			Score:    rbe.Score,
			Reasons:  rbe.Reasons,
			NeedsAck: rbe.NeedsAck,
		})
	case errors.As(err, &ite):
		s.sendError(w, http.StatusConflict, ite.Error())
	case faults.IsValidation(err):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case faults.IsResolution(err):
		s.logger.Error("audience resolution failed", "error", err)
		s.sendError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("internal error", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
