package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pilotdesk/governance/internal/auth"
	"github.com/pilotdesk/governance/internal/config"
	"github.com/pilotdesk/governance/internal/models"
	"github.com/pilotdesk/governance/internal/registry"
	"github.com/pilotdesk/governance/internal/service"
)

type Server struct {
	cfg      config.Config
	service  *service.Service
	store    registry.Store
	verifier *auth.Verifier
}

func New(cfg config.Config, svc *service.Service, store registry.Store, verifier *auth.Verifier) *Server {
	return &Server{cfg: cfg, service: svc, store: store, verifier: verifier}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/governance", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.verifier.Middleware)
			r.Post("/proposals", s.handleSubmit)
			r.Get("/proposals", s.handleListProposals)
			r.Get("/proposals/{id}", s.handleGetProposal)
			r.Get("/proposals/{id}/audit", s.handleAuditTrail)
			r.Get("/proposals/{id}/components", s.handleComponents)
			r.Post("/proposals/{id}/decision", s.handleDecide)
			r.Post("/expire", s.handleExpire)
			r.Get("/workspaces/{workspaceID}/policy", s.handleGetPolicy)
			r.Put("/workspaces/{workspaceID}/policy", s.handleUpdatePolicy)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type submitRequest struct {
	WorkspaceID        string          `json:"workspaceId"`
	AgentType          string          `json:"agentType"`
	ActionType         string          `json:"actionType"`
	Payload            json.RawMessage `json:"payload"`
	Components         []string        `json:"components"`
	EstimatedCostCents int64           `json:"estimatedCostCents"`
	SupersedesID       *string         `json:"supersedesId"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	workspaceID, err := uuid.Parse(req.WorkspaceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown workspace")
		return
	}
	var supersedes *uuid.UUID
	if req.SupersedesID != nil {
		id, err := uuid.Parse(*req.SupersedesID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid supersedesId")
			return
		}
		supersedes = &id
	}
	proposal, err := s.service.Submit(r.Context(), service.SubmitRequest{
		WorkspaceID:        workspaceID,
		AgentType:          req.AgentType,
		ActionType:         req.ActionType,
		Payload:            req.Payload,
		Components:         req.Components,
		EstimatedCostCents: req.EstimatedCostCents,
		SupersedesID:       supersedes,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, proposal)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	filter := registry.ListFilter{}
	if ws := r.URL.Query().Get("workspaceId"); ws != "" {
		id, err := uuid.Parse(ws)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid workspaceId")
			return
		}
		filter.WorkspaceID = &id
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = models.ProposalStatus(status)
	}
	proposals, err := s.service.ListProposals(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if proposals == nil {
		proposals = []models.Proposal{}
	}
	respondJSON(w, http.StatusOK, proposals)
}

func (s *Server) proposalID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid proposal id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := s.proposalID(w, r)
	if !ok {
		return
	}
	proposal, err := s.service.GetProposal(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.proposalID(w, r)
	if !ok {
		return
	}
	entries, err := s.service.AuditTrail(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.proposalID(w, r)
	if !ok {
		return
	}
	decisions, err := s.service.ComponentDecisions(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if decisions == nil {
		decisions = []models.ComponentDecision{}
	}
	respondJSON(w, http.StatusOK, decisions)
}

type decideRequest struct {
	ReviewerID         string                             `json:"reviewerId"`
	Outcome            models.DecisionOutcome             `json:"outcome"`
	Reason             string                             `json:"reason"`
	ComponentDecisions map[string]models.ComponentOutcome `json:"componentDecisions"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	id, ok := s.proposalID(w, r)
	if !ok {
		return
	}
	var req decideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Reviewer identity comes from the verified token unless supplied.
	if req.ReviewerID == "" {
		if p := auth.FromContext(r.Context()); p != nil {
			req.ReviewerID = p.Subject
		}
	}
	proposal, err := s.service.Decide(r.Context(), id, service.DecideRequest{
		ReviewerID:         req.ReviewerID,
		Outcome:            req.Outcome,
		Reason:             req.Reason,
		ComponentDecisions: req.ComponentDecisions,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.ExpireStale(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"expired": count})
}

func (s *Server) workspaceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "workspaceID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown workspace")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.workspaceID(w, r)
	if !ok {
		return
	}
	pol, err := s.service.GetPolicy(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pol)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.workspaceID(w, r)
	if !ok {
		return
	}
	var patch service.PolicyPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pol, err := s.service.UpdatePolicy(r.Context(), id, patch)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pol)
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrExpired):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, service.ErrPolicyViolation):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
