package handlers

import (
	"net/http"
	"time"

	"github.com/itisteddy/fan-club-z-sub008/internal/auth"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/service"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// ProposeRequest is the request body for proposing an outcome
type ProposeRequest struct {
	OptionID string `json:"option_id"`
	Reason   string `json:"reason"`
	ProofURL string `json:"proof_url,omitempty"`
}

// ProposalResponse is a proposal with the end of its contest window
type ProposalResponse struct {
	storage.Proposal
	ContestWindowEnd time.Time `json:"contest_window_end"`
}

// DisputeRequest is the request body for filing a dispute
type DisputeRequest struct {
	Reason string `json:"reason"`
}

// ResolveRequest is the request body for resolving a disputed proposal
type ResolveRequest struct {
	Action      string `json:"action"` // reject, revise or refund
	Reason      string `json:"reason"`
	NewOptionID string `json:"new_option_id,omitempty"`
}

// DisputesResponse lists the disputes filed against a proposal
type DisputesResponse struct {
	ProposalID string            `json:"proposal_id"`
	Disputes   []storage.Dispute `json:"disputes"`
}

func (h *Handler) proposalResponse(p *storage.Proposal) ProposalResponse {
	return ProposalResponse{Proposal: *p, ContestWindowEnd: h.cfg.Disputes.Policy().WindowEnd(p)}
}

// HandleProposeSettlement handles POST /api/predictions/{id}/proposals
func (h *Handler) HandleProposeSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		respondWithError(w, "Unauthorized: user not in context", http.StatusUnauthorized)
		return
	}

	var req ProposeRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	prop, err := h.cfg.Disputes.ProposeSettlement(ctx, idParam(r), userID, req.OptionID, req.Reason, req.ProofURL)
	if err != nil {
		logger.Debug(userID, "propose_failed", "prediction_id", idParam(r), "error", err)
		respondWithAppError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, h.proposalResponse(prop))
}

// HandleFileDispute handles POST /api/proposals/{id}/disputes
func (h *Handler) HandleFileDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		respondWithError(w, "Unauthorized: user not in context", http.StatusUnauthorized)
		return
	}

	var req DisputeRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.cfg.Disputes.FileDispute(ctx, idParam(r), userID, req.Reason)
	if err != nil {
		logger.Debug(userID, "dispute_failed", "proposal_id", idParam(r), "error", err)
		respondWithAppError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// HandleListDisputes handles GET /api/proposals/{id}/disputes
func (h *Handler) HandleListDisputes(w http.ResponseWriter, r *http.Request) {
	disputes, err := h.cfg.Disputes.Disputes(r.Context(), idParam(r))
	if err != nil {
		respondWithAppError(w, err, nil)
		return
	}
	if disputes == nil {
		disputes = []storage.Dispute{}
	}
	respondJSON(w, http.StatusOK, DisputesResponse{ProposalID: idParam(r), Disputes: disputes})
}

// HandleResolveDispute handles POST /api/proposals/{id}/resolve
func (h *Handler) HandleResolveDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		respondWithError(w, "Unauthorized: user not in context", http.StatusUnauthorized)
		return
	}

	var req ResolveRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	prop, err := h.cfg.Disputes.ResolveDispute(ctx, idParam(r), userID, service.ResolutionAction(req.Action), req.Reason, req.NewOptionID)
	if err != nil {
		logger.Debug(userID, "resolve_failed", "proposal_id", idParam(r), "action", req.Action, "error", err)
		respondWithAppError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, h.proposalResponse(prop))
}
