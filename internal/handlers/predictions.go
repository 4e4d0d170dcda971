package handlers

import (
	"net/http"
	"time"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/auth"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// PredictionResponse is a prediction with its settlement progress
type PredictionResponse struct {
	storage.Prediction
	Proposal         *storage.Proposal         `json:"proposal,omitempty"`
	ContestWindowEnd *time.Time                `json:"contest_window_end,omitempty"`
	DisputeCount     int                       `json:"dispute_count"`
	Settlement       *storage.SettlementRecord `json:"settlement,omitempty"`
}

// ProofResponse carries the caller's leaves and inclusion proofs for redemption
type ProofResponse struct {
	PredictionID string            `json:"prediction_id"`
	TxHash       string            `json:"tx_hash"`
	MerkleRoot   commitment.Hash   `json:"merkle_root"`
	Leaves       []commitment.Leaf `json:"leaves"`
}

// HandleGetPrediction handles GET /api/predictions/{id}
func (h *Handler) HandleGetPrediction(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.prediction"
	ctx := r.Context()
	id := idParam(r)

	pred, err := h.cfg.Store.GetPrediction(ctx, id)
	if err != nil {
		respondWithAppError(w, apperr.Wrap(apperr.KindInternal, op, err), nil)
		return
	}
	if pred == nil {
		respondWithAppError(w, apperr.New(apperr.KindNotFound, op, "prediction %s not found", id), nil)
		return
	}
	resp := PredictionResponse{Prediction: *pred}

	prop, err := h.cfg.Store.LatestProposal(ctx, id)
	if err != nil {
		respondWithAppError(w, apperr.Wrap(apperr.KindInternal, op, err), nil)
		return
	}
	if prop != nil {
		end := h.cfg.Disputes.Policy().WindowEnd(prop)
		resp.Proposal = prop
		resp.ContestWindowEnd = &end

		disputes, err := h.cfg.Store.Disputes(ctx, prop.ID)
		if err != nil {
			respondWithAppError(w, apperr.Wrap(apperr.KindInternal, op, err), nil)
			return
		}
		resp.DisputeCount = len(disputes)
	}

	rec, err := h.cfg.Store.SettlementRecord(ctx, id)
	if err != nil {
		respondWithAppError(w, apperr.Wrap(apperr.KindInternal, op, err), nil)
		return
	}
	resp.Settlement = rec

	respondJSON(w, http.StatusOK, resp)
}

// HandleProof handles GET /api/predictions/{id}/proof. Only confirmed
// settlements have redeemable proofs.
func (h *Handler) HandleProof(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.proof"
	ctx := r.Context()
	userID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		respondWithError(w, "Unauthorized: user not in context", http.StatusUnauthorized)
		return
	}
	id := idParam(r)

	rec, err := h.cfg.Store.SettlementRecord(ctx, id)
	if err != nil {
		respondWithAppError(w, apperr.Wrap(apperr.KindInternal, op, err), nil)
		return
	}
	if rec == nil || rec.Status != storage.SettlementConfirmed {
		respondWithAppError(w, apperr.New(apperr.KindNotFound, op, "prediction %s is not settled", id), rec)
		return
	}

	cr, err := h.cfg.Store.GetCommitment(ctx, rec.CommitmentID)
	if err != nil || cr == nil {
		respondWithAppError(w, apperr.New(apperr.KindInternal, op, "commitment %s missing", rec.CommitmentID), nil)
		return
	}

	var leaves []commitment.Leaf
	for _, leaf := range cr.Commitment.Leaves {
		if leaf.UserID == userID {
			leaves = append(leaves, leaf)
		}
	}
	if len(leaves) == 0 {
		respondWithAppError(w, apperr.New(apperr.KindNotFound, op, "no payout for you in prediction %s", id), nil)
		return
	}

	logger.Debug(userID, "proof_served", "prediction_id", id, "leaves", len(leaves))
	respondJSON(w, http.StatusOK, ProofResponse{
		PredictionID: id,
		TxHash:       rec.TxHash,
		MerkleRoot:   cr.Commitment.MerkleRoot,
		Leaves:       leaves,
	})
}
