package handlers

import (
	"net/http"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/backend"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
)

// HandlePrepare handles POST /api/settlement/prepare. It is the server side
// of backend.Client.Prepare.
func (h *Handler) HandlePrepare(w http.ResponseWriter, r *http.Request) {
	var req backend.PrepareRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PredictionID == "" || req.ProposalID == "" {
		respondWithError(w, "prediction_id and proposal_id are required", http.StatusBadRequest)
		return
	}

	prepared, err := h.cfg.Preparer.Prepare(r.Context(), req)
	if err != nil {
		logger.Debug(req.UserID, "prepare_request_failed", "prediction_id", req.PredictionID, "proposal_id", req.ProposalID, "error", err)
		respondWithAppError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, prepared)
}

// HandleOnchain handles POST /api/settlement/onchain. The notice must match
// the commitment stored for the prediction's latest attempt.
func (h *Handler) HandleOnchain(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.onchain"
	ctx := r.Context()

	var notice backend.OnchainNotice
	if err := decodeBody(r, &notice); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if notice.PredictionID == "" || notice.TxHash == "" || notice.MerkleRoot == (commitment.Hash{}) {
		respondWithError(w, "prediction_id, tx_hash and merkle_root are required", http.StatusBadRequest)
		return
	}

	rec, err := h.cfg.Store.SettlementRecord(ctx, notice.PredictionID)
	if err != nil {
		respondWithAppError(w, apperr.Wrap(apperr.KindInternal, op, err), nil)
		return
	}
	if rec == nil || rec.CommitmentID == "" {
		respondWithAppError(w, apperr.New(apperr.KindNotFound, op, "no commitment prepared for prediction %s", notice.PredictionID), nil)
		return
	}
	cr, err := h.cfg.Store.GetCommitment(ctx, rec.CommitmentID)
	if err != nil {
		respondWithAppError(w, apperr.Wrap(apperr.KindInternal, op, err), nil)
		return
	}
	if cr == nil || cr.Commitment.MerkleRoot != notice.MerkleRoot {
		respondWithAppError(w, apperr.New(apperr.KindConflict, op, "merkle root does not match the prepared commitment"), rec)
		return
	}

	if err := h.cfg.Notifier.NotifyOnchain(ctx, notice); err != nil {
		respondWithAppError(w, apperr.Wrap(apperr.KindInternal, op, err), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
