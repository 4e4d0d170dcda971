package handlers

import (
	"net/http"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/auth"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/service"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// SettlementResponse is the settlement state of a prediction
type SettlementResponse struct {
	PredictionID string                    `json:"prediction_id"`
	Phase        service.Phase             `json:"phase"`
	Settlement   *storage.SettlementRecord `json:"settlement"`
	Message      string                    `json:"message,omitempty"` // user-facing, set after a failure
}

func (h *Handler) settlementResponse(predictionID string, rec *storage.SettlementRecord) SettlementResponse {
	resp := SettlementResponse{
		PredictionID: predictionID,
		Phase:        h.cfg.Coordinator.Phase(predictionID),
		Settlement:   rec,
	}
	if rec != nil && rec.Status == storage.SettlementFailed {
		resp.Message = apperr.UserMessage(apperr.Kind(rec.LastErrorKind))
	}
	return resp
}

// HandleSettlementStatus handles GET /api/predictions/{id}/settlement
func (h *Handler) HandleSettlementStatus(w http.ResponseWriter, r *http.Request) {
	predictionID := idParam(r)
	rec, err := h.cfg.Coordinator.GetSettlementStatus(r.Context(), predictionID)
	if err != nil {
		respondWithAppError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, h.settlementResponse(predictionID, rec))
}

// HandleSubmitSettlement handles POST /api/predictions/{id}/settlement. The
// server signing session submits on behalf of the requesting creator or arbiter.
func (h *Handler) HandleSubmitSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		respondWithError(w, "Unauthorized: user not in context", http.StatusUnauthorized)
		return
	}

	predictionID := idParam(r)
	rec, err := h.cfg.Coordinator.SubmitSettlement(ctx, predictionID, userID, h.cfg.Session())
	if err != nil {
		logger.Debug(userID, "settlement_request_failed", "prediction_id", predictionID, "kind", string(apperr.KindOf(err)), "error", err)
		respondWithAppError(w, err, rec)
		return
	}
	respondJSON(w, http.StatusOK, h.settlementResponse(predictionID, rec))
}

// HandleRecheck handles POST /api/predictions/{id}/settlement/recheck
func (h *Handler) HandleRecheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		respondWithError(w, "Unauthorized: user not in context", http.StatusUnauthorized)
		return
	}

	predictionID := idParam(r)
	rec, err := h.cfg.Coordinator.Recheck(ctx, predictionID)
	if err != nil {
		logger.Debug(userID, "settlement_recheck_failed", "prediction_id", predictionID, "kind", string(apperr.KindOf(err)), "error", err)
		respondWithAppError(w, err, rec)
		return
	}
	respondJSON(w, http.StatusOK, h.settlementResponse(predictionID, rec))
}
