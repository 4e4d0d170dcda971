package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error      string                    `json:"error"`
	Kind       apperr.Kind               `json:"kind,omitempty"`
	Message    string                    `json:"message,omitempty"` // user-facing
	TxHash     string                    `json:"tx_hash,omitempty"`
	Settlement *storage.SettlementRecord `json:"settlement,omitempty"`
}

// statusFor maps an error kind onto an HTTP status code.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindUserRejected, apperr.KindWrongNetwork:
		return http.StatusConflict
	case apperr.KindPreparation, apperr.KindLedgerRevert:
		return http.StatusUnprocessableEntity
	case apperr.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.KindSession:
		return http.StatusServiceUnavailable
	case apperr.KindNetwork:
		return http.StatusBadGateway
	case apperr.KindNetworkTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondWithAppError writes err with its kind, user message and txHash.
// rec, when set, is the settlement record as it stood after the failure.
func respondWithAppError(w http.ResponseWriter, err error, rec *storage.SettlementRecord) {
	kind := apperr.KindOf(err)
	resp := ErrorResponse{
		Error:      err.Error(),
		Kind:       kind,
		Message:    apperr.UserMessage(kind),
		Settlement: rec,
	}
	var aerr *apperr.Error
	if errors.As(err, &aerr) {
		resp.TxHash = aerr.TxHash
		if aerr.Message != "" && kind != apperr.KindInternal {
			resp.Error = aerr.Message
		}
	}
	if kind == apperr.KindInternal {
		resp.Error = "internal error"
	}
	if resp.TxHash == "" && rec != nil {
		resp.TxHash = rec.TxHash
	}
	respondJSON(w, statusFor(kind), resp)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func idParam(r *http.Request) string {
	return chi.URLParam(r, "id")
}
