package handlers

import (
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/itisteddy/fan-club-z-sub008/internal/auth"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
)

// UserResponse is the response for the /api/me endpoint
type UserResponse struct {
	ID         string `json:"id"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	Address    string `json:"address,omitempty"`
}

// SetAddressRequest is the request body for PUT /api/me/address
type SetAddressRequest struct {
	Address string `json:"address"`
}

// HandleMe handles the GET /api/me endpoint
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		logger.Debug("", "me_unauthorized", "path", r.URL.Path)
		respondWithError(w, "Unauthorized: user not in context", http.StatusUnauthorized)
		return
	}

	user, err := h.cfg.Store.GetUserByID(ctx, userID)
	if err != nil {
		logger.Debug(userID, "me_error", "error", err)
		respondWithError(w, "Failed to get user", http.StatusInternalServerError)
		return
	}
	if user == nil {
		logger.Debug(userID, "me_not_found")
		respondWithError(w, "User not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, UserResponse{
		ID:         user.ID,
		TelegramID: user.TelegramID,
		Username:   user.Username,
		FirstName:  user.FirstName,
		Address:    user.Address,
	})
}

// HandleSetAddress handles PUT /api/me/address. The address receives the
// creator fee and is where payouts can be redeemed to.
func (h *Handler) HandleSetAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		respondWithError(w, "Unauthorized: user not in context", http.StatusUnauthorized)
		return
	}

	var req SetAddressRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	address := strings.TrimSpace(req.Address)
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		respondWithError(w, "Invalid address: must be a base58 public key", http.StatusBadRequest)
		return
	}

	if err := h.cfg.Store.SetUserAddress(ctx, userID, address); err != nil {
		logger.Debug(userID, "set_address_error", "error", err)
		respondWithError(w, "Failed to save address", http.StatusInternalServerError)
		return
	}
	logger.Debug(userID, "set_address_success", "address", address)
	h.HandleMe(w, r)
}
