package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserIDKey is the context key for the local user ID
	UserIDKey ContextKey = "user_id"

	// InitDataHeader carries the Telegram WebApp initData string
	InitDataHeader = "X-Telegram-Init-Data"

	// DefaultMaxAge is how long signed initData stays valid
	DefaultMaxAge = 24 * time.Hour
)

// TelegramUser is the user object embedded in initData
type TelegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// UserResolver maps a Telegram identity onto a local user, creating it on first sight.
type UserResolver interface {
	EnsureUser(ctx context.Context, telegramID int64, username, firstName string) (*storage.User, error)
}

// Validator checks Telegram WebApp initData signatures.
type Validator struct {
	BotToken string
	MaxAge   time.Duration
	Clock    clockwork.Clock
}

// NewValidator creates a validator for the given bot token
func NewValidator(botToken string) *Validator {
	return &Validator{BotToken: botToken, MaxAge: DefaultMaxAge, Clock: clockwork.NewRealClock()}
}

// ValidateInitData validates the Telegram initData string.
// It checks the HMAC-SHA256 signature and the auth_date.
func (v *Validator) ValidateInitData(initData string) (*TelegramUser, error) {
	if initData == "" {
		return nil, fmt.Errorf("empty initData")
	}
	if v.BotToken == "" {
		return nil, fmt.Errorf("bot token not set")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse initData: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, fmt.Errorf("hash not found in initData")
	}

	if !hmac.Equal([]byte(hash), []byte(Sign(v.BotToken, values))) {
		return nil, fmt.Errorf("invalid hash")
	}

	authDateStr := values.Get("auth_date")
	if authDateStr == "" {
		return nil, fmt.Errorf("auth_date not found")
	}
	authDate, err := strconv.ParseInt(authDateStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid auth_date format")
	}

	maxAge := v.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	now := time.Now()
	if v.Clock != nil {
		now = v.Clock.Now()
	}
	if now.Sub(time.Unix(authDate, 0)) > maxAge {
		return nil, fmt.Errorf("auth_date is too old")
	}

	userStr := values.Get("user")
	if userStr == "" {
		return nil, fmt.Errorf("user not found in initData")
	}
	var user TelegramUser
	if err := json.Unmarshal([]byte(userStr), &user); err != nil {
		return nil, fmt.Errorf("failed to parse user: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("user id not found")
	}
	return &user, nil
}

// Sign computes the initData hash for values: HMAC-SHA256 over the sorted
// data-check string, keyed by HMAC-SHA256("WebAppData", botToken).
func Sign(botToken string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key != "hash" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, key := range keys {
		lines[i] = key + "=" + values.Get(key)
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// Middleware returns an HTTP middleware that validates Telegram initData and
// stores the local user ID in the request context.
func Middleware(v *Validator, users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.Header.Get(InitDataHeader)
			if initData == "" {
				http.Error(w, "Unauthorized: missing X-Telegram-Init-Data header", http.StatusUnauthorized)
				return
			}

			tgUser, err := v.ValidateInitData(initData)
			if err != nil {
				logger.Debug("", "auth_failed", "path", r.URL.Path, "error", err)
				http.Error(w, "Unauthorized: invalid initData", http.StatusUnauthorized)
				return
			}

			user, err := users.EnsureUser(r.Context(), tgUser.ID, tgUser.Username, tgUser.FirstName)
			if err != nil {
				logger.Warn("", "auth_user_failed", "telegram_id", tgUser.ID, "error", err)
				http.Error(w, "Failed to load user", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), user.ID)))
		})
	}
}

// ContextWithUserID adds the user ID to the context
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserIDFromContext retrieves the user ID from the context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}
