package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

const testToken = "123456:test-token"

func signedInitData(t *testing.T, authDate time.Time, user string) string {
	t.Helper()
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("query_id", "AAH")
	values.Set("user", user)
	values.Set("hash", Sign(testToken, values))
	return values.Encode()
}

func testValidator() (*Validator, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return &Validator{BotToken: testToken, MaxAge: DefaultMaxAge, Clock: clock}, clock
}

func TestValidateInitData(t *testing.T) {
	v, clock := testValidator()

	user, err := v.ValidateInitData(signedInitData(t, clock.Now(), `{"id":2000,"username":"alice","first_name":"Alice"}`))
	require.NoError(t, err)
	require.Equal(t, &TelegramUser{ID: 2000, Username: "alice", FirstName: "Alice"}, user)
}

func TestValidateInitDataRejects(t *testing.T) {
	v, clock := testValidator()
	valid := signedInitData(t, clock.Now(), `{"id":2000}`)

	tampered, err := url.ParseQuery(valid)
	require.NoError(t, err)
	tampered.Set("user", `{"id":1}`)

	tests := []struct {
		name     string
		initData string
		token    string
	}{
		{name: "empty", initData: "", token: testToken},
		{name: "missing hash", initData: "auth_date=1&user=%7B%7D", token: testToken},
		{name: "tampered user", initData: tampered.Encode(), token: testToken},
		{name: "other bot", initData: valid, token: "999:other"},
		{name: "too old", initData: signedInitData(t, clock.Now().Add(-25*time.Hour), `{"id":2000}`), token: testToken},
		{name: "no user id", initData: signedInitData(t, clock.Now(), `{"username":"x"}`), token: testToken},
		{name: "no token configured", initData: valid, token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &Validator{BotToken: tt.token, MaxAge: DefaultMaxAge, Clock: clock}
			_, err := v.ValidateInitData(tt.initData)
			require.Error(t, err)
		})
	}
	_, err = v.ValidateInitData(valid)
	require.NoError(t, err)
}

type fakeResolver struct {
	err   error
	calls []int64
}

func (r *fakeResolver) EnsureUser(ctx context.Context, telegramID int64, username, firstName string) (*storage.User, error) {
	r.calls = append(r.calls, telegramID)
	if r.err != nil {
		return nil, r.err
	}
	return &storage.User{ID: "user-" + strconv.FormatInt(telegramID, 10), TelegramID: telegramID}, nil
}

func TestMiddleware(t *testing.T) {
	v, clock := testValidator()
	resolver := &fakeResolver{}

	var got string
	handler := Middleware(v, resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(InitDataHeader, signedInitData(t, clock.Now(), `{"id":2000}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "user-2000", got)
	require.Equal(t, []int64{2000}, resolver.calls)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(InitDataHeader, "hash=deadbeef&auth_date=1")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	resolver.err = errors.New("db closed")
	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(InitDataHeader, signedInitData(t, clock.Now(), `{"id":2000}`))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestGetUserIDFromContext(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		expectOk bool
	}{
		{
			name:     "valid user ID",
			userID:   "3f1c9a5e-2b7d-4d7e-9c1a-0f3e5b6a7c8d",
			expectOk: true,
		},
		{
			name:     "empty user ID",
			userID:   "",
			expectOk: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithUserID(context.Background(), tt.userID)
			userID, ok := GetUserIDFromContext(ctx)
			if ok != tt.expectOk {
				t.Errorf("Expected ok=%v, got ok=%v", tt.expectOk, ok)
			}
			if ok && userID != tt.userID {
				t.Errorf("Expected userID=%s, got userID=%s", tt.userID, userID)
			}
		})
	}
}

func TestGetUserIDFromContextMissing(t *testing.T) {
	ctx := context.Background()
	_, ok := GetUserIDFromContext(ctx)
	if ok {
		t.Error("Expected ok=false for missing user ID in context")
	}
}
