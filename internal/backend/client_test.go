package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
	"github.com/itisteddy/fan-club-z-sub008/internal/payout"
	"github.com/itisteddy/fan-club-z-sub008/internal/retry"
)

func testCommitment(t *testing.T) *commitment.Commitment {
	t.Helper()
	res := &payout.Result{
		PlatformFeeUnits: 10,
		CreatorFeeUnits:  4,
		Lines: []payout.Line{
			{UserID: "alice", EntryID: "e1", Stake: 300, Payout: 500},
			{UserID: "bob", EntryID: "e2", Stake: 200, Payout: 486},
		},
	}
	c, err := commitment.Build(res, commitment.Pricing{UnitsPerUSD: 100})
	require.NoError(t, err)
	return c
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:    url + "/",
		ServiceKey: "secret",
		Retry:      retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

func TestPrepare(t *testing.T) {
	c := testCommitment(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settlement/prepare", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req PrepareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "pred-1", req.PredictionID)
		require.Equal(t, "creator", req.UserID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Prepared{CommitmentID: "c-1", Commitment: *c})
	}))
	defer srv.Close()

	prepared, err := newTestClient(t, srv.URL).Prepare(context.Background(), PrepareRequest{
		PredictionID: "pred-1", ProposalID: "prop-1", WinningOptionID: "A", UserID: "creator", Reason: "result",
	})
	require.NoError(t, err)
	require.Equal(t, "c-1", prepared.CommitmentID)
	require.Equal(t, c.MerkleRoot, prepared.MerkleRoot)
	require.Len(t, prepared.Leaves, 2)
}

func TestPrepareStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		want     apperr.Kind
		attempts int32
	}{
		{http.StatusBadRequest, apperr.KindValidation, 1},
		{http.StatusUnauthorized, apperr.KindAuthorization, 1},
		{http.StatusForbidden, apperr.KindAuthorization, 1},
		{http.StatusConflict, apperr.KindPreparation, 1},
		{http.StatusServiceUnavailable, apperr.KindPreparation, 3},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Prepare(context.Background(), PrepareRequest{PredictionID: "p"})
			require.Error(t, err)
			require.Equal(t, tt.want, apperr.KindOf(err))
			require.Contains(t, err.Error(), "nope")
			require.Equal(t, tt.attempts, calls.Load())
		})
	}
}

func TestPrepareRejectsTamperedCommitment(t *testing.T) {
	c := testCommitment(t)
	c.Leaves[0].AmountUnits++
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Prepared{CommitmentID: "c-1", Commitment: *c})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Prepare(context.Background(), PrepareRequest{PredictionID: "p"})
	require.Error(t, err)
	require.Equal(t, apperr.KindPreparation, apperr.KindOf(err))
}

func TestNotifyOnchainRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settlement/onchain", r.URL.Path)
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var notice OnchainNotice
		require.NoError(t, json.NewDecoder(r.Body).Decode(&notice))
		require.Equal(t, "tx-1", notice.TxHash)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).NotifyOnchain(context.Background(), OnchainNotice{
		PredictionID: "pred-1", TxHash: "tx-1", MerkleRoot: commitment.EmptyRoot,
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestNotifyOnchainUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newTestClient(t, url).NotifyOnchain(context.Background(), OnchainNotice{PredictionID: "p"})
	require.Error(t, err)
	require.Equal(t, apperr.KindNetwork, apperr.KindOf(err))
}
