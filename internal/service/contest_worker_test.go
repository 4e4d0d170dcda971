package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itisteddy/fan-club-z-sub008/internal/ledger"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

func (f *fixture) worker(t *testing.T, c *Coordinator, session *ledger.Session) *ContestWorker {
	t.Helper()
	w, err := NewContestWorker(ContestWorkerConfig{
		Store:       f.store,
		Coordinator: c,
		Policy:      f.policy(),
		Session:     func() *ledger.Session { return session },
		Clock:       f.clock,
	})
	require.NoError(t, err)
	return w
}

func TestContestWorkerWaitsForWindow(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	signer := newFakeSigner("server")
	w := f.worker(t, f.coordinator(t, &fakeWatcher{}, &fakeNotifier{}), &ledger.Session{Signer: signer})

	_, err := f.disputes(t).ProposeSettlement(ctx, f.pred.ID, f.creator.ID, f.optionA(), "It rained", "")
	require.NoError(t, err)

	f.clock.Advance(testWindow - time.Minute)
	require.Equal(t, 0, w.RunOnce(ctx))
	require.Equal(t, 0, signer.sendCount())

	f.clock.Advance(2 * time.Minute)
	require.Equal(t, 1, w.RunOnce(ctx))
	require.Equal(t, 1, signer.sendCount())

	rec, err := f.store.SettlementRecord(ctx, f.pred.ID)
	require.NoError(t, err)
	require.Equal(t, storage.SettlementConfirmed, rec.Status)

	// settled predictions are not picked up again
	require.Equal(t, 0, w.RunOnce(ctx))
	require.Equal(t, 1, signer.sendCount())
}

func TestContestWorkerSkipsDisputedProposal(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	signer := newFakeSigner("server")
	w := f.worker(t, f.coordinator(t, &fakeWatcher{}, &fakeNotifier{}), &ledger.Session{Signer: signer})

	ds := f.disputes(t)
	prop, err := ds.ProposeSettlement(ctx, f.pred.ID, f.creator.ID, f.optionA(), "It rained", "")
	require.NoError(t, err)
	_, err = ds.FileDispute(ctx, prop.ID, f.players[3].ID, "It did not")
	require.NoError(t, err)

	f.clock.Advance(2 * testWindow)
	require.Equal(t, 0, w.RunOnce(ctx))
	require.Equal(t, 0, signer.sendCount())

	// a resolved dispute is submitted on the next pass
	_, err = ds.ResolveDispute(ctx, prop.ID, f.arbiter.ID, ActionReject, "Weather service confirms rain", "")
	require.NoError(t, err)
	require.Equal(t, 1, w.RunOnce(ctx))
	require.Equal(t, 1, signer.sendCount())
}

func TestContestWorkerSkipsFailedAttempt(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	f.propose(t)

	signer := newFakeSigner("server")
	signer.sendErrs = []error{ledger.ErrInsufficientFunds}
	w := f.worker(t, f.coordinator(t, &fakeWatcher{}, &fakeNotifier{}), &ledger.Session{Signer: signer})

	require.Equal(t, 0, w.RunOnce(ctx))
	require.Len(t, signer.calls, 1)

	rec, err := f.store.SettlementRecord(ctx, f.pred.ID)
	require.NoError(t, err)
	require.Equal(t, storage.SettlementFailed, rec.Status)

	require.Equal(t, 0, w.RunOnce(ctx))
	require.Len(t, signer.calls, 1)
}

func TestContestWorkerWithoutSession(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	f.propose(t)

	w := f.worker(t, f.coordinator(t, &fakeWatcher{}, &fakeNotifier{}), nil)
	require.Equal(t, 0, w.RunOnce(ctx))

	rec, err := f.store.SettlementRecord(ctx, f.pred.ID)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestContestWorkerStartStop(t *testing.T) {
	f := setupTestDB(t)
	f.propose(t)
	signer := newFakeSigner("server")
	w := f.worker(t, f.coordinator(t, &fakeWatcher{}, &fakeNotifier{}), &ledger.Session{Signer: signer})

	w.Start()
	require.Eventually(t, func() bool { return signer.sendCount() == 1 }, time.Second, 10*time.Millisecond)
	w.Stop()
}
