package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/itisteddy/fan-club-z-sub008/internal/backend"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
	"github.com/itisteddy/fan-club-z-sub008/internal/ledger"
	"github.com/itisteddy/fan-club-z-sub008/internal/payout"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

const (
	testChain  = "devnet"
	testWindow = time.Hour
)

type fixture struct {
	store   *storage.Store
	clock   *clockwork.FakeClock
	pred    *storage.Prediction
	creator *storage.User
	players []*storage.User // players[0..2] on option A, players[3] on option B
	arbiter *storage.User
	events  *recordingSink
}

func (f *fixture) optionA() string { return f.pred.Options[0].ID }
func (f *fixture) optionB() string { return f.pred.Options[1].ID }

func (f *fixture) policy() Policy {
	return Policy{ContestWindow: testWindow, Arbiters: []string{f.arbiter.ID}}
}

// setupTestDB opens an in-memory store with a closed prediction: stakes of
// 300/200/100 USD on option A and 400 USD on option B.
func setupTestDB(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	store, err := storage.Open(ctx, storage.Config{Path: ":memory:", Clock: clock})
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	creator, err := store.CreateUser(ctx, 1000, "creator", "Creator")
	require.NoError(t, err)
	require.NoError(t, store.SetUserAddress(ctx, creator.ID, "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"))
	arbiter, err := store.CreateUser(ctx, 1001, "arbiter", "Arbiter")
	require.NoError(t, err)

	pred, err := store.CreatePrediction(ctx, creator.ID, "Will it rain tomorrow?", []string{"Yes", "No"})
	require.NoError(t, err)

	stakes := []struct {
		option int
		stake  int64
	}{{0, 30000}, {0, 20000}, {0, 10000}, {1, 40000}}
	var players []*storage.User
	for i, s := range stakes {
		u, err := store.CreateUser(ctx, int64(2000+i), "", fmt.Sprintf("Player %d", i))
		require.NoError(t, err)
		_, err = store.PlaceEntry(ctx, pred.ID, u.ID, pred.Options[s.option].ID, s.stake, "")
		require.NoError(t, err)
		players = append(players, u)
	}
	require.NoError(t, store.SetPredictionStatus(ctx, pred.ID, storage.PredictionClosed))

	pred, err = store.GetPrediction(ctx, pred.ID)
	require.NoError(t, err)

	return &fixture{
		store:   store,
		clock:   clock,
		pred:    pred,
		creator: creator,
		players: players,
		arbiter: arbiter,
		events:  &recordingSink{},
	}
}

func (f *fixture) disputes(t *testing.T) *DisputeService {
	t.Helper()
	s, err := NewDisputeService(DisputeConfig{Store: f.store, Policy: f.policy(), Events: f.events, Clock: f.clock})
	require.NoError(t, err)
	return s
}

func (f *fixture) preparer() *LocalPreparer {
	return NewLocalPreparer(f.store, f.policy(), payout.DefaultFees, commitment.Pricing{UnitsPerUSD: 100})
}

// propose creates a proposal for option A and lets its window pass.
func (f *fixture) propose(t *testing.T) *storage.Proposal {
	t.Helper()
	prop, err := f.disputes(t).ProposeSettlement(context.Background(), f.pred.ID, f.creator.ID, f.optionA(), "It rained", "")
	require.NoError(t, err)
	f.clock.Advance(testWindow + time.Minute)
	return prop
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EventType
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeSigner struct {
	mu        sync.Mutex
	name      string
	chainID   string
	canSwitch bool
	sendErrs  []error // consumed one per send; nil entries succeed
	onSend    func()
	sends     int
	calls     []ledger.ContractCall
}

func newFakeSigner(name string) *fakeSigner {
	return &fakeSigner{name: name, chainID: testChain}
}

func (s *fakeSigner) Address(ctx context.Context) (string, error) {
	return s.name, nil
}

func (s *fakeSigner) ChainID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID, nil
}

func (s *fakeSigner) SwitchChain(ctx context.Context, chainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canSwitch {
		return ledger.ErrWrongNetwork
	}
	s.chainID = chainID
	return nil
}

func (s *fakeSigner) SignAndSend(ctx context.Context, call ledger.ContractCall) (string, error) {
	if s.onSend != nil {
		s.onSend()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if len(s.sendErrs) > 0 {
		err := s.sendErrs[0]
		s.sendErrs = s.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	s.sends++
	return fmt.Sprintf("%s-tx-%d", s.name, s.sends), nil
}

func (s *fakeSigner) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

type fakeRecovery struct {
	mu         sync.Mutex
	next       ledger.Signer
	clears     int
	reconnects int
}

func (r *fakeRecovery) ClearStaleSession(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	return nil
}

func (r *fakeRecovery) Reconnect(ctx context.Context) (ledger.Signer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects++
	return r.next, nil
}

type fakeWatcher struct {
	mu       sync.Mutex
	receipts map[string]ledger.ReceiptStatus
	err      error
	block    chan struct{}
	waits    []string
}

func (w *fakeWatcher) WaitForReceipt(ctx context.Context, txHash string, opts ledger.WaitOptions) (*ledger.Receipt, error) {
	w.mu.Lock()
	w.waits = append(w.waits, txHash)
	block := w.block
	w.mu.Unlock()

	if block != nil {
		<-block
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	status := ledger.ReceiptSuccess
	if s, ok := w.receipts[txHash]; ok {
		status = s
	}
	r := &ledger.Receipt{TxHash: txHash, Status: status, Slot: 100}
	if status == ledger.ReceiptReverted {
		r.Error = "InstructionError"
	}
	return r, nil
}

func (w *fakeWatcher) waitCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waits)
}

type fakeNotifier struct {
	mu      sync.Mutex
	err     error
	notices []backend.OnchainNotice
}

func (n *fakeNotifier) NotifyOnchain(ctx context.Context, notice backend.OnchainNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (f *fixture) coordinator(t *testing.T, watcher ledger.Watcher, notifier Notifier) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(CoordinatorConfig{
		Store:             f.store,
		Preparer:          f.preparer(),
		Notifier:          notifier,
		Watcher:           watcher,
		Events:            f.events,
		Policy:            f.policy(),
		ChainID:           testChain,
		PlatformRecipient: "platform",
		ConfirmTimeout:    time.Minute,
		Clock:             f.clock,
	})
	require.NoError(t, err)
	return c
}
