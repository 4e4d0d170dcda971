package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
	"github.com/itisteddy/fan-club-z-sub008/internal/payout"
)

func setupTestDB(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	// Use in-memory database for tests
	store, err := Open(context.Background(), Config{Path: ":memory:", Clock: clock})
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, clock
}

// seedPrediction creates a creator, a two-option prediction and stakes of
// 300/200/100 on the first option and 400 on the second.
func seedPrediction(t *testing.T, store *Store) (*Prediction, []*User) {
	t.Helper()
	ctx := context.Background()

	creator, err := store.CreateUser(ctx, 1000, "creator", "Creator")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	p, err := store.CreatePrediction(ctx, creator.ID, "Will it rain tomorrow?", []string{"Yes", "No"})
	if err != nil {
		t.Fatalf("CreatePrediction failed: %v", err)
	}

	stakes := []struct {
		option int
		stake  int64
	}{{0, 30000}, {0, 20000}, {0, 10000}, {1, 40000}}
	var users []*User
	for i, s := range stakes {
		u, err := store.CreateUser(ctx, int64(2000+i), "", "Player")
		if err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
		if _, err := store.PlaceEntry(ctx, p.ID, u.ID, p.Options[s.option].ID, s.stake, ""); err != nil {
			t.Fatalf("PlaceEntry failed: %v", err)
		}
		users = append(users, u)
	}
	return p, append([]*User{creator}, users...)
}

func TestCreateUser(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, 12345, "testuser", "Test User")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.ID == "" {
		t.Error("Expected non-empty user ID")
	}
	if user.TelegramID != 12345 {
		t.Errorf("Expected TelegramID 12345, got %d", user.TelegramID)
	}

	if _, err := store.CreateUser(ctx, 12345, "again", "Again"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for repeated telegram id, got %v", err)
	}

	// users without a Telegram identity do not collide
	if _, err := store.CreateUser(ctx, 0, "a", "A"); err != nil {
		t.Fatalf("CreateUser without telegram id failed: %v", err)
	}
	if _, err := store.CreateUser(ctx, 0, "b", "B"); err != nil {
		t.Fatalf("Second CreateUser without telegram id failed: %v", err)
	}
}

func TestEnsureUserAndLookups(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	first, err := store.EnsureUser(ctx, 99999, "uniqueuser", "Unique User")
	if err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	second, err := store.EnsureUser(ctx, 99999, "uniqueuser", "Unique User")
	if err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Expected the same user, got %s and %s", first.ID, second.ID)
	}

	byID, err := store.GetUserByID(ctx, first.ID)
	if err != nil || byID == nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if byID.Username != "uniqueuser" {
		t.Errorf("Expected username 'uniqueuser', got %s", byID.Username)
	}

	missing, err := store.GetUserByTelegramID(ctx, 99999999)
	if err != nil {
		t.Fatalf("GetUserByTelegramID should not fail for non-existent user: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil user for non-existent Telegram ID")
	}

	if err := store.SetUserAddress(ctx, first.ID, "11111111111111111111111111111111"); err != nil {
		t.Fatalf("SetUserAddress failed: %v", err)
	}
	byID, _ = store.GetUserByID(ctx, first.ID)
	if byID.Address != "11111111111111111111111111111111" {
		t.Errorf("Expected address to be stored, got %q", byID.Address)
	}
}

func TestPlaceEntryUpdatesTotals(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	p, _ := seedPrediction(t, store)

	got, err := store.GetPrediction(ctx, p.ID)
	if err != nil || got == nil {
		t.Fatalf("GetPrediction failed: %v", err)
	}
	if got.PoolTotal != 100000 {
		t.Errorf("Expected pool total 100000, got %d", got.PoolTotal)
	}
	if got.ParticipantCount != 4 {
		t.Errorf("Expected 4 participants, got %d", got.ParticipantCount)
	}
	if got.Options[0].TotalStaked != 60000 || got.Options[1].TotalStaked != 40000 {
		t.Errorf("Expected option totals 60000/40000, got %d/%d", got.Options[0].TotalStaked, got.Options[1].TotalStaked)
	}
}

func TestPlaceEntryRejectsClosedPrediction(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	p, users := seedPrediction(t, store)

	if err := store.SetPredictionStatus(ctx, p.ID, PredictionClosed); err != nil {
		t.Fatalf("SetPredictionStatus failed: %v", err)
	}
	if _, err := store.PlaceEntry(ctx, p.ID, users[1].ID, p.Options[0].ID, 100, ""); err == nil {
		t.Error("Expected error staking on a closed prediction")
	}
	if _, err := store.PlaceEntry(ctx, p.ID, users[1].ID, "no-such-option", 100, ""); err == nil {
		t.Error("Expected error staking on an unknown option")
	}
}

func TestPoolFeedsPayoutCalculator(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	p, users := seedPrediction(t, store)

	if err := store.SetUserAddress(ctx, users[1].ID, "11111111111111111111111111111111"); err != nil {
		t.Fatalf("SetUserAddress failed: %v", err)
	}

	pool, err := store.Pool(ctx, p.ID)
	if err != nil || pool == nil {
		t.Fatalf("Pool failed: %v", err)
	}
	res, err := payout.Compute(*pool, p.Options[0].ID, payout.DefaultFees)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if err := res.Check(100000); err != nil {
		t.Errorf("Conservation failed: %v", err)
	}

	var addressed int
	for _, e := range pool.Entries {
		if e.Address != "" {
			addressed++
		}
	}
	if addressed != 1 {
		t.Errorf("Expected the linked wallet on one entry, got %d", addressed)
	}

	missing, err := store.Pool(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil pool for unknown prediction, got %v / %v", missing, err)
	}
}

func TestApplyOutcome(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	p, _ := seedPrediction(t, store)

	if err := store.ApplyOutcome(ctx, p.ID, p.Options[0].ID, false); err != nil {
		t.Fatalf("ApplyOutcome failed: %v", err)
	}
	entries, _ := store.Entries(ctx, p.ID)
	counts := map[EntryStatus]int{}
	for _, e := range entries {
		counts[e.Status]++
	}
	if counts[EntryWon] != 3 || counts[EntryLost] != 1 {
		t.Errorf("Expected 3 won and 1 lost, got %v", counts)
	}
	got, _ := store.GetPrediction(ctx, p.ID)
	if got.Status != PredictionSettled {
		t.Errorf("Expected settled, got %s", got.Status)
	}
}

func TestApplyOutcomeRefund(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	p, _ := seedPrediction(t, store)

	if err := store.ApplyOutcome(ctx, p.ID, "", true); err != nil {
		t.Fatalf("ApplyOutcome failed: %v", err)
	}
	entries, _ := store.Entries(ctx, p.ID)
	for _, e := range entries {
		if e.Status != EntryRefunded {
			t.Errorf("Expected entry %s refunded, got %s", e.ID, e.Status)
		}
	}
	got, _ := store.GetPrediction(ctx, p.ID)
	if got.Status != PredictionRefunded {
		t.Errorf("Expected refunded, got %s", got.Status)
	}
}

func TestProposalAndDisputeFlow(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	p, users := seedPrediction(t, store)

	prop := &Proposal{PredictionID: p.ID, OptionID: p.Options[0].ID, ProposerID: users[0].ID, Reason: "official result"}
	if err := store.CreateProposal(ctx, prop); err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	if prop.Status != ProposalPending {
		t.Errorf("Expected pending, got %s", prop.Status)
	}
	second := &Proposal{PredictionID: p.ID, OptionID: p.Options[1].ID, ProposerID: users[0].ID, Reason: "again"}
	if err := store.CreateProposal(ctx, second); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for a second open proposal, got %v", err)
	}

	d := &Dispute{ProposalID: prop.ID, UserID: users[4].ID, Reason: "source was wrong"}
	if err := store.AddDispute(ctx, d); err != nil {
		t.Fatalf("AddDispute failed: %v", err)
	}
	dup := &Dispute{ProposalID: prop.ID, UserID: users[4].ID, Reason: "again"}
	if err := store.AddDispute(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
	other := &Dispute{ProposalID: prop.ID, UserID: users[3].ID, Reason: "me too"}
	if err := store.AddDispute(ctx, other); err != nil {
		t.Fatalf("AddDispute failed: %v", err)
	}

	got, _ := store.GetProposal(ctx, prop.ID)
	if got.Status != ProposalDisputed {
		t.Errorf("Expected disputed, got %s", got.Status)
	}
	pred, _ := store.GetPrediction(ctx, p.ID)
	if pred.Status != PredictionDisputed {
		t.Errorf("Expected prediction disputed, got %s", pred.Status)
	}

	// revise: old proposal superseded, disputes resolved, new proposal resolved
	replacement := &Proposal{PredictionID: p.ID, OptionID: p.Options[1].ID, ProposerID: users[0].ID,
		Reason: "corrected", Status: ProposalResolved}
	err := store.ApplyResolution(ctx, Resolution{
		ProposalID:       prop.ID,
		ProposalStatus:   ProposalSuperseded,
		DisputeStatus:    DisputeResolved,
		Replacement:      replacement,
		PredictionStatus: PredictionAwaitingSettlement,
	})
	if err != nil {
		t.Fatalf("ApplyResolution failed: %v", err)
	}

	old, _ := store.GetProposal(ctx, prop.ID)
	if old.Status != ProposalSuperseded || old.OptionID != p.Options[0].ID {
		t.Errorf("Expected old proposal superseded and unchanged, got %s / %s", old.Status, old.OptionID)
	}
	latest, _ := store.LatestProposal(ctx, p.ID)
	if latest.ID != replacement.ID || latest.SupersedesID != prop.ID {
		t.Errorf("Expected replacement as latest proposal, got %+v", latest)
	}
	disputes, _ := store.Disputes(ctx, prop.ID)
	for _, d := range disputes {
		if d.Status != DisputeResolved {
			t.Errorf("Expected dispute %s resolved, got %s", d.ID, d.Status)
		}
	}

	// a second resolution of the same proposal is rejected
	err = store.ApplyResolution(ctx, Resolution{ProposalID: prop.ID, ProposalStatus: ProposalResolved, DisputeStatus: DisputeRejected})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict on double resolution, got %v", err)
	}
	if err := store.AddDispute(ctx, &Dispute{ProposalID: prop.ID, UserID: users[2].ID, Reason: "late"}); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict disputing a superseded proposal, got %v", err)
	}

	all, _ := store.Proposals(ctx, p.ID)
	if len(all) != 2 {
		t.Errorf("Expected 2 proposals in the audit trail, got %d", len(all))
	}
}

func TestProposalsReadyForSubmission(t *testing.T) {
	store, clock := setupTestDB(t)
	ctx := context.Background()
	p, users := seedPrediction(t, store)

	prop := &Proposal{PredictionID: p.ID, OptionID: p.Options[0].ID, ProposerID: users[0].ID, Reason: "result"}
	if err := store.CreateProposal(ctx, prop); err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	ready, err := store.ProposalsReadyForSubmission(ctx, clock.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProposalsReadyForSubmission failed: %v", err)
	}
	if len(ready) != 0 {
		t.Errorf("Expected nothing ready inside the window, got %d", len(ready))
	}

	clock.Advance(2 * time.Hour)
	ready, _ = store.ProposalsReadyForSubmission(ctx, clock.Now().Add(-time.Hour))
	if len(ready) != 1 || ready[0].ID != prop.ID {
		t.Fatalf("Expected the proposal to be ready, got %+v", ready)
	}

	if err := store.AddDispute(ctx, &Dispute{ProposalID: prop.ID, UserID: users[4].ID, Reason: "no"}); err != nil {
		t.Fatalf("AddDispute failed: %v", err)
	}
	ready, _ = store.ProposalsReadyForSubmission(ctx, clock.Now())
	if len(ready) != 0 {
		t.Errorf("Expected disputed proposal to be held, got %d", len(ready))
	}
}

func TestCommitmentsAreImmutable(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	p, users := seedPrediction(t, store)

	prop := &Proposal{PredictionID: p.ID, OptionID: p.Options[0].ID, ProposerID: users[0].ID, Reason: "result"}
	if err := store.CreateProposal(ctx, prop); err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	pool, _ := store.Pool(ctx, p.ID)
	res, _ := payout.Compute(*pool, p.Options[0].ID, payout.DefaultFees)
	c, err := commitment.Build(res, commitment.Pricing{UnitsPerUSD: 100})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	first, err := store.SaveCommitment(ctx, p.ID, prop.ID, c)
	if err != nil {
		t.Fatalf("SaveCommitment failed: %v", err)
	}
	if first.Commitment.MerkleRoot != c.MerkleRoot {
		t.Errorf("Expected stored root %s, got %s", c.MerkleRoot, first.Commitment.MerkleRoot)
	}
	if err := first.Commitment.Validate(); err != nil {
		t.Errorf("Stored commitment does not validate: %v", err)
	}

	// saving again for the same proposal returns the original
	other, _ := commitment.Build(&payout.Result{}, commitment.Pricing{})
	second, err := store.SaveCommitment(ctx, p.ID, prop.ID, other)
	if err != nil {
		t.Fatalf("SaveCommitment failed: %v", err)
	}
	if second.ID != first.ID || second.Commitment.MerkleRoot != c.MerkleRoot {
		t.Error("Expected the original commitment to be kept")
	}

	if _, err := store.DB().ExecContext(ctx, `UPDATE commitments SET merkle_root = 'x'`); err == nil {
		t.Error("Expected update of a commitment to be rejected")
	}
	if _, err := store.DB().ExecContext(ctx, `DELETE FROM commitments`); err == nil {
		t.Error("Expected delete of a commitment to be rejected")
	}

	byID, err := store.GetCommitment(ctx, first.ID)
	if err != nil || byID == nil || byID.ProposalID != prop.ID {
		t.Errorf("GetCommitment failed: %v", err)
	}
}

func TestSettlementLedgerFold(t *testing.T) {
	store, clock := setupTestDB(t)
	ctx := context.Background()

	rec, err := store.SettlementRecord(ctx, "pred-1")
	if err != nil {
		t.Fatalf("SettlementRecord failed: %v", err)
	}
	if rec != nil {
		t.Fatal("Expected nil record when never attempted")
	}

	steps := []Transition{
		{PredictionID: "pred-1", ProposalID: "prop-1", CommitmentID: "c-1", Status: SettlementPrepared},
		{PredictionID: "pred-1", Status: SettlementSubmitted, TxHash: "tx-1"},
		{PredictionID: "pred-1", Status: SettlementPending, TxHash: "tx-1"},
	}
	for _, s := range steps {
		clock.Advance(time.Second)
		if _, err := store.AppendTransition(ctx, s); err != nil {
			t.Fatalf("AppendTransition failed: %v", err)
		}
	}

	rec, _ = store.SettlementRecord(ctx, "pred-1")
	if rec.Status != SettlementPending || rec.TxHash != "tx-1" || rec.CommitmentID != "c-1" {
		t.Errorf("Unexpected fold: %+v", rec)
	}
	if !rec.InFlight() {
		t.Error("Expected record to be in flight")
	}
	if len(rec.History) != 3 || len(rec.Timestamps) != 3 {
		t.Errorf("Expected 3 transitions and timestamps, got %d/%d", len(rec.History), len(rec.Timestamps))
	}

	clock.Advance(time.Second)
	if _, err := store.AppendTransition(ctx, Transition{PredictionID: "pred-1", Status: SettlementFailed,
		TxHash: "tx-1", ErrorKind: "network_timeout", Error: "confirmation timeout"}); err != nil {
		t.Fatalf("AppendTransition failed: %v", err)
	}
	rec, _ = store.SettlementRecord(ctx, "pred-1")
	if rec.Status != SettlementFailed || rec.LastErrorKind != "network_timeout" || rec.TxHash != "tx-1" {
		t.Errorf("Unexpected failed fold: %+v", rec)
	}

	clock.Advance(time.Second)
	if _, err := store.AppendTransition(ctx, Transition{PredictionID: "pred-1", Status: SettlementConfirmed, TxHash: "tx-1"}); err != nil {
		t.Fatalf("AppendTransition failed: %v", err)
	}
	rec, _ = store.SettlementRecord(ctx, "pred-1")
	if rec.Status != SettlementConfirmed || rec.LastError != "" {
		t.Errorf("Expected confirmed with no error, got %+v", rec)
	}

	if _, err := store.DB().ExecContext(ctx, `UPDATE settlement_transitions SET status = 'failed'`); err == nil {
		t.Error("Expected transitions to be append-only")
	}
}

func TestFoldTransitionsNewAttemptClearsTx(t *testing.T) {
	ts := []Transition{
		{PredictionID: "p", ProposalID: "a", Status: SettlementPrepared},
		{PredictionID: "p", Status: SettlementSubmitted, TxHash: "tx-a"},
		{PredictionID: "p", Status: SettlementFailed, TxHash: "tx-a", ErrorKind: "ledger_revert"},
		{PredictionID: "p", ProposalID: "b", Status: SettlementPrepared},
	}
	rec := FoldTransitions(ts)
	if rec.TxHash != "" {
		t.Errorf("Expected no tx hash for a fresh attempt, got %s", rec.TxHash)
	}
	if rec.ProposalID != "b" || rec.Status != SettlementPrepared {
		t.Errorf("Expected attempt on proposal b, got %+v", rec)
	}
	if _, ok := rec.Timestamps[SettlementFailed]; ok {
		t.Error("Expected timestamps of the previous attempt to be dropped")
	}
	if len(rec.History) != 4 {
		t.Errorf("Expected full history, got %d", len(rec.History))
	}
}

func TestOpenFileDatabaseSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/settlement.db"

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.AppendTransition(ctx, Transition{PredictionID: "p", Status: SettlementSubmitted, TxHash: "tx"}); err != nil {
		t.Fatalf("AppendTransition failed: %v", err)
	}
	store.Close()

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()
	rec, err := reopened.SettlementRecord(ctx, "p")
	if err != nil || rec == nil {
		t.Fatalf("SettlementRecord failed: %v", err)
	}
	if rec.TxHash != "tx" {
		t.Errorf("Expected tx hash to survive restart, got %q", rec.TxHash)
	}
}

func TestStartAttemptGuardsResolution(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	p, users := seedPrediction(t, store)

	prop := &Proposal{PredictionID: p.ID, OptionID: p.Options[0].ID, ProposerID: users[0].ID, Reason: "official result"}
	if err := store.CreateProposal(ctx, prop); err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	if _, err := store.StartAttempt(ctx, Transition{PredictionID: p.ID, ProposalID: prop.ID, Status: SettlementPrepared}); err != nil {
		t.Fatalf("StartAttempt failed: %v", err)
	}
	err := store.ApplyResolution(ctx, Resolution{ProposalID: prop.ID, ProposalStatus: ProposalResolved, DisputeStatus: DisputeRejected})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict resolving a proposal being settled, got %v", err)
	}

	// a transaction of unknown outcome still holds the proposal
	if _, err := store.AppendTransition(ctx, Transition{PredictionID: p.ID, ProposalID: prop.ID, Status: SettlementFailed,
		TxHash: "tx-a", ErrorKind: "network_timeout"}); err != nil {
		t.Fatalf("AppendTransition failed: %v", err)
	}
	err = store.ApplyResolution(ctx, Resolution{ProposalID: prop.ID, ProposalStatus: ProposalResolved, DisputeStatus: DisputeRejected})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict while a transaction may land, got %v", err)
	}

	// a failure before any transaction releases it
	if _, err := store.StartAttempt(ctx, Transition{PredictionID: p.ID, ProposalID: prop.ID, Status: SettlementPrepared}); err != nil {
		t.Fatalf("StartAttempt failed: %v", err)
	}
	if _, err := store.AppendTransition(ctx, Transition{PredictionID: p.ID, ProposalID: prop.ID, Status: SettlementFailed,
		ErrorKind: "user_rejected"}); err != nil {
		t.Fatalf("AppendTransition failed: %v", err)
	}
	replacement := &Proposal{PredictionID: p.ID, ProposerID: users[0].ID, Reason: "cancelled", Refund: true, Status: ProposalResolved}
	err = store.ApplyResolution(ctx, Resolution{
		ProposalID:     prop.ID,
		ProposalStatus: ProposalSuperseded,
		DisputeStatus:  DisputeResolved,
		Replacement:    replacement,
	})
	if err != nil {
		t.Fatalf("ApplyResolution failed: %v", err)
	}

	_, err = store.StartAttempt(ctx, Transition{PredictionID: p.ID, ProposalID: prop.ID, Status: SettlementPrepared})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict starting an attempt for a superseded proposal, got %v", err)
	}
	if _, err := store.StartAttempt(ctx, Transition{PredictionID: p.ID, ProposalID: replacement.ID, Status: SettlementPrepared}); err != nil {
		t.Errorf("StartAttempt for the replacement failed: %v", err)
	}

	// the resolved replacement blocks new proposals until it settles or reverts
	again := &Proposal{PredictionID: p.ID, OptionID: p.Options[1].ID, ProposerID: users[0].ID, Reason: "changed"}
	if err := store.CreateProposal(ctx, again); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict while a resolved proposal is live, got %v", err)
	}
	if err := store.SetProposalStatus(ctx, replacement.ID, ProposalRejected, ProposalResolved); err != nil {
		t.Fatalf("SetProposalStatus failed: %v", err)
	}
	if err := store.CreateProposal(ctx, again); err != nil {
		t.Errorf("CreateProposal after a revert failed: %v", err)
	}
}
