package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/backend"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
	"github.com/itisteddy/fan-club-z-sub008/internal/ledger"
	"github.com/itisteddy/fan-club-z-sub008/internal/metrics"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// DefaultConfirmTimeout bounds the receipt wait
const DefaultConfirmTimeout = 180 * time.Second

// Phase is the in-memory progress of a settlement attempt.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhasePreparing         Phase = "preparing"
	PhaseAwaitingSignature Phase = "awaiting_signature"
	PhaseSessionError      Phase = "session_error"
	PhaseSubmitted         Phase = "submitted"
	PhaseConfirming        Phase = "confirming"
	PhaseConfirmed         Phase = "confirmed"
	PhaseFailed            Phase = "failed"
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Store    *storage.Store
	Preparer Preparer
	Notifier Notifier
	Watcher  ledger.Watcher
	Events   EventSink
	Policy   Policy

	// ChainID is the ledger the signer must be connected to.
	ChainID           string
	PlatformRecipient string

	ConfirmTimeout time.Duration
	Confirmations  int
	NotifyTimeout  time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

func (c *CoordinatorConfig) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Preparer == nil {
		return errors.New("preparer is required")
	}
	if c.Watcher == nil {
		return errors.New("watcher is required")
	}
	if c.ChainID == "" {
		return errors.New("chain id is required")
	}
	if c.Notifier == nil {
		c.Notifier = LogNotifier{}
	}
	if c.Events == nil {
		c.Events = LogSink{}
	}
	if c.Policy.ContestWindow <= 0 {
		c.Policy.ContestWindow = DefaultContestWindow
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.Confirmations < 1 {
		c.Confirmations = 1
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Coordinator drives one settlement attempt per prediction through
// prepare, sign, submit, confirm and notify, recording every transition in
// the status ledger. Concurrent callers for the same prediction share one
// attempt.
type Coordinator struct {
	cfg   CoordinatorConfig
	group singleflight.Group

	mu     sync.Mutex
	phases map[string]Phase
}

// NewCoordinator creates a new settlement coordinator
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{cfg: cfg, phases: make(map[string]Phase)}, nil
}

// attempt carries the identifiers of the attempt in progress.
type attempt struct {
	predictionID string
	proposal     *storage.Proposal
	commitmentID string
	commitment   *commitment.Commitment
	userID       string
	txHash       string
	start        time.Time
}

// SubmitSettlement settles the prediction's active proposal on the ledger and
// returns the resulting record. A record that already has a live transaction
// is resumed instead of resubmitted. Errors are *apperr.Error; the record is
// returned alongside them whenever one exists.
func (c *Coordinator) SubmitSettlement(ctx context.Context, predictionID, userID string, session *ledger.Session) (*storage.SettlementRecord, error) {
	return c.do(predictionID, func() (*storage.SettlementRecord, error) {
		return c.submit(ctx, predictionID, userID, session)
	})
}

// Recheck watches the known transaction again, typically after a
// confirmation timeout. It never prepares or signs.
func (c *Coordinator) Recheck(ctx context.Context, predictionID string) (*storage.SettlementRecord, error) {
	return c.do(predictionID, func() (*storage.SettlementRecord, error) {
		const op = "service.recheck"

		rec, err := c.cfg.Store.SettlementRecord(ctx, predictionID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, op, err)
		}
		if rec == nil {
			return nil, apperr.New(apperr.KindNotFound, op, "settlement was never attempted")
		}
		if rec.Status == storage.SettlementConfirmed {
			return rec, nil
		}
		if !resumable(rec) {
			return rec, apperr.New(apperr.KindValidation, op, "no transaction to check")
		}
		return c.resume(ctx, rec, c.cfg.Clock.Now())
	})
}

// GetSettlementStatus returns the folded record, or nil when settlement was
// never attempted.
func (c *Coordinator) GetSettlementStatus(ctx context.Context, predictionID string) (*storage.SettlementRecord, error) {
	rec, err := c.cfg.Store.SettlementRecord(ctx, predictionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "service.status", err)
	}
	return rec, nil
}

// Phase returns the in-memory phase of the prediction's current attempt.
func (c *Coordinator) Phase(predictionID string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.phases[predictionID]; ok {
		return p
	}
	return PhaseIdle
}

func (c *Coordinator) setPhase(predictionID string, p Phase) {
	c.mu.Lock()
	c.phases[predictionID] = p
	c.mu.Unlock()
}

type outcome struct {
	rec *storage.SettlementRecord
}

func (c *Coordinator) do(predictionID string, fn func() (*storage.SettlementRecord, error)) (*storage.SettlementRecord, error) {
	v, err, shared := c.group.Do(predictionID, func() (any, error) {
		metrics.SettlementsInFlight.Inc()
		defer metrics.SettlementsInFlight.Dec()
		rec, err := fn()
		return outcome{rec: rec}, err
	})
	if shared {
		c.cfg.Logger.Debug("joined settlement attempt in progress", "prediction_id", predictionID)
	}
	return v.(outcome).rec, err
}

// resumable reports whether the record has a transaction whose outcome is
// still unknown.
func resumable(rec *storage.SettlementRecord) bool {
	if rec.InFlight() {
		return true
	}
	return rec.Status == storage.SettlementFailed && rec.TxHash != "" &&
		rec.LastErrorKind != string(apperr.KindLedgerRevert)
}

func (c *Coordinator) submit(ctx context.Context, predictionID, userID string, session *ledger.Session) (*storage.SettlementRecord, error) {
	const op = "service.submit"
	start := c.cfg.Clock.Now()

	rec, err := c.cfg.Store.SettlementRecord(ctx, predictionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if rec != nil {
		if rec.Status == storage.SettlementConfirmed {
			c.setPhase(predictionID, PhaseConfirmed)
			return c.ensureOutcome(ctx, rec)
		}
		if resumable(rec) {
			return c.resume(ctx, rec, start)
		}
	}

	pred, err := c.cfg.Store.GetPrediction(ctx, predictionID)
	if err != nil {
		return rec, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if pred == nil {
		return rec, apperr.New(apperr.KindNotFound, op, "prediction %s not found", predictionID)
	}
	if !c.cfg.Policy.CanResolve(pred, userID) {
		return rec, apperr.New(apperr.KindAuthorization, op, "user %s may not settle prediction %s", userID, pred.ID)
	}
	prop, err := c.activeProposal(ctx, pred)
	if err != nil {
		return rec, err
	}

	att := &attempt{predictionID: pred.ID, proposal: prop, userID: userID, start: start}

	// prepare
	c.setPhase(pred.ID, PhasePreparing)
	if ctx.Err() != nil {
		return c.fail(ctx, att, cancelled(op, ctx.Err()))
	}
	prepared, err := c.cfg.Preparer.Prepare(ctx, backend.PrepareRequest{
		PredictionID:    pred.ID,
		ProposalID:      prop.ID,
		WinningOptionID: prop.OptionID,
		UserID:          userID,
		Reason:          prop.Reason,
	})
	if err != nil {
		return c.fail(ctx, att, apperr.Wrap(apperr.KindPreparation, op, err))
	}
	// the local copy is what a resumed attempt reads back
	cr, err := c.cfg.Store.SaveCommitment(ctx, pred.ID, prop.ID, &prepared.Commitment)
	if err != nil {
		return c.fail(ctx, att, apperr.Wrap(apperr.KindInternal, op, err))
	}
	if cr.Commitment.MerkleRoot != prepared.MerkleRoot {
		return c.fail(ctx, att, apperr.New(apperr.KindPreparation, op,
			"prepared root %s differs from root %s already committed for proposal %s", prepared.MerkleRoot, cr.Commitment.MerkleRoot, prop.ID))
	}
	att.commitmentID = cr.ID
	att.commitment = cr.Commitment
	if prepared.CommitmentID != "" && prepared.CommitmentID != cr.ID {
		c.cfg.Logger.Debug("prepared commitment stored locally", "prediction_id", pred.ID, "remote_id", prepared.CommitmentID, "local_id", cr.ID)
	}

	// the proposal may have been resolved or superseded while preparing
	if _, err := c.cfg.Store.StartAttempt(ctx, storage.Transition{
		PredictionID: att.predictionID,
		ProposalID:   prop.ID,
		CommitmentID: att.commitmentID,
		Status:       storage.SettlementPrepared,
	}); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return c.fail(ctx, att, &apperr.Error{Kind: apperr.KindConflict, Op: op, Message: "proposal changed while preparing; try again", Err: err})
		}
		return c.fail(ctx, att, apperr.Wrap(apperr.KindInternal, op, err))
	}

	// sign and send
	c.setPhase(pred.ID, PhaseAwaitingSignature)
	if session == nil || session.Signer == nil {
		return c.fail(ctx, att, apperr.New(apperr.KindSession, op, "no signing session"))
	}
	creator, err := c.cfg.Store.GetUserByID(ctx, pred.CreatorID)
	if err != nil {
		return c.fail(ctx, att, apperr.Wrap(apperr.KindInternal, op, err))
	}
	var creatorRecipient string
	if creator != nil {
		creatorRecipient = creator.Address
	}
	call := ledger.NewContractCall(pred.ID, att.commitment, c.cfg.PlatformRecipient, creatorRecipient)

	txHash, serr := c.sign(ctx, att, session, call)
	if serr != nil {
		return c.fail(ctx, att, serr)
	}

	// a transaction exists: from here on the attempt is only tracked
	ctx = context.WithoutCancel(ctx)
	att.txHash = txHash
	if err := c.append(ctx, att, storage.SettlementSubmitted); err != nil {
		return c.fail(ctx, att, err)
	}
	c.setPhase(pred.ID, PhaseSubmitted)
	c.cfg.Logger.Info("settlement submitted", "prediction_id", pred.ID, "proposal_id", prop.ID, "tx_hash", txHash)
	c.cfg.Events.Emit(Event{
		Type:         EventSettlementSubmitted,
		PredictionID: pred.ID,
		ProposalID:   prop.ID,
		UserID:       userID,
		TxHash:       txHash,
		Refund:       att.commitment.Refund,
		At:           c.cfg.Clock.Now(),
	})

	return c.confirm(ctx, att)
}

// activeProposal selects the proposal to settle: a resolved one, or a pending
// one whose contest window passed without disputes.
func (c *Coordinator) activeProposal(ctx context.Context, pred *storage.Prediction) (*storage.Proposal, error) {
	const op = "service.submit"

	if !pred.Status.Settleable() {
		return nil, apperr.New(apperr.KindValidation, op, "prediction cannot be settled: status is %s", pred.Status)
	}
	prop, err := c.cfg.Store.LatestProposal(ctx, pred.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if prop == nil {
		return nil, apperr.New(apperr.KindValidation, op, "no settlement proposal")
	}

	switch prop.Status {
	case storage.ProposalResolved:
		return prop, nil
	case storage.ProposalPending:
		if end := c.cfg.Policy.WindowEnd(prop); c.cfg.Clock.Now().Before(end) {
			return nil, apperr.New(apperr.KindValidation, op, "contest window is open until %s", end.UTC().Format(time.RFC3339))
		}
		return prop, nil
	case storage.ProposalDisputed:
		return nil, apperr.New(apperr.KindValidation, op, "proposal is disputed and must be resolved first")
	case storage.ProposalRejected:
		// only a ledger revert rejects a proposal
		return nil, apperr.New(apperr.KindLedgerRevert, op, "the ledger rejected this proposal; propose again")
	default:
		return nil, apperr.New(apperr.KindValidation, op, "proposal was %s; propose again", prop.Status)
	}
}

// sign verifies the chain and sends the call. A stale session is recovered
// and the signature retried at most once.
func (c *Coordinator) sign(ctx context.Context, att *attempt, session *ledger.Session, call ledger.ContractCall) (string, *apperr.Error) {
	const op = "service.sign"

	signer := session.Signer
	for retries := 0; ; retries++ {
		if ctx.Err() != nil {
			return "", cancelled(op, ctx.Err())
		}
		if err := c.checkChain(ctx, signer); err != nil {
			return "", err
		}

		txHash, err := signer.SignAndSend(ctx, call)
		if err == nil {
			return txHash, nil
		}
		aerr := ledger.Classify(op, err)
		if aerr.Kind != apperr.KindSession || retries >= apperr.AutoRetries(apperr.KindSession) || session.Recovery == nil {
			return "", aerr
		}

		c.setPhase(att.predictionID, PhaseSessionError)
		c.cfg.Logger.Warn("signing session is stale, reconnecting", "prediction_id", att.predictionID, "error", err)
		signer, err = c.recoverSession(ctx, att, session)
		if err != nil {
			return "", &apperr.Error{Kind: apperr.KindSession, Op: op, Message: "reconnect failed", Err: err}
		}
		c.setPhase(att.predictionID, PhaseAwaitingSignature)
	}
}

func (c *Coordinator) recoverSession(ctx context.Context, att *attempt, session *ledger.Session) (ledger.Signer, error) {
	err := session.Recovery.ClearStaleSession(ctx)
	var signer ledger.Signer
	if err == nil {
		signer, err = session.Recovery.Reconnect(ctx)
	}
	if err == nil && signer == nil {
		err = errors.New("reconnect returned no signer")
	}
	metrics.RecordSessionRecovery(err)
	if err != nil {
		return nil, err
	}

	if session.ReconnectRequired != nil {
		session.ReconnectRequired()
	}
	c.cfg.Events.Emit(Event{
		Type:         EventReconnectRequired,
		PredictionID: att.predictionID,
		ProposalID:   att.proposal.ID,
		UserID:       att.userID,
		At:           c.cfg.Clock.Now(),
	})
	return signer, nil
}

// checkChain fails fast when the signer is on another ledger. It asks the
// signer to switch once.
func (c *Coordinator) checkChain(ctx context.Context, signer ledger.Signer) *apperr.Error {
	const op = "service.chain"

	chainID, err := signer.ChainID(ctx)
	if err != nil {
		return ledger.Classify(op, err)
	}
	if chainID == c.cfg.ChainID {
		return nil
	}
	if err := signer.SwitchChain(ctx, c.cfg.ChainID); err != nil {
		return ledger.Classify(op, err)
	}
	if chainID, err = signer.ChainID(ctx); err != nil {
		return ledger.Classify(op, err)
	}
	if chainID != c.cfg.ChainID {
		return &apperr.Error{Kind: apperr.KindWrongNetwork, Op: op, Message: "signer is on " + chainID, Err: ledger.ErrWrongNetwork}
	}
	return nil
}

// resume watches the transaction of an earlier attempt.
func (c *Coordinator) resume(ctx context.Context, rec *storage.SettlementRecord, start time.Time) (*storage.SettlementRecord, error) {
	const op = "service.resume"
	ctx = context.WithoutCancel(ctx)

	prop, err := c.cfg.Store.GetProposal(ctx, rec.ProposalID)
	if err != nil {
		return rec, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if prop == nil {
		return rec, apperr.New(apperr.KindInternal, op, "proposal %s of the recorded attempt is missing", rec.ProposalID)
	}
	cr, err := c.cfg.Store.GetCommitment(ctx, rec.CommitmentID)
	if err != nil {
		return rec, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if cr == nil {
		return rec, apperr.New(apperr.KindInternal, op, "commitment %s of the recorded attempt is missing", rec.CommitmentID)
	}

	att := &attempt{
		predictionID: rec.PredictionID,
		proposal:     prop,
		commitmentID: cr.ID,
		commitment:   cr.Commitment,
		txHash:       rec.TxHash,
		start:        start,
	}
	c.cfg.Logger.Info("resuming settlement", "prediction_id", rec.PredictionID, "tx_hash", rec.TxHash, "status", string(rec.Status))
	return c.confirm(ctx, att)
}

// confirm waits for the receipt and finishes the attempt.
func (c *Coordinator) confirm(ctx context.Context, att *attempt) (*storage.SettlementRecord, error) {
	const op = "service.confirm"

	rec, err := c.cfg.Store.SettlementRecord(ctx, att.predictionID)
	if err != nil {
		return c.fail(ctx, att, apperr.Wrap(apperr.KindInternal, op, err))
	}
	if rec == nil || rec.Status != storage.SettlementPending {
		if err := c.append(ctx, att, storage.SettlementPending); err != nil {
			return c.fail(ctx, att, err)
		}
	}
	c.setPhase(att.predictionID, PhaseConfirming)

	receipt, werr := c.cfg.Watcher.WaitForReceipt(ctx, att.txHash, ledger.WaitOptions{
		Confirmations: c.cfg.Confirmations,
		Timeout:       c.cfg.ConfirmTimeout,
	})
	if werr != nil {
		return c.fail(ctx, att, ledger.Classify(op, werr))
	}
	if receipt.Status != ledger.ReceiptSuccess {
		// this proposal can never settle; a fresh one is needed
		if err := c.cfg.Store.SetProposalStatus(ctx, att.proposal.ID, storage.ProposalRejected,
			storage.ProposalPending, storage.ProposalResolved); err != nil {
			c.cfg.Logger.Error("failed to reject reverted proposal", "proposal_id", att.proposal.ID, "error", err)
		}
		msg := "transaction reverted"
		if receipt.Error != "" {
			msg += ": " + receipt.Error
		}
		return c.fail(ctx, att, apperr.New(apperr.KindLedgerRevert, op, "%s", msg))
	}

	if err := c.append(ctx, att, storage.SettlementConfirmed); err != nil {
		return c.fail(ctx, att, err)
	}
	c.setPhase(att.predictionID, PhaseConfirmed)

	if err := c.cfg.Store.ApplyOutcome(ctx, att.predictionID, att.proposal.OptionID, att.commitment.Refund); err != nil {
		// the ledger is authoritative; the next status call repairs this
		c.cfg.Logger.Error("failed to apply settlement outcome", "prediction_id", att.predictionID, "tx_hash", att.txHash, "error", err)
	}
	c.notifyBackend(ctx, att)

	metrics.RecordSettlement(string(storage.SettlementConfirmed), c.cfg.Clock.Since(att.start))
	c.cfg.Logger.Info("settlement confirmed", "prediction_id", att.predictionID, "tx_hash", att.txHash, "slot", receipt.Slot)
	c.cfg.Events.Emit(Event{
		Type:         EventSettlementConfirmed,
		PredictionID: att.predictionID,
		ProposalID:   att.proposal.ID,
		UserID:       att.userID,
		TxHash:       att.txHash,
		Refund:       att.commitment.Refund,
		At:           c.cfg.Clock.Now(),
	})

	rec, err = c.cfg.Store.SettlementRecord(ctx, att.predictionID)
	if err != nil {
		return nil, apperr.WithTx(apperr.Wrap(apperr.KindInternal, op, err), att.txHash)
	}
	return rec, nil
}

// notifyBackend is best effort: the commitment is already authoritative on chain.
func (c *Coordinator) notifyBackend(ctx context.Context, att *attempt) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
	defer cancel()

	err := c.cfg.Notifier.NotifyOnchain(ctx, backend.OnchainNotice{
		PredictionID: att.predictionID,
		TxHash:       att.txHash,
		MerkleRoot:   att.commitment.MerkleRoot,
	})
	metrics.RecordNotify(err)
	if err != nil {
		c.cfg.Logger.Warn("backend notification failed", "prediction_id", att.predictionID, "tx_hash", att.txHash, "error", err)
	}
}

// ensureOutcome applies entry and prediction status for a confirmed record
// whose outcome was not stored.
func (c *Coordinator) ensureOutcome(ctx context.Context, rec *storage.SettlementRecord) (*storage.SettlementRecord, error) {
	const op = "service.submit"

	pred, err := c.cfg.Store.GetPrediction(ctx, rec.PredictionID)
	if err != nil || pred == nil || !pred.Status.Settleable() {
		return rec, nil
	}
	prop, err := c.cfg.Store.GetProposal(ctx, rec.ProposalID)
	if err != nil || prop == nil {
		return rec, nil
	}
	cr, err := c.cfg.Store.GetCommitment(ctx, rec.CommitmentID)
	if err != nil || cr == nil {
		return rec, nil
	}
	if err := c.cfg.Store.ApplyOutcome(ctx, pred.ID, prop.OptionID, cr.Commitment.Refund); err != nil {
		return rec, apperr.WithTx(apperr.Wrap(apperr.KindInternal, op, err), rec.TxHash)
	}
	return rec, nil
}

func (c *Coordinator) append(ctx context.Context, att *attempt, status storage.SettlementStatus) *apperr.Error {
	_, err := c.cfg.Store.AppendTransition(ctx, storage.Transition{
		PredictionID: att.predictionID,
		ProposalID:   att.proposal.ID,
		CommitmentID: att.commitmentID,
		Status:       status,
		TxHash:       att.txHash,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "service.ledger", err)
	}
	return nil
}

// fail records the terminal failure of the attempt and returns the typed error.
func (c *Coordinator) fail(ctx context.Context, att *attempt, aerr *apperr.Error) (*storage.SettlementRecord, error) {
	ctx = context.WithoutCancel(ctx)
	if att.txHash != "" {
		aerr = apperr.WithTx(aerr, att.txHash)
	}

	if _, err := c.cfg.Store.AppendTransition(ctx, storage.Transition{
		PredictionID: att.predictionID,
		ProposalID:   att.proposal.ID,
		CommitmentID: att.commitmentID,
		Status:       storage.SettlementFailed,
		TxHash:       att.txHash,
		ErrorKind:    string(aerr.Kind),
		Error:        aerr.Error(),
	}); err != nil {
		c.cfg.Logger.Error("failed to record settlement failure", "prediction_id", att.predictionID, "tx_hash", att.txHash, "error", err)
	}
	c.setPhase(att.predictionID, PhaseFailed)

	metrics.RecordSettlement(string(aerr.Kind), c.cfg.Clock.Since(att.start))
	if aerr.Kind == apperr.KindUserRejected {
		c.cfg.Logger.Info("settlement cancelled", "prediction_id", att.predictionID, "error", aerr)
	} else {
		c.cfg.Logger.Warn("settlement failed", "prediction_id", att.predictionID, "kind", string(aerr.Kind), "tx_hash", att.txHash, "error", aerr)
	}
	c.cfg.Events.Emit(Event{
		Type:         EventSettlementFailed,
		PredictionID: att.predictionID,
		ProposalID:   att.proposal.ID,
		UserID:       att.userID,
		TxHash:       att.txHash,
		ErrorKind:    aerr.Kind,
		Reason:       aerr.Error(),
		At:           c.cfg.Clock.Now(),
	})

	rec, err := c.cfg.Store.SettlementRecord(ctx, att.predictionID)
	if err != nil {
		c.cfg.Logger.Error("failed to load settlement record", "prediction_id", att.predictionID, "error", err)
	}
	return rec, aerr
}

func cancelled(op string, err error) *apperr.Error {
	return &apperr.Error{Kind: apperr.KindUserRejected, Op: op, Message: "user cancelled", Err: err}
}
