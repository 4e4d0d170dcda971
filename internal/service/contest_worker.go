package service

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/ledger"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/metrics"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// DefaultWorkerInterval is how often the contest worker looks for proposals to submit
const DefaultWorkerInterval = time.Minute

// ContestWorkerConfig configures a ContestWorker.
type ContestWorkerConfig struct {
	Store       *storage.Store
	Coordinator *Coordinator
	Policy      Policy
	// Session returns the server signing session; nil disables submission.
	Session  func() *ledger.Session
	Interval time.Duration
	Clock    clockwork.Clock
}

func (c *ContestWorkerConfig) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Coordinator == nil {
		return errors.New("coordinator is required")
	}
	if c.Session == nil {
		return errors.New("session provider is required")
	}
	if c.Policy.ContestWindow <= 0 {
		c.Policy.ContestWindow = DefaultContestWindow
	}
	if c.Interval <= 0 {
		c.Interval = DefaultWorkerInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ContestWorker submits proposals once their contest window has passed
// without disputes, and resolved proposals that were never submitted. It
// never resolves a proposal itself.
type ContestWorker struct {
	cfg    ContestWorkerConfig
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewContestWorker creates a new contest worker
func NewContestWorker(cfg ContestWorkerConfig) (*ContestWorker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ContestWorker{cfg: cfg, ctx: ctx, cancel: cancel, done: make(chan struct{})}, nil
}

// Start begins the background worker
func (w *ContestWorker) Start() {
	logger.Debug("", "contest_worker_started", "interval", w.cfg.Interval.String(), "contest_window", w.cfg.Policy.ContestWindow.String())

	ticker := w.cfg.Clock.NewTicker(w.cfg.Interval)
	go func() {
		defer close(w.done)
		defer ticker.Stop()

		// Run immediately on start
		w.RunOnce(w.ctx)

		for {
			select {
			case <-ticker.Chan():
				w.RunOnce(w.ctx)
			case <-w.ctx.Done():
				logger.Debug("", "contest_worker_stopped")
				return
			}
		}
	}()
}

// Stop stops the background worker and waits for the current pass to end
func (w *ContestWorker) Stop() {
	w.cancel()
	<-w.done
}

// RunOnce submits every ready proposal and returns how many were confirmed.
func (w *ContestWorker) RunOnce(ctx context.Context) int {
	session := w.cfg.Session()
	if session == nil {
		logger.Debug("", "contest_worker_no_session")
		return 0
	}

	cutoff := w.cfg.Clock.Now().Add(-w.cfg.Policy.ContestWindow)
	proposals, err := w.cfg.Store.ProposalsReadyForSubmission(ctx, cutoff)
	metrics.RecordWorkerRun(err)
	if err != nil {
		logger.Warn("", "contest_worker_query_failed", "error", err)
		return 0
	}

	confirmed := 0
	for _, prop := range proposals {
		if ctx.Err() != nil {
			break
		}
		if w.skip(ctx, &prop) {
			continue
		}

		rec, err := w.cfg.Coordinator.SubmitSettlement(ctx, prop.PredictionID, prop.ProposerID, session)
		if err != nil {
			var txHash string
			if rec != nil {
				txHash = rec.TxHash
			}
			logger.Warn(prop.ProposerID, "contest_worker_submit_failed",
				"prediction_id", prop.PredictionID,
				"proposal_id", prop.ID,
				"kind", string(apperr.KindOf(err)),
				"tx_hash", txHash,
				"error", err,
			)
			continue
		}
		confirmed++
		logger.Info(prop.ProposerID, "contest_worker_settled", "prediction_id", prop.PredictionID, "proposal_id", prop.ID, "tx_hash", rec.TxHash)
	}
	return confirmed
}

// skip reports whether the proposal's last attempt failed. Those wait for a
// manual retry.
func (w *ContestWorker) skip(ctx context.Context, prop *storage.Proposal) bool {
	rec, err := w.cfg.Store.SettlementRecord(ctx, prop.PredictionID)
	if err != nil {
		logger.Warn("", "contest_worker_record_failed", "prediction_id", prop.PredictionID, "error", err)
		return true
	}
	return rec != nil && rec.ProposalID == prop.ID && rec.Status == storage.SettlementFailed
}
