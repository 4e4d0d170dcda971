package service

import (
	"context"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/backend"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/payout"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// Preparer turns a proposal into a distribution commitment. The HTTP client in
// internal/backend and LocalPreparer both satisfy it.
type Preparer interface {
	Prepare(ctx context.Context, req backend.PrepareRequest) (*backend.Prepared, error)
}

// Notifier tells the off-chain system that a commitment is on chain.
type Notifier interface {
	NotifyOnchain(ctx context.Context, notice backend.OnchainNotice) error
}

// LocalPreparer is the server side of preparation: it checks who is asking,
// runs the payout calculator and persists the commitment.
type LocalPreparer struct {
	store   *storage.Store
	policy  Policy
	fees    payout.FeeSchedule
	pricing commitment.Pricing
}

// NewLocalPreparer creates an in-process preparer
func NewLocalPreparer(store *storage.Store, policy Policy, fees payout.FeeSchedule, pricing commitment.Pricing) *LocalPreparer {
	return &LocalPreparer{store: store, policy: policy, fees: fees, pricing: pricing}
}

// Prepare returns the commitment for req.ProposalID. Repeated calls for the
// same proposal return the stored commitment unchanged.
func (p *LocalPreparer) Prepare(ctx context.Context, req backend.PrepareRequest) (*backend.Prepared, error) {
	const op = "service.prepare"

	pred, err := p.store.GetPrediction(ctx, req.PredictionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if pred == nil {
		return nil, apperr.New(apperr.KindNotFound, op, "prediction %s not found", req.PredictionID)
	}
	if !p.policy.CanResolve(pred, req.UserID) {
		return nil, apperr.New(apperr.KindAuthorization, op, "user %s may not settle prediction %s", req.UserID, pred.ID)
	}
	if !pred.Status.Settleable() {
		return nil, apperr.New(apperr.KindPreparation, op, "prediction cannot be settled: status is %s", pred.Status)
	}

	prop, err := p.store.GetProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if prop == nil || prop.PredictionID != pred.ID {
		return nil, apperr.New(apperr.KindNotFound, op, "proposal %s not found", req.ProposalID)
	}
	if prop.Status != storage.ProposalPending && prop.Status != storage.ProposalResolved {
		return nil, apperr.New(apperr.KindPreparation, op, "proposal cannot be settled: status is %s", prop.Status)
	}
	if req.WinningOptionID != "" && req.WinningOptionID != prop.OptionID {
		return nil, apperr.New(apperr.KindValidation, op, "option %s does not match the proposal", req.WinningOptionID)
	}

	if existing, err := p.store.CommitmentByProposal(ctx, prop.ID); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	} else if existing != nil {
		return &backend.Prepared{CommitmentID: existing.ID, Commitment: *existing.Commitment}, nil
	}

	pool, err := p.store.Pool(ctx, pred.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	var res *payout.Result
	if prop.Refund {
		res, err = payout.Refund(*pool)
	} else {
		res, err = payout.Compute(*pool, prop.OptionID, p.fees)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPreparation, op, err)
	}

	c, err := commitment.Build(res, p.pricing)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPreparation, op, err)
	}

	rec, err := p.store.SaveCommitment(ctx, pred.ID, prop.ID, c)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	logger.Debug(req.UserID, "commitment_prepared",
		"prediction_id", pred.ID,
		"proposal_id", prop.ID,
		"merkle_root", rec.Commitment.MerkleRoot.String(),
		"leaves", len(rec.Commitment.Leaves),
		"refund", rec.Commitment.Refund,
	)
	return &backend.Prepared{CommitmentID: rec.ID, Commitment: *rec.Commitment}, nil
}

// LogNotifier records on-chain notices in the log. It stands in for the
// backend when preparation runs in-process.
type LogNotifier struct{}

func (LogNotifier) NotifyOnchain(ctx context.Context, notice backend.OnchainNotice) error {
	logger.Info("", "settlement_onchain",
		"prediction_id", notice.PredictionID,
		"tx_hash", notice.TxHash,
		"merkle_root", notice.MerkleRoot.String(),
	)
	return nil
}
