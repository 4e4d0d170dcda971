package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/metrics"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// DefaultContestWindow is how long participants may dispute a proposal
const DefaultContestWindow = 24 * time.Hour

// Policy decides who may propose and resolve, and for how long a proposal
// stays open to disputes.
type Policy struct {
	ContestWindow time.Duration
	Arbiters      []string // user IDs
}

// IsArbiter reports whether userID is a configured arbiter.
func (p Policy) IsArbiter(userID string) bool {
	return userID != "" && slices.Contains(p.Arbiters, userID)
}

// CanResolve reports whether userID may propose or resolve for the prediction.
func (p Policy) CanResolve(pred *storage.Prediction, userID string) bool {
	return userID != "" && (pred.CreatorID == userID || p.IsArbiter(userID))
}

// WindowEnd is the time a proposal stops accepting disputes.
func (p Policy) WindowEnd(prop *storage.Proposal) time.Time {
	return prop.CreatedAt.Add(p.ContestWindow)
}

// ResolutionAction is the creator or arbiter response to a disputed proposal.
type ResolutionAction string

const (
	ActionReject ResolutionAction = "reject"
	ActionRevise ResolutionAction = "revise"
	ActionRefund ResolutionAction = "refund"
)

// ParseResolutionAction validates an action name.
func ParseResolutionAction(s string) (ResolutionAction, error) {
	switch a := ResolutionAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionReject, ActionRevise, ActionRefund:
		return a, nil
	}
	return "", apperr.New(apperr.KindValidation, "service.resolve", "unknown action %q: must be reject, revise or refund", s)
}

// DisputeConfig configures a DisputeService.
type DisputeConfig struct {
	Store  *storage.Store
	Policy Policy
	Events EventSink
	Clock  clockwork.Clock
}

func (c *DisputeConfig) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Policy.ContestWindow <= 0 {
		c.Policy.ContestWindow = DefaultContestWindow
	}
	if c.Events == nil {
		c.Events = LogSink{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// DisputeService runs the proposal and dispute state machine:
// pending -> disputed -> resolved | superseded, with rejected reserved for
// proposals the ledger refused.
type DisputeService struct {
	cfg DisputeConfig
}

// NewDisputeService creates a new dispute service
func NewDisputeService(cfg DisputeConfig) (*DisputeService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DisputeService{cfg: cfg}, nil
}

// Policy returns the active policy
func (s *DisputeService) Policy() Policy {
	return s.cfg.Policy
}

// ProposeSettlement records the creator's (or an arbiter's) choice of winning
// option. The proposal opens the contest window.
func (s *DisputeService) ProposeSettlement(ctx context.Context, predictionID, proposerID, optionID, reason, proofURL string) (*storage.Proposal, error) {
	const op = "service.propose"

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.New(apperr.KindValidation, op, "reason is required")
	}
	if proofURL != "" {
		if u, err := url.ParseRequestURI(proofURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, apperr.New(apperr.KindValidation, op, "invalid proof url %q", proofURL)
		}
	}

	pred, err := s.cfg.Store.GetPrediction(ctx, predictionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if pred == nil {
		return nil, apperr.New(apperr.KindNotFound, op, "prediction %s not found", predictionID)
	}
	if !s.cfg.Policy.CanResolve(pred, proposerID) {
		return nil, apperr.New(apperr.KindAuthorization, op, "only the creator or an arbiter can propose a settlement")
	}
	if pred.Status != storage.PredictionClosed && !pred.Status.Settleable() {
		return nil, apperr.New(apperr.KindValidation, op, "prediction cannot be settled: status is %s", pred.Status)
	}
	if !hasOption(pred, optionID) {
		return nil, apperr.New(apperr.KindValidation, op, "unknown option %q", optionID)
	}

	prop := &storage.Proposal{
		PredictionID: pred.ID,
		OptionID:     optionID,
		ProposerID:   proposerID,
		Reason:       reason,
		ProofURL:     proofURL,
	}
	if err := s.cfg.Store.CreateProposal(ctx, prop); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, &apperr.Error{Kind: apperr.KindConflict, Op: op, Message: "a proposal is already open or awaiting settlement", Err: err}
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	metrics.DisputeActionsTotal.WithLabelValues("propose").Inc()
	logger.Info(proposerID, "settlement_proposed", "prediction_id", pred.ID, "proposal_id", prop.ID, "option_id", optionID)
	s.cfg.Events.Emit(Event{
		Type:         EventProposalCreated,
		PredictionID: pred.ID,
		ProposalID:   prop.ID,
		UserID:       proposerID,
		Reason:       reason,
		At:           prop.CreatedAt,
	})
	return prop, nil
}

// FileDispute contests an open proposal. Only participants may dispute, once
// each, and only before the contest window closes.
func (s *DisputeService) FileDispute(ctx context.Context, proposalID, userID, reason string) (*storage.Dispute, error) {
	const op = "service.dispute"

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.New(apperr.KindValidation, op, "reason is required")
	}

	prop, err := s.cfg.Store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if prop == nil {
		return nil, apperr.New(apperr.KindNotFound, op, "proposal %s not found", proposalID)
	}
	if !prop.Status.Open() {
		return nil, apperr.New(apperr.KindConflict, op, "proposal cannot be disputed: status is %s", prop.Status)
	}
	if end := s.cfg.Policy.WindowEnd(prop); !s.cfg.Clock.Now().Before(end) {
		return nil, apperr.New(apperr.KindValidation, op, "contest window closed at %s", end.UTC().Format(time.RFC3339))
	}

	ok, err := s.cfg.Store.HasEntry(ctx, prop.PredictionID, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindAuthorization, op, "only participants can dispute a proposal")
	}

	d := &storage.Dispute{ProposalID: prop.ID, UserID: userID, Reason: reason}
	if err := s.cfg.Store.AddDispute(ctx, d); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return nil, &apperr.Error{Kind: apperr.KindConflict, Op: op, Message: "you already disputed this proposal", Err: err}
		case errors.Is(err, storage.ErrConflict):
			return nil, &apperr.Error{Kind: apperr.KindConflict, Op: op, Message: "proposal is no longer open", Err: err}
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	metrics.DisputeActionsTotal.WithLabelValues("dispute").Inc()
	logger.Info(userID, "dispute_filed", "prediction_id", prop.PredictionID, "proposal_id", prop.ID, "dispute_id", d.ID)
	s.cfg.Events.Emit(Event{
		Type:         EventDisputeFiled,
		PredictionID: prop.PredictionID,
		ProposalID:   prop.ID,
		UserID:       userID,
		Reason:       reason,
		At:           d.CreatedAt,
	})
	return d, nil
}

// ResolveDispute applies a resolution to a pending or disputed proposal and
// returns the proposal that proceeds to submission. reject keeps the original;
// revise and refund create a new resolved proposal and supersede the old one.
func (s *DisputeService) ResolveDispute(ctx context.Context, proposalID, resolverID string, action ResolutionAction, reason, newOptionID string) (*storage.Proposal, error) {
	const op = "service.resolve"

	action, err := ParseResolutionAction(string(action))
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.New(apperr.KindValidation, op, "reason is required")
	}

	prop, err := s.cfg.Store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if prop == nil {
		return nil, apperr.New(apperr.KindNotFound, op, "proposal %s not found", proposalID)
	}
	pred, err := s.cfg.Store.GetPrediction(ctx, prop.PredictionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if pred == nil {
		return nil, apperr.New(apperr.KindNotFound, op, "prediction %s not found", prop.PredictionID)
	}
	if !s.cfg.Policy.CanResolve(pred, resolverID) {
		return nil, apperr.New(apperr.KindAuthorization, op, "only the creator or an arbiter can resolve disputes")
	}
	if !prop.Status.Open() {
		return nil, apperr.New(apperr.KindConflict, op, "proposal cannot be resolved: status is %s", prop.Status)
	}

	// a proposal already on its way to the ledger cannot change
	rec, err := s.cfg.Store.SettlementRecord(ctx, pred.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if rec != nil && rec.ProposalID == prop.ID && (rec.Status != storage.SettlementFailed || resumable(rec)) {
		return nil, apperr.New(apperr.KindConflict, op, "settlement of this proposal is %s", rec.Status)
	}

	res := storage.Resolution{
		ProposalID:       prop.ID,
		PredictionStatus: storage.PredictionAwaitingSettlement,
	}
	switch action {
	case ActionReject:
		res.ProposalStatus = storage.ProposalResolved
		res.DisputeStatus = storage.DisputeRejected
	case ActionRevise:
		if !hasOption(pred, newOptionID) {
			return nil, apperr.New(apperr.KindValidation, op, "unknown option %q", newOptionID)
		}
		if newOptionID == prop.OptionID && !prop.Refund {
			return nil, apperr.New(apperr.KindValidation, op, "revision must name a different option; use reject to keep %q", newOptionID)
		}
		res.ProposalStatus = storage.ProposalSuperseded
		res.DisputeStatus = storage.DisputeResolved
		res.Replacement = &storage.Proposal{
			PredictionID: pred.ID,
			OptionID:     newOptionID,
			ProposerID:   resolverID,
			Reason:       reason,
			ProofURL:     prop.ProofURL,
			Status:       storage.ProposalResolved,
		}
	case ActionRefund:
		res.ProposalStatus = storage.ProposalSuperseded
		res.DisputeStatus = storage.DisputeResolved
		res.Replacement = &storage.Proposal{
			PredictionID: pred.ID,
			ProposerID:   resolverID,
			Reason:       reason,
			Refund:       true,
			Status:       storage.ProposalResolved,
		}
	}

	if err := s.cfg.Store.ApplyResolution(ctx, res); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, &apperr.Error{Kind: apperr.KindConflict, Op: op, Message: "proposal was resolved or submitted concurrently", Err: err}
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	result := res.Replacement
	if result == nil {
		if result, err = s.cfg.Store.GetProposal(ctx, prop.ID); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, op, err)
		}
	}

	metrics.DisputeActionsTotal.WithLabelValues(string(action)).Inc()
	logger.Info(resolverID, "dispute_resolved",
		"prediction_id", pred.ID,
		"proposal_id", prop.ID,
		"action", string(action),
		"result_proposal_id", result.ID,
	)
	s.cfg.Events.Emit(Event{
		Type:         EventDisputeResolved,
		PredictionID: pred.ID,
		ProposalID:   result.ID,
		UserID:       resolverID,
		Action:       action,
		Refund:       result.Refund,
		Reason:       reason,
		At:           result.UpdatedAt,
	})
	return result, nil
}

// Disputes lists the disputes filed against a proposal
func (s *DisputeService) Disputes(ctx context.Context, proposalID string) ([]storage.Dispute, error) {
	const op = "service.disputes"

	prop, err := s.cfg.Store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if prop == nil {
		return nil, apperr.New(apperr.KindNotFound, op, "proposal %s not found", proposalID)
	}
	disputes, err := s.cfg.Store.Disputes(ctx, proposalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, fmt.Errorf("failed to list disputes: %w", err))
	}
	return disputes, nil
}

func hasOption(pred *storage.Prediction, optionID string) bool {
	if optionID == "" {
		return false
	}
	for _, o := range pred.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}
