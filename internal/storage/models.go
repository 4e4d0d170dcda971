package storage

import (
	"time"

	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
)

// User represents a participant or creator
type User struct {
	ID         string    `json:"id"`
	TelegramID int64     `json:"telegram_id,omitempty"`
	Username   string    `json:"username"`
	FirstName  string    `json:"first_name"`
	Address    string    `json:"address,omitempty"` // base58 wallet address
	CreatedAt  time.Time `json:"created_at"`
}

// PredictionStatus represents the lifecycle status of a prediction
type PredictionStatus string

const (
	PredictionOpen               PredictionStatus = "open"
	PredictionClosed             PredictionStatus = "closed"
	PredictionAwaitingSettlement PredictionStatus = "awaiting_settlement"
	PredictionDisputed           PredictionStatus = "disputed"
	PredictionSettled            PredictionStatus = "settled"
	PredictionRefunded           PredictionStatus = "refunded"
)

// Settleable reports whether a proposal may be prepared for the prediction.
func (s PredictionStatus) Settleable() bool {
	return s == PredictionAwaitingSettlement || s == PredictionDisputed
}

// Prediction is the local replica of a catalog prediction
type Prediction struct {
	ID               string           `json:"id"`
	CreatorID        string           `json:"creator_id"`
	Title            string           `json:"title"`
	Status           PredictionStatus `json:"status"`
	PoolTotal        int64            `json:"pool_total"` // minor units
	ParticipantCount int              `json:"participant_count"`
	Options          []Option         `json:"options"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Option is one outcome of a prediction
type Option struct {
	ID           string `json:"id"`
	PredictionID string `json:"prediction_id"`
	Label        string `json:"label"`
	TotalStaked  int64  `json:"total_staked"`
}

// EntryStatus represents the lifecycle status of an entry
type EntryStatus string

const (
	EntryActive   EntryStatus = "active"
	EntryWon      EntryStatus = "won"
	EntryLost     EntryStatus = "lost"
	EntryRefunded EntryStatus = "refunded"
)

// Entry is a stake placed on an option
type Entry struct {
	ID           string      `json:"id"`
	PredictionID string      `json:"prediction_id"`
	UserID       string      `json:"user_id"`
	OptionID     string      `json:"option_id"`
	Stake        int64       `json:"stake"`
	Address      string      `json:"address,omitempty"`
	Status       EntryStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ProposalStatus represents the status of a settlement proposal
type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalDisputed   ProposalStatus = "disputed"
	ProposalResolved   ProposalStatus = "resolved"
	ProposalRejected   ProposalStatus = "rejected"
	ProposalSuperseded ProposalStatus = "superseded"
)

// Open reports whether disputes and resolutions are still accepted.
func (s ProposalStatus) Open() bool {
	return s == ProposalPending || s == ProposalDisputed
}

// Proposal is a proposed outcome for a prediction. It is never edited once
// resolved; revisions create a new proposal that supersedes it.
type Proposal struct {
	ID           string         `json:"id"`
	PredictionID string         `json:"prediction_id"`
	OptionID     string         `json:"option_id,omitempty"` // empty for refund proposals
	ProposerID   string         `json:"proposer_id"`
	Reason       string         `json:"reason"`
	ProofURL     string         `json:"proof_url,omitempty"`
	Refund       bool           `json:"refund"`
	Status       ProposalStatus `json:"status"`
	SupersedesID string         `json:"supersedes_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DisputeStatus represents the status of a dispute
type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeResolved DisputeStatus = "resolved"
	DisputeRejected DisputeStatus = "rejected"
)

// Dispute contests a proposal
type Dispute struct {
	ID         string        `json:"id"`
	ProposalID string        `json:"proposal_id"`
	UserID     string        `json:"user_id"`
	Reason     string        `json:"reason"`
	Status     DisputeStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// CommitmentRecord is a persisted distribution commitment. Rows are immutable.
type CommitmentRecord struct {
	ID           string                 `json:"id"`
	PredictionID string                 `json:"prediction_id"`
	ProposalID   string                 `json:"proposal_id"`
	Commitment   *commitment.Commitment `json:"commitment"`
	CreatedAt    time.Time              `json:"created_at"`
}

// SettlementStatus is the status recorded by a settlement transition
type SettlementStatus string

const (
	SettlementPrepared  SettlementStatus = "prepared"
	SettlementSubmitted SettlementStatus = "submitted"
	SettlementPending   SettlementStatus = "pending"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// Transition is one append-only entry of the settlement status ledger
type Transition struct {
	ID           int64            `json:"id"`
	PredictionID string           `json:"prediction_id"`
	ProposalID   string           `json:"proposal_id,omitempty"`
	CommitmentID string           `json:"commitment_id,omitempty"`
	Status       SettlementStatus `json:"status"`
	TxHash       string           `json:"tx_hash,omitempty"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// SettlementRecord is the current settlement state of a prediction, folded
// from its transitions.
type SettlementRecord struct {
	PredictionID  string                         `json:"prediction_id"`
	ProposalID    string                         `json:"proposal_id,omitempty"`
	CommitmentID  string                         `json:"commitment_id,omitempty"`
	TxHash        string                         `json:"tx_hash,omitempty"`
	Status        SettlementStatus               `json:"status"`
	LastError     string                         `json:"last_error,omitempty"`
	LastErrorKind string                         `json:"last_error_kind,omitempty"`
	Timestamps    map[SettlementStatus]time.Time `json:"timestamps"`
	History       []Transition                   `json:"history"`
}

// InFlight reports whether a transaction exists that has not reached a terminal state.
func (r *SettlementRecord) InFlight() bool {
	return r.TxHash != "" && (r.Status == SettlementSubmitted || r.Status == SettlementPending)
}

// FoldTransitions rebuilds the settlement record from its ordered transitions.
// It returns nil when settlement was never attempted.
func FoldTransitions(ts []Transition) *SettlementRecord {
	if len(ts) == 0 {
		return nil
	}
	rec := &SettlementRecord{
		PredictionID: ts[0].PredictionID,
		Timestamps:   make(map[SettlementStatus]time.Time),
		History:      ts,
	}
	for _, t := range ts {
		if t.Status == SettlementPrepared || (t.ProposalID != "" && rec.ProposalID != "" && t.ProposalID != rec.ProposalID) {
			// a new attempt or a new proposal starts without a transaction
			rec.TxHash = ""
			rec.CommitmentID = ""
			rec.Timestamps = make(map[SettlementStatus]time.Time)
		}
		if t.ProposalID != "" {
			rec.ProposalID = t.ProposalID
		}
		if t.CommitmentID != "" {
			rec.CommitmentID = t.CommitmentID
		}
		if t.TxHash != "" {
			rec.TxHash = t.TxHash
		}
		rec.Status = t.Status
		rec.Timestamps[t.Status] = t.CreatedAt
		if t.Status == SettlementFailed {
			rec.LastError = t.Error
			rec.LastErrorKind = t.ErrorKind
		} else {
			rec.LastError = ""
			rec.LastErrorKind = ""
		}
	}
	return rec
}
