package service

import (
	"time"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
)

// EventType names a settlement lifecycle event
type EventType string

const (
	EventProposalCreated     EventType = "proposal_created"
	EventDisputeFiled        EventType = "dispute_filed"
	EventDisputeResolved     EventType = "dispute_resolved"
	EventReconnectRequired   EventType = "reconnect_required"
	EventSettlementSubmitted EventType = "settlement_submitted"
	EventSettlementConfirmed EventType = "settlement_confirmed"
	EventSettlementFailed    EventType = "settlement_failed"
)

// Event is one lifecycle transition reported to the notification sink.
type Event struct {
	Type         EventType
	PredictionID string
	ProposalID   string
	UserID       string
	Action       ResolutionAction // set for EventDisputeResolved
	Refund       bool
	TxHash       string
	ErrorKind    apperr.Kind
	Reason       string
	At           time.Time
}

// EventSink receives lifecycle events. Emit must not block the caller on
// delivery and never fails the operation that emitted the event.
type EventSink interface {
	Emit(Event)
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Emit(e Event) {
	logger.Info(e.UserID, "settlement_event",
		"event", string(e.Type),
		"prediction_id", e.PredictionID,
		"proposal_id", e.ProposalID,
		"tx_hash", e.TxHash,
		"error_kind", string(e.ErrorKind),
	)
}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}
