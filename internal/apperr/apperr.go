package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a settlement failure. Each kind has its own retry policy
// and user-facing message.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuthorization     Kind = "authorization"
	KindPreparation       Kind = "preparation"
	KindSession           Kind = "session"
	KindUserRejected      Kind = "user_rejected"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindWrongNetwork      Kind = "wrong_network"
	KindNetworkTimeout    Kind = "network_timeout"
	KindLedgerRevert      Kind = "ledger_revert"
	KindNetwork           Kind = "network"
	KindConflict          Kind = "conflict"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is the typed error returned across the engine boundary.
type Error struct {
	Kind    Kind
	Op      string
	TxHash  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.TxHash != "" {
		msg = fmt.Sprintf("%s (tx %s)", msg, e.TxHash)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an error of the given kind with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. An existing *Error keeps its kind.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithTx returns a copy of err annotated with a transaction identifier.
func WithTx(err *Error, txHash string) *Error {
	if err == nil {
		return nil
	}
	cp := *err
	cp.TxHash = txHash
	return &cp
}

// KindOf reports the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// AutoRetries is the number of automatic retries the coordinator may spend on
// a failure of this kind. Stale sessions get exactly one; everything else
// waits for the user.
func AutoRetries(kind Kind) int {
	if kind == KindSession {
		return 1
	}
	return 0
}

// Reattemptable reports whether the caller may start a fresh attempt
// (re-prepare and re-sign) after a failure of this kind.
func Reattemptable(kind Kind) bool {
	switch kind {
	case KindPreparation, KindSession, KindUserRejected, KindInsufficientFunds,
		KindWrongNetwork, KindNetwork:
		return true
	}
	return false
}

// UserMessage is the human-readable text shown for a terminal state.
func UserMessage(kind Kind) string {
	switch kind {
	case KindValidation:
		return "The settlement request is invalid."
	case KindAuthorization:
		return "Only the prediction creator or an arbiter can do this."
	case KindPreparation:
		return "The settlement could not be prepared. Try again."
	case KindSession:
		return "Your wallet session expired. Reconnect your wallet to continue."
	case KindUserRejected:
		return "Settlement cancelled."
	case KindInsufficientFunds:
		return "Your wallet does not have enough funds to pay the network fee. Top up and try again."
	case KindWrongNetwork:
		return "Your wallet is connected to the wrong network. Switch networks and try again."
	case KindNetworkTimeout:
		return "The transaction has not confirmed yet. Check its status again later."
	case KindLedgerRevert:
		return "The ledger rejected the settlement. A new settlement proposal is required."
	case KindNetwork:
		return "A network error occurred. Try again."
	case KindConflict:
		return "A settlement is already in progress for this prediction."
	case KindNotFound:
		return "Not found."
	}
	return "Something went wrong."
}
