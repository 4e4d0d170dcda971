package ledger

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
)

var messagePatterns = []struct {
	kind     apperr.Kind
	patterns []string
}{
	{apperr.KindUserRejected, []string{"user rejected", "user denied", "rejected the request", "user cancelled", "user canceled"}},
	{apperr.KindInsufficientFunds, []string{"insufficient funds", "insufficient lamports", "insufficient balance", "attempt to debit an account but found no record of a prior credit"}},
	{apperr.KindSession, []string{"session expired", "session not found", "stale session", "session is stale", "not connected", "disconnected", "no active session"}},
	{apperr.KindWrongNetwork, []string{"wrong network", "chain mismatch", "unsupported chain", "unrecognized chain"}},
}

// Wallet provider error codes (EIP-1193 and the chain switching extension).
var walletCodes = map[int]apperr.Kind{
	4001: apperr.KindUserRejected,
	4100: apperr.KindSession,
	4900: apperr.KindSession,
	4902: apperr.KindWrongNetwork,
}

// codeToken matches an explicit code field such as `code=4001` or `"code": 4001`.
var codeToken = regexp.MustCompile(`\bcode"?\s*[:=]\s*"?(-?\d+)\b`)

// coder is implemented by wallet and JSON-RPC errors that carry a numeric code.
type coder interface {
	Code() int
}

func errorCode(err error) (int, bool) {
	var c coder
	if errors.As(err, &c) {
		return c.Code(), true
	}
	if m := codeToken.FindStringSubmatch(strings.ToLower(err.Error())); m != nil {
		if code, perr := strconv.Atoi(m[1]); perr == nil {
			return code, true
		}
	}
	return 0, false
}

// Classify maps a wallet or RPC failure onto the error taxonomy. Errors that
// already carry a kind are returned unchanged; anything unrecognised is a
// generic network failure.
func Classify(op string, err error) *apperr.Error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &apperr.Error{Kind: apperr.KindUserRejected, Op: op, Message: "user cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrReceiptTimeout):
		return &apperr.Error{Kind: apperr.KindNetworkTimeout, Op: op, Err: err}
	case errors.Is(err, ErrUserRejected):
		return &apperr.Error{Kind: apperr.KindUserRejected, Op: op, Err: err}
	case errors.Is(err, ErrInsufficientFunds):
		return &apperr.Error{Kind: apperr.KindInsufficientFunds, Op: op, Err: err}
	case errors.Is(err, ErrStaleSession):
		return &apperr.Error{Kind: apperr.KindSession, Op: op, Err: err}
	case errors.Is(err, ErrWrongNetwork):
		return &apperr.Error{Kind: apperr.KindWrongNetwork, Op: op, Err: err}
	}

	if code, ok := errorCode(err); ok {
		if kind, known := walletCodes[code]; known {
			return &apperr.Error{Kind: kind, Op: op, Err: err}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, mp := range messagePatterns {
		for _, p := range mp.patterns {
			if strings.Contains(msg, p) {
				return &apperr.Error{Kind: mp.kind, Op: op, Err: err}
			}
		}
	}
	return &apperr.Error{Kind: apperr.KindNetwork, Op: op, Err: err}
}
