// Package ledger defines what the settlement coordinator needs from the
// external ledger and the signing session that writes to it.
package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
)

// Errors a Signer or Watcher implementation returns so Classify can map them
// without inspecting messages.
var (
	ErrUserRejected      = errors.New("user rejected the request")
	ErrInsufficientFunds = errors.New("insufficient funds for fee")
	ErrStaleSession      = errors.New("signing session is stale")
	ErrWrongNetwork      = errors.New("signer is on the wrong network")
	ErrReceiptTimeout    = errors.New("no receipt before timeout")
)

const settleInstruction byte = 0x01

// ContractCall is the settlement posted to the escrow contract: the Merkle
// root plus fee recipients and amounts.
type ContractCall struct {
	PredictionID      string
	MerkleRoot        commitment.Hash
	TotalPayoutUnits  int64
	PlatformFeeUnits  int64
	CreatorFeeUnits   int64
	PlatformRecipient string
	CreatorRecipient  string
	Refund            bool
}

// NewContractCall builds the call for a commitment.
func NewContractCall(predictionID string, c *commitment.Commitment, platformRecipient, creatorRecipient string) ContractCall {
	return ContractCall{
		PredictionID:      predictionID,
		MerkleRoot:        c.MerkleRoot,
		TotalPayoutUnits:  c.TotalUnits(),
		PlatformFeeUnits:  c.PlatformFeeUnits,
		CreatorFeeUnits:   c.CreatorFeeUnits,
		PlatformRecipient: platformRecipient,
		CreatorRecipient:  creatorRecipient,
		Refund:            c.Refund,
	}
}

// Data encodes the call as instruction data:
//
//	0x01 || root[32] || u64le(total) || u64le(platformFee) || u64le(creatorFee) || u8(refund) || u16le(len(id)) || id
func (c ContractCall) Data() []byte {
	buf := make([]byte, 0, 1+32+8*3+1+2+len(c.PredictionID))
	buf = append(buf, settleInstruction)
	buf = append(buf, c.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.TotalPayoutUnits))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.PlatformFeeUnits))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.CreatorFeeUnits))
	if c.Refund {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(c.PredictionID)))
	return append(buf, c.PredictionID...)
}

// Signer is the signing capability borrowed from the session layer for one call.
type Signer interface {
	Address(ctx context.Context) (string, error)
	ChainID(ctx context.Context) (string, error)
	SwitchChain(ctx context.Context, chainID string) error
	SignAndSend(ctx context.Context, call ContractCall) (txHash string, err error)
}

// SessionRecovery re-establishes a signing connection after it went stale.
type SessionRecovery interface {
	ClearStaleSession(ctx context.Context) error
	Reconnect(ctx context.Context) (Signer, error)
}

// Session is the signing context passed into one settlement attempt. It is
// never cached by the coordinator.
type Session struct {
	Signer   Signer
	Recovery SessionRecovery

	// ReconnectRequired is called after a successful reconnect so the user
	// can be told to approve the retried signature.
	ReconnectRequired func()
}

// ReceiptStatus is the execution outcome of an included transaction.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// Receipt reports a finalized transaction.
type Receipt struct {
	TxHash string
	Status ReceiptStatus
	Slot   uint64
	Error  string
}

// WaitOptions bounds a receipt wait.
type WaitOptions struct {
	Confirmations int
	Timeout       time.Duration
}

// Watcher waits for a transaction to reach finality. It returns ErrReceiptTimeout
// when no receipt arrives within opts.Timeout.
type Watcher interface {
	WaitForReceipt(ctx context.Context, txHash string, opts WaitOptions) (*Receipt, error)
}
