package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
)

type walletError struct {
	code int
	msg  string
}

func (e walletError) Error() string { return e.msg }
func (e walletError) Code() int     { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"cancelled", context.Canceled, apperr.KindUserRejected},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), apperr.KindNetworkTimeout},
		{"receipt timeout", ErrReceiptTimeout, apperr.KindNetworkTimeout},
		{"rejected sentinel", fmt.Errorf("sign: %w", ErrUserRejected), apperr.KindUserRejected},
		{"rejected message", errors.New("MetaMask Tx Signature: User denied transaction signature."), apperr.KindUserRejected},
		{"funds sentinel", ErrInsufficientFunds, apperr.KindInsufficientFunds},
		{"lamports", errors.New("Transfer: insufficient lamports 10, need 5000"), apperr.KindInsufficientFunds},
		{"stale sentinel", ErrStaleSession, apperr.KindSession},
		{"session expired", errors.New("WalletConnect session expired"), apperr.KindSession},
		{"wrong network", ErrWrongNetwork, apperr.KindWrongNetwork},
		{"chain mismatch", errors.New("chain mismatch: want devnet"), apperr.KindWrongNetwork},
		{"generic", errors.New("dial tcp: i/o failure"), apperr.KindNetwork},
		{"rejection code field", errors.New(`wallet error: {"code": 4001, "message": "Request rejected"}`), apperr.KindUserRejected},
		{"rejection code token", errors.New("sign failed: code=4001"), apperr.KindUserRejected},
		{"coded error", walletError{code: 4902, msg: "Unrecognized chain ID"}, apperr.KindWrongNetwork},
		{"coded error unknown", walletError{code: -32603, msg: "internal error"}, apperr.KindNetwork},
		{"incidental digits", errors.New("Blockhash not found (min context slot 254001)"), apperr.KindNetwork},
		{"incidental chain digits", errors.New("rpc: slot 1849020 skipped"), apperr.KindNetwork},
		{"typed passes through", apperr.New(apperr.KindLedgerRevert, "x", "reverted"), apperr.KindLedgerRevert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("sign", tt.err)
			require.NotNil(t, got)
			require.Equal(t, tt.want, got.Kind)
		})
	}
	require.Nil(t, Classify("sign", nil))
}

func TestContractCallData(t *testing.T) {
	c := &commitment.Commitment{
		MerkleRoot:       commitment.LeafHash([]byte("root"), 1),
		Leaves:           []commitment.Leaf{{AmountUnits: 700}, {AmountUnits: 286}},
		PlatformFeeUnits: 10,
		CreatorFeeUnits:  4,
	}
	call := NewContractCall("pred-9", c, "platform", "creator")
	require.Equal(t, int64(986), call.TotalPayoutUnits)

	data := call.Data()
	require.Equal(t, settleInstruction, data[0])
	require.Equal(t, c.MerkleRoot[:], data[1:33])
	require.Equal(t, uint64(986), binary.LittleEndian.Uint64(data[33:41]))
	require.Equal(t, uint64(10), binary.LittleEndian.Uint64(data[41:49]))
	require.Equal(t, uint64(4), binary.LittleEndian.Uint64(data[49:57]))
	require.Equal(t, byte(0), data[57])
	require.Equal(t, uint16(6), binary.LittleEndian.Uint16(data[58:60]))
	require.Equal(t, "pred-9", string(data[60:]))
}
