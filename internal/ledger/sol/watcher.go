// Package sol implements the ledger contracts on Solana.
package sol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/ledger"
)

// RPC is the subset of the Solana JSON-RPC client used here.
type RPC interface {
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetGenesisHash(ctx context.Context) (solana.Hash, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error)
}

// NewRPC returns a JSON-RPC client for url.
func NewRPC(url string) RPC {
	return solanarpc.New(url)
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Logger         *slog.Logger
	Clock          clockwork.Clock
	RPC            RPC
	PollInterval   time.Duration
	DefaultTimeout time.Duration
	// MaxRPCFailures is how many status checks in a row may fail before the
	// wait gives up with a network error instead of running to the deadline.
	MaxRPCFailures int
}

func (c *WatcherConfig) Validate() error {
	if c.RPC == nil {
		return errors.New("rpc client is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 180 * time.Second
	}
	if c.MaxRPCFailures <= 0 {
		c.MaxRPCFailures = 5
	}
	return nil
}

// Watcher polls signature statuses until a transaction is finalized.
type Watcher struct {
	cfg WatcherConfig
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Watcher{cfg: cfg}, nil
}

// WaitForReceipt returns a success receipt once the transaction is finalized
// and a reverted receipt as soon as it is confirmed with an execution error.
// Finalization stands in for opts.Confirmations, which is not consulted.
// It returns ledger.ErrReceiptTimeout when neither happens within opts.Timeout,
// and a network error once MaxRPCFailures status checks fail in a row.
func (w *Watcher) WaitForReceipt(ctx context.Context, txHash string, opts ledger.WaitOptions) (*ledger.Receipt, error) {
	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "watcher.wait", "invalid transaction signature %q: %v", txHash, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = w.cfg.DefaultTimeout
	}
	deadline := w.cfg.Clock.After(timeout)
	ticker := w.cfg.Clock.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		receipt, err := w.check(ctx, sig)
		if err != nil {
			failures++
			w.cfg.Logger.Warn("signature status check failed", "tx_hash", txHash, "failures", failures, "error", err)
			if failures >= w.cfg.MaxRPCFailures && ctx.Err() == nil {
				return nil, apperr.WithTx(&apperr.Error{
					Kind:    apperr.KindNetwork,
					Op:      "watcher.wait",
					Message: fmt.Sprintf("signature status unavailable after %d attempts", failures),
					Err:     err,
				}, txHash)
			}
		} else if receipt != nil {
			return receipt, nil
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("tx %s after %s: %w", txHash, timeout, ledger.ErrReceiptTimeout)
		case <-ticker.Chan():
		}
	}
}

func (w *Watcher) check(ctx context.Context, sig solana.Signature) (*ledger.Receipt, error) {
	out, err := w.cfg.RPC.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}

	status := out.Value[0]
	receipt := &ledger.Receipt{TxHash: sig.String(), Slot: status.Slot}
	switch {
	case status.Err != nil && status.ConfirmationStatus != solanarpc.ConfirmationStatusProcessed:
		receipt.Status = ledger.ReceiptReverted
		receipt.Error = fmt.Sprintf("%v", status.Err)
		return receipt, nil
	case status.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized:
		receipt.Status = ledger.ReceiptSuccess
		return receipt, nil
	}
	return nil, nil
}
