package sol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/itisteddy/fan-club-z-sub008/internal/ledger"
)

// minFeeLamports covers the base fee of a single-signature transaction.
const minFeeLamports = 5000

// KeypairSigner is a server-held hot wallet that signs settlement
// transactions. It serves as both the Signer and the SessionRecovery of the
// server session.
type KeypairSigner struct {
	log       *slog.Logger
	rpc       RPC
	key       solana.PrivateKey
	programID solana.PublicKey

	mu      sync.Mutex
	genesis string
}

func NewKeypairSigner(log *slog.Logger, rpc RPC, privateKey, programID string) (*KeypairSigner, error) {
	if rpc == nil {
		return nil, errors.New("rpc client is required")
	}
	if log == nil {
		log = slog.Default()
	}
	key, err := solana.PrivateKeyFromBase58(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}
	return &KeypairSigner{log: log, rpc: rpc, key: key, programID: program}, nil
}

// Session returns the signing session backed by this keypair.
func (s *KeypairSigner) Session() *ledger.Session {
	return &ledger.Session{Signer: s, Recovery: s}
}

func (s *KeypairSigner) Address(ctx context.Context) (string, error) {
	return s.key.PublicKey().String(), nil
}

// ChainID is the genesis hash of the cluster behind the RPC endpoint.
func (s *KeypairSigner) ChainID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.genesis != "" {
		return s.genesis, nil
	}
	hash, err := s.rpc.GetGenesisHash(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get genesis hash: %w", err)
	}
	s.genesis = hash.String()
	return s.genesis, nil
}

// SwitchChain cannot move a hot wallet between clusters; it only succeeds when
// the endpoint already serves chainID.
func (s *KeypairSigner) SwitchChain(ctx context.Context, chainID string) error {
	current, err := s.ChainID(ctx)
	if err != nil {
		return err
	}
	if current != chainID {
		return fmt.Errorf("endpoint serves %s, want %s: %w", current, chainID, ledger.ErrWrongNetwork)
	}
	return nil
}

// SignAndSend signs and submits the settlement instruction and returns the
// transaction signature.
func (s *KeypairSigner) SignAndSend(ctx context.Context, call ledger.ContractCall) (string, error) {
	payer := s.key.PublicKey()

	balance, err := s.rpc.GetBalance(ctx, payer, solanarpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("failed to get fee payer balance: %w", err)
	}
	if balance.Value < minFeeLamports {
		return "", fmt.Errorf("fee payer %s has %d lamports: %w", payer, balance.Value, ledger.ErrInsufficientFunds)
	}

	accounts := solana.AccountMetaSlice{solana.Meta(payer).WRITE().SIGNER()}
	for _, recipient := range []string{call.PlatformRecipient, call.CreatorRecipient} {
		if recipient == "" {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(recipient)
		if err != nil {
			return "", fmt.Errorf("invalid fee recipient %q: %w", recipient, err)
		}
		accounts = append(accounts, solana.Meta(pk))
	}

	latest, err := s.rpc.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(s.programID, accounts, call.Data())},
		latest.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &s.key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: solanarpc.CommitmentFinalized,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	s.log.Info("settlement transaction sent",
		"prediction_id", call.PredictionID,
		"tx_hash", sig.String(),
		"merkle_root", call.MerkleRoot.String())
	return sig.String(), nil
}

// ClearStaleSession drops the cached cluster identity.
func (s *KeypairSigner) ClearStaleSession(ctx context.Context) error {
	s.mu.Lock()
	s.genesis = ""
	s.mu.Unlock()
	return nil
}

// Reconnect checks the endpoint is reachable again and returns the same keypair.
func (s *KeypairSigner) Reconnect(ctx context.Context) (ledger.Signer, error) {
	if _, err := s.ChainID(ctx); err != nil {
		return nil, fmt.Errorf("reconnect failed: %w", err)
	}
	return s, nil
}
