package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
)

// SaveCommitment persists the commitment for a proposal. Commitments are
// immutable: when one already exists for the proposal it is returned unchanged.
func (s *Store) SaveCommitment(ctx context.Context, predictionID, proposalID string, c *commitment.Commitment) (*CommitmentRecord, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode commitment: %w", err)
	}

	rec := &CommitmentRecord{
		ID:           newID(),
		PredictionID: predictionID,
		ProposalID:   proposalID,
		Commitment:   c,
		CreatedAt:    s.now(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commitments (id, prediction_id, proposal_id, merkle_root, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (proposal_id) DO NOTHING
	`, rec.ID, predictionID, proposalID, c.MerkleRoot.String(), string(body), toMicros(rec.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert commitment: %w", err)
	}
	return s.CommitmentByProposal(ctx, proposalID)
}

const commitmentColumns = `id, prediction_id, proposal_id, body, created_at`

func scanCommitment(row interface{ Scan(...any) error }) (*CommitmentRecord, error) {
	var rec CommitmentRecord
	var body string
	var created int64
	if err := row.Scan(&rec.ID, &rec.PredictionID, &rec.ProposalID, &body, &created); err != nil {
		return nil, err
	}
	rec.Commitment = &commitment.Commitment{}
	if err := json.Unmarshal([]byte(body), rec.Commitment); err != nil {
		return nil, fmt.Errorf("failed to decode commitment %s: %w", rec.ID, err)
	}
	rec.CreatedAt = fromMicros(created)
	return &rec, nil
}

// CommitmentByProposal returns the commitment built for a proposal, or nil.
func (s *Store) CommitmentByProposal(ctx context.Context, proposalID string) (*CommitmentRecord, error) {
	rec, err := scanCommitment(s.db.QueryRowContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE proposal_id = ?`, proposalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commitment: %w", err)
	}
	return rec, nil
}

// GetCommitment returns a commitment by ID, or nil.
func (s *Store) GetCommitment(ctx context.Context, id string) (*CommitmentRecord, error) {
	rec, err := scanCommitment(s.db.QueryRowContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commitment: %w", err)
	}
	return rec, nil
}

// AppendTransition appends one entry to the settlement status ledger. The
// ledger is never edited; the stored transition is returned with its ID and time.
func (s *Store) AppendTransition(ctx context.Context, t Transition) (*Transition, error) {
	if t.PredictionID == "" || t.Status == "" {
		return nil, fmt.Errorf("transition needs a prediction and a status")
	}
	t.CreatedAt = s.now()
	if err := insertTransition(ctx, s.db, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// StartAttempt appends the first transition of a settlement attempt. The
// proposal must still be pending or resolved; otherwise ErrConflict is
// returned and nothing is written.
func (s *Store) StartAttempt(ctx context.Context, t Transition) (*Transition, error) {
	if t.PredictionID == "" || t.ProposalID == "" || t.Status == "" {
		return nil, fmt.Errorf("attempt needs a prediction, a proposal and a status")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status ProposalStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM proposals WHERE id = ?`, t.ProposalID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("proposal %s not found: %w", t.ProposalID, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal status: %w", err)
	}
	if status != ProposalPending && status != ProposalResolved {
		return nil, fmt.Errorf("proposal %s is %s: %w", t.ProposalID, status, ErrConflict)
	}

	t.CreatedAt = s.now()
	if err := insertTransition(ctx, tx, &t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &t, nil
}

func insertTransition(ctx context.Context, db execer, t *Transition) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO settlement_transitions (prediction_id, proposal_id, commitment_id, status, tx_hash, error_kind, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.PredictionID, t.ProposalID, t.CommitmentID, t.Status, t.TxHash, t.ErrorKind, t.Error, toMicros(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// attemptHolds reports whether the latest settlement attempt of the
// proposal's prediction carries that proposal and may still reach the ledger.
func attemptHolds(ctx context.Context, tx *sql.Tx, proposalID string) (bool, error) {
	var attemptProposal, txHash, errKind string
	var status SettlementStatus
	err := tx.QueryRowContext(ctx, `
		SELECT t.proposal_id, t.status, t.tx_hash, t.error_kind
		FROM settlement_transitions t
		JOIN proposals p ON p.prediction_id = t.prediction_id
		WHERE p.id = ?
		ORDER BY t.id DESC
		LIMIT 1
	`, proposalID).Scan(&attemptProposal, &status, &txHash, &errKind)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get latest transition: %w", err)
	}
	if attemptProposal != proposalID {
		return false, nil
	}
	if status == SettlementFailed && (txHash == "" || errKind == string(apperr.KindLedgerRevert)) {
		return false, nil
	}
	return true, nil
}

// Transitions returns the ordered transition history of a prediction
func (s *Store) Transitions(ctx context.Context, predictionID string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prediction_id, proposal_id, commitment_id, status, tx_hash, error_kind, error, created_at
		FROM settlement_transitions
		WHERE prediction_id = ?
		ORDER BY id
	`, predictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transitions: %w", err)
	}
	defer rows.Close()

	var ts []Transition
	for rows.Next() {
		var t Transition
		var created int64
		if err := rows.Scan(&t.ID, &t.PredictionID, &t.ProposalID, &t.CommitmentID, &t.Status,
			&t.TxHash, &t.ErrorKind, &t.Error, &created); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.CreatedAt = fromMicros(created)
		ts = append(ts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transitions: %w", err)
	}
	return ts, nil
}

// SettlementRecord folds the transition history of a prediction. It returns
// nil when settlement was never attempted.
func (s *Store) SettlementRecord(ctx context.Context, predictionID string) (*SettlementRecord, error) {
	ts, err := s.Transitions(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	return FoldTransitions(ts), nil
}
