package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const proposalColumns = `id, prediction_id, option_id, proposer_id, reason, proof_url, refund, status, supersedes_id, created_at, updated_at`

func scanProposal(row interface{ Scan(...any) error }) (*Proposal, error) {
	var p Proposal
	var created, updated int64
	if err := row.Scan(&p.ID, &p.PredictionID, &p.OptionID, &p.ProposerID, &p.Reason, &p.ProofURL,
		&p.Refund, &p.Status, &p.SupersedesID, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMicros(created)
	p.UpdatedAt = fromMicros(updated)
	return &p, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertProposal(ctx context.Context, db execer, p *Proposal) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO proposals (`+proposalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.PredictionID, p.OptionID, p.ProposerID, p.Reason, p.ProofURL,
		p.Refund, p.Status, p.SupersedesID, toMicros(p.CreatedAt), toMicros(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert proposal: %w", err)
	}
	return nil
}

// CreateProposal inserts a proposal and moves the prediction to awaiting_settlement.
// ID, status and timestamps are assigned here. It returns ErrConflict while
// another proposal of the prediction is pending, disputed or resolved.
func (s *Store) CreateProposal(ctx context.Context, p *Proposal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// a resolved proposal is only replaced through dispute resolution or a revert
	now := s.now()
	var live int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM proposals WHERE prediction_id = ? AND status IN (?, ?, ?)
	`, p.PredictionID, ProposalPending, ProposalDisputed, ProposalResolved).Scan(&live); err != nil {
		return fmt.Errorf("failed to count live proposals: %w", err)
	}
	if live > 0 {
		return fmt.Errorf("prediction %s already has a live proposal: %w", p.PredictionID, ErrConflict)
	}

	p.ID = newID()
	p.Status = ProposalPending
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := insertProposal(ctx, tx, p); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE predictions SET status = ?, updated_at = ? WHERE id = ?
	`, PredictionAwaitingSettlement, toMicros(now), p.PredictionID); err != nil {
		return fmt.Errorf("failed to update prediction status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetProposal retrieves a proposal. It returns nil when not found.
func (s *Store) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	p, err := scanProposal(s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

// LatestProposal returns the newest proposal of a prediction that has not been
// superseded. It returns nil when none exists.
func (s *Store) LatestProposal(ctx context.Context, predictionID string) (*Proposal, error) {
	p, err := scanProposal(s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE prediction_id = ? AND status != ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, predictionID, ProposalSuperseded))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest proposal: %w", err)
	}
	return p, nil
}

// Proposals lists every proposal of a prediction, oldest first
func (s *Store) Proposals(ctx context.Context, predictionID string) ([]Proposal, error) {
	return s.queryProposals(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE prediction_id = ?
		ORDER BY created_at, rowid
	`, predictionID)
}

// ProposalsReadyForSubmission returns pending proposals created at or before
// cutoff with no disputes, plus resolved proposals, whose prediction still awaits settlement.
func (s *Store) ProposalsReadyForSubmission(ctx context.Context, cutoff time.Time) ([]Proposal, error) {
	return s.queryProposals(ctx, `
		SELECT `+prefixColumns("p", proposalColumns)+`
		FROM proposals p
		JOIN predictions pr ON pr.id = p.prediction_id
		WHERE pr.status IN (?, ?)
		  AND (
			(p.status = ? AND p.created_at <= ? AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.proposal_id = p.id))
			OR p.status = ?
		  )
		ORDER BY p.created_at
	`, PredictionAwaitingSettlement, PredictionDisputed, ProposalPending, toMicros(cutoff), ProposalResolved)
}

func (s *Store) queryProposals(ctx context.Context, query string, args ...any) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate proposals: %w", err)
	}
	return proposals, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}

// SetProposalStatus moves a proposal to status only if it is currently in one
// of from. It returns ErrConflict otherwise.
func (s *Store) SetProposalStatus(ctx context.Context, id string, to ProposalStatus, from ...ProposalStatus) error {
	return setProposalStatus(ctx, s.db, id, to, toMicros(s.now()), from...)
}

func setProposalStatus(ctx context.Context, db execer, id string, to ProposalStatus, now int64, from ...ProposalStatus) error {
	query := `UPDATE proposals SET status = ?, updated_at = ? WHERE id = ?`
	args := []any{to, now, id}
	if len(from) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(from)-1) + `)`
		for _, f := range from {
			args = append(args, f)
		}
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update proposal status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("proposal %s not in %v: %w", id, from, ErrConflict)
	}
	return nil
}

// AddDispute files a dispute against an open proposal, moving the proposal and
// its prediction to disputed. A second dispute by the same user returns ErrDuplicate.
func (s *Store) AddDispute(ctx context.Context, d *Dispute) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	var predictionID string
	err = tx.QueryRowContext(ctx, `
		SELECT prediction_id FROM proposals WHERE id = ? AND status IN (?, ?)
	`, d.ProposalID, ProposalPending, ProposalDisputed).Scan(&predictionID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("proposal %s is not open: %w", d.ProposalID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to get proposal: %w", err)
	}

	d.ID = newID()
	d.Status = DisputePending
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO disputes (id, proposal_id, user_id, reason, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ProposalID, d.UserID, d.Reason, d.Status, toMicros(now), toMicros(now))
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s already disputed proposal %s: %w", d.UserID, d.ProposalID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert dispute: %w", err)
	}

	if err := setProposalStatus(ctx, tx, d.ProposalID, ProposalDisputed, toMicros(now), ProposalPending, ProposalDisputed); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE predictions SET status = ?, updated_at = ? WHERE id = ?
	`, PredictionDisputed, toMicros(now), predictionID); err != nil {
		return fmt.Errorf("failed to update prediction status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Disputes lists the disputes filed against a proposal, oldest first
func (s *Store) Disputes(ctx context.Context, proposalID string) ([]Dispute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, user_id, reason, status, created_at, updated_at
		FROM disputes
		WHERE proposal_id = ?
		ORDER BY created_at, rowid
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get disputes: %w", err)
	}
	defer rows.Close()

	var disputes []Dispute
	for rows.Next() {
		var d Dispute
		var created, updated int64
		if err := rows.Scan(&d.ID, &d.ProposalID, &d.UserID, &d.Reason, &d.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		d.CreatedAt = fromMicros(created)
		d.UpdatedAt = fromMicros(updated)
		disputes = append(disputes, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate disputes: %w", err)
	}
	return disputes, nil
}

// Resolution is one atomic dispute-resolution step.
type Resolution struct {
	ProposalID       string
	ProposalStatus   ProposalStatus   // new status of the resolved proposal
	DisputeStatus    DisputeStatus    // applied to its pending disputes
	Replacement      *Proposal        // optional proposal that supersedes it
	PredictionStatus PredictionStatus // optional
}

// ApplyResolution resolves an open proposal. The proposal must be pending or
// disputed and must not be carried by a live settlement attempt, otherwise
// ErrConflict is returned and nothing changes.
func (s *Store) ApplyResolution(ctx context.Context, r Resolution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	held, err := attemptHolds(ctx, tx, r.ProposalID)
	if err != nil {
		return err
	}
	if held {
		return fmt.Errorf("proposal %s is being settled: %w", r.ProposalID, ErrConflict)
	}

	now := s.now()
	if err := setProposalStatus(ctx, tx, r.ProposalID, r.ProposalStatus, toMicros(now), ProposalPending, ProposalDisputed); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE disputes SET status = ?, updated_at = ? WHERE proposal_id = ? AND status = ?
	`, r.DisputeStatus, toMicros(now), r.ProposalID, DisputePending); err != nil {
		return fmt.Errorf("failed to update disputes: %w", err)
	}

	if r.Replacement != nil {
		r.Replacement.ID = newID()
		r.Replacement.SupersedesID = r.ProposalID
		r.Replacement.CreatedAt = now
		r.Replacement.UpdatedAt = now
		if err := insertProposal(ctx, tx, r.Replacement); err != nil {
			return err
		}
	}

	if r.PredictionStatus != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE predictions
			SET status = ?, updated_at = ?
			WHERE id = (SELECT prediction_id FROM proposals WHERE id = ?)
		`, r.PredictionStatus, toMicros(now), r.ProposalID); err != nil {
			return fmt.Errorf("failed to update prediction status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
