package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/itisteddy/fan-club-z-sub008/internal/payout"
)

// CreatePrediction creates an open prediction with the given option labels
func (s *Store) CreatePrediction(ctx context.Context, creatorID, title string, labels []string) (*Prediction, error) {
	if len(labels) < 2 {
		return nil, fmt.Errorf("prediction needs at least two options, got %d", len(labels))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	p := &Prediction{
		ID:        newID(),
		CreatorID: creatorID,
		Title:     title,
		Status:    PredictionOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO predictions (id, creator_id, title, status, pool_total, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, p.ID, creatorID, title, p.Status, toMicros(now), toMicros(now)); err != nil {
		return nil, fmt.Errorf("failed to insert prediction: %w", err)
	}

	for i, label := range labels {
		o := Option{ID: newID(), PredictionID: p.ID, Label: label}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO options (id, prediction_id, label, position, total_staked)
			VALUES (?, ?, ?, ?, 0)
		`, o.ID, p.ID, label, i); err != nil {
			return nil, fmt.Errorf("failed to insert option: %w", err)
		}
		p.Options = append(p.Options, o)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p, nil
}

// GetPrediction retrieves a prediction with its options. It returns nil when not found.
func (s *Store) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	var p Prediction
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.creator_id, p.title, p.status, p.pool_total, p.created_at, p.updated_at,
			(SELECT COUNT(DISTINCT user_id) FROM entries e WHERE e.prediction_id = p.id)
		FROM predictions p
		WHERE p.id = ?
	`, id).Scan(&p.ID, &p.CreatorID, &p.Title, &p.Status, &p.PoolTotal, &created, &updated, &p.ParticipantCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	p.CreatedAt = fromMicros(created)
	p.UpdatedAt = fromMicros(updated)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prediction_id, label, total_staked
		FROM options
		WHERE prediction_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.ID, &o.PredictionID, &o.Label, &o.TotalStaked); err != nil {
			return nil, fmt.Errorf("failed to scan option: %w", err)
		}
		p.Options = append(p.Options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate options: %w", err)
	}
	return &p, nil
}

// SetPredictionStatus moves a prediction to status
func (s *Store) SetPredictionStatus(ctx context.Context, id string, status PredictionStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET status = ?, updated_at = ? WHERE id = ?
	`, status, toMicros(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update prediction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update prediction status: %w", sql.ErrNoRows)
	}
	return nil
}

// PlaceEntry stakes on an option of an open prediction, updating option and pool totals atomically
func (s *Store) PlaceEntry(ctx context.Context, predictionID, userID, optionID string, stake int64, address string) (*Entry, error) {
	if stake <= 0 {
		return nil, fmt.Errorf("stake must be positive, got %d", stake)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status PredictionStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM predictions WHERE id = ?`, predictionID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("prediction %s not found", predictionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	if status != PredictionOpen {
		return nil, fmt.Errorf("prediction %s is %s, not open", predictionID, status)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE options SET total_staked = total_staked + ? WHERE id = ? AND prediction_id = ?
	`, stake, optionID, predictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to update option total: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("option %s not found on prediction %s", optionID, predictionID)
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE predictions SET pool_total = pool_total + ?, updated_at = ? WHERE id = ?
	`, stake, toMicros(now), predictionID); err != nil {
		return nil, fmt.Errorf("failed to update pool total: %w", err)
	}

	e := &Entry{
		ID:           newID(),
		PredictionID: predictionID,
		UserID:       userID,
		OptionID:     optionID,
		Stake:        stake,
		Address:      address,
		Status:       EntryActive,
		CreatedAt:    now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, prediction_id, user_id, option_id, stake, address, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, predictionID, userID, optionID, stake, address, e.Status, toMicros(now)); err != nil {
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return e, nil
}

// Entries lists the entries of a prediction ordered by ID
func (s *Store) Entries(ctx context.Context, predictionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prediction_id, user_id, option_id, stake, address, status, created_at
		FROM entries
		WHERE prediction_id = ?
		ORDER BY id
	`, predictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.PredictionID, &e.UserID, &e.OptionID, &e.Stake, &e.Address, &e.Status, &created); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.CreatedAt = fromMicros(created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// HasEntry reports whether the user holds an entry in the prediction
func (s *Store) HasEntry(ctx context.Context, predictionID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries WHERE prediction_id = ? AND user_id = ?
	`, predictionID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count entries: %w", err)
	}
	return n > 0, nil
}

// Pool returns the stake state of a prediction for the payout calculator.
// Entries without their own address fall back to the owner's linked wallet.
func (s *Store) Pool(ctx context.Context, predictionID string) (*payout.Pool, error) {
	p, err := s.GetPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	pool := &payout.Pool{PoolTotal: p.PoolTotal}
	for _, o := range p.Options {
		pool.Options = append(pool.Options, payout.Option{ID: o.ID, Label: o.Label, TotalStaked: o.TotalStaked})
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.user_id, CASE WHEN e.address != '' THEN e.address ELSE COALESCE(u.address, '') END,
			e.option_id, e.stake
		FROM entries e
		LEFT JOIN users u ON u.id = e.user_id
		WHERE e.prediction_id = ?
		ORDER BY e.id
	`, predictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e payout.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Address, &e.OptionID, &e.Stake); err != nil {
			return nil, fmt.Errorf("failed to scan pool entry: %w", err)
		}
		pool.Entries = append(pool.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pool entries: %w", err)
	}
	return pool, nil
}

// ApplyOutcome marks every entry won, lost or refunded and moves the prediction
// to settled or refunded in one transaction.
func (s *Store) ApplyOutcome(ctx context.Context, predictionID, winningOptionID string, refund bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status := PredictionSettled
	if refund {
		status = PredictionRefunded
		if _, err := tx.ExecContext(ctx, `
			UPDATE entries SET status = ? WHERE prediction_id = ?
		`, EntryRefunded, predictionID); err != nil {
			return fmt.Errorf("failed to refund entries: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE entries SET status = CASE WHEN option_id = ? THEN ? ELSE ? END
			WHERE prediction_id = ?
		`, winningOptionID, EntryWon, EntryLost, predictionID); err != nil {
			return fmt.Errorf("failed to mark entries: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE predictions SET status = ?, updated_at = ? WHERE id = ?
	`, status, toMicros(s.now()), predictionID); err != nil {
		return fmt.Errorf("failed to update prediction status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
