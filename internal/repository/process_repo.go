package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hfstack/ai-web-studio/internal/model"
)

// ProcessRepository provides data access for detached-process records.
// The table holds at most one row per port.
type ProcessRepository struct {
	db *sql.DB
}

// NewProcessRepository creates a new ProcessRepository.
func NewProcessRepository(db *sql.DB) *ProcessRepository {
	return &ProcessRepository{db: db}
}

// Save inserts the record, replacing any existing row for its port.
func (r *ProcessRepository) Save(ctx context.Context, rec *model.ProcessRecord) error {
	query := `
		INSERT OR REPLACE INTO processes (port, command, path, pid, start_time, timeout, timer_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.Port,
		rec.Command,
		rec.Path,
		rec.PID,
		rec.StartTime,
		rec.Timeout,
		rec.TimerID,
	)
	if err != nil {
		return fmt.Errorf("failed to save process %d: %w", rec.Port, err)
	}

	return nil
}

// Get retrieves the record for a port.
func (r *ProcessRepository) Get(ctx context.Context, port int) (*model.ProcessRecord, error) {
	query := `
		SELECT port, command, path, pid, start_time, timeout, timer_id
		FROM processes
		WHERE port = ?
	`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, port))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrProcessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get process: %w", err)
	}

	return rec, nil
}

// List retrieves all records ordered by port.
func (r *ProcessRepository) List(ctx context.Context) ([]*model.ProcessRecord, error) {
	query := `
		SELECT port, command, path, pid, start_time, timeout, timer_id
		FROM processes
		ORDER BY port
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	var records []*model.ProcessRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processes: %w", err)
	}

	return records, nil
}

// Delete removes the record for a port.
func (r *ProcessRepository) Delete(ctx context.Context, port int) error {
	query := `DELETE FROM processes WHERE port = ?`

	result, err := r.db.ExecContext(ctx, query, port)
	if err != nil {
		return fmt.Errorf("failed to delete process: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrProcessNotFound
	}

	return nil
}

// DeleteIfPID removes the record for a port only while it still names pid.
// It reports whether a row was removed.
func (r *ProcessRepository) DeleteIfPID(ctx context.Context, port, pid int) (bool, error) {
	query := `DELETE FROM processes WHERE port = ? AND pid = ?`

	result, err := r.db.ExecContext(ctx, query, port, pid)
	if err != nil {
		return false, fmt.Errorf("failed to delete process: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// DeleteExpired removes every record whose start_time + timeout is before
// now and returns the number removed.
func (r *ProcessRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM processes WHERE start_time + timeout < ?`

	result, err := r.db.ExecContext(ctx, query, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired processes: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// UpdateTimerID records the expiry timer armed for a port.
func (r *ProcessRepository) UpdateTimerID(ctx context.Context, port int, timerID int64) error {
	query := `UPDATE processes SET timer_id = ? WHERE port = ?`

	result, err := r.db.ExecContext(ctx, query, timerID, port)
	if err != nil {
		return fmt.Errorf("failed to update timer id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrProcessNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.ProcessRecord, error) {
	rec := &model.ProcessRecord{}
	var path sql.NullString
	var timerID sql.NullInt64

	if err := row.Scan(
		&rec.Port,
		&rec.Command,
		&path,
		&rec.PID,
		&rec.StartTime,
		&rec.Timeout,
		&timerID,
	); err != nil {
		return nil, err
	}

	if path.Valid {
		rec.Path = path.String
	}

	if timerID.Valid {
		id := timerID.Int64
		rec.TimerID = &id
	}

	return rec, nil
}
