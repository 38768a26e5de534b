package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordingRow is one journaled recording session.
type RecordingRow struct {
	ID            string     `json:"id"`
	NodeID        int        `json:"node_id"`
	CameraSN      string     `json:"camera_sn"`
	Dataset       string     `json:"dataset"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	FramesWritten int64      `json:"frames_written"`
	FramesDropped int64      `json:"frames_dropped"`
}

// RecordingsRepo journals recording sessions. One row is inserted when a
// session starts and finalized when its worker exits.
type RecordingsRepo struct {
	db *DB
}

// NewRecordingsRepo creates a repository on an open database.
func NewRecordingsRepo(db *DB) *RecordingsRepo {
	return &RecordingsRepo{db: db}
}

// Start inserts a new session row and returns its id.
func (r *RecordingsRepo) Start(ctx context.Context, nodeID int, cameraSN, dataset string) (string, error) {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recordings (id, node_id, camera_sn, dataset, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, nodeID, cameraSN, dataset, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to journal recording start: %w", err)
	}
	return id, nil
}

// Finish records the end of a session with its frame counters.
func (r *RecordingsRepo) Finish(ctx context.Context, id string, written, dropped int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recordings
		SET stopped_at = ?, frames_written = ?, frames_dropped = ?
		WHERE id = ?
	`, time.Now().Unix(), written, dropped, id)
	if err != nil {
		return fmt.Errorf("failed to journal recording stop: %w", err)
	}
	return nil
}

// List returns sessions newest first, bounded by limit (0 means 100).
func (r *RecordingsRepo) List(ctx context.Context, limit int) ([]RecordingRow, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_id, camera_sn, dataset, started_at, stopped_at,
		       frames_written, frames_dropped
		FROM recordings
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var out []RecordingRow
	for rows.Next() {
		var (
			row       RecordingRow
			startedAt int64
			stoppedAt sql.NullInt64
		)
		if err := rows.Scan(&row.ID, &row.NodeID, &row.CameraSN, &row.Dataset,
			&startedAt, &stoppedAt, &row.FramesWritten, &row.FramesDropped); err != nil {
			return nil, err
		}
		row.StartedAt = time.Unix(startedAt, 0)
		if stoppedAt.Valid {
			t := time.Unix(stoppedAt.Int64, 0)
			row.StoppedAt = &t
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ActiveCount returns the number of rows without a stop time.
func (r *RecordingsRepo) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM recordings WHERE stopped_at IS NULL").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active recordings: %w", err)
	}
	return n, nil
}
