package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// ---------------------------------------------------------------------------
// Execution queue
// ---------------------------------------------------------------------------

// Queue states
const (
	QueueQueued  = "queued"
	QueueClaimed = "claimed"
	QueueDone    = "done"
	QueueFailed  = "failed"
)

// QueuedExecution is a request to execute an entry in the background.
type QueuedExecution struct {
	ID         int64   `json:"id"`
	EntryID    string  `json:"entry_id"`
	State      string  `json:"state"`
	Error      *string `json:"error,omitempty"`
	EnqueuedAt string  `json:"enqueued_at"`
	ClaimedAt  *string `json:"claimed_at,omitempty"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// EnqueueExecution queues an entry for background execution.
func (s *Store) EnqueueExecution(ctx context.Context, entryID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_queue (entry_id, state, enqueued_at) VALUES (?, ?, ?)`,
		entryID, QueueQueued, model.Now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ClaimNextExecution atomically picks the oldest queued execution and marks
// it claimed. Returns nil if the queue is empty.
func (s *Store) ClaimNextExecution(ctx context.Context) (*QueuedExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE execution_queue SET state = ?, claimed_at = ?
		WHERE id = (SELECT id FROM execution_queue WHERE state = ? ORDER BY id ASC LIMIT 1)
		RETURNING id, entry_id, state, error, enqueued_at, claimed_at, finished_at`,
		QueueClaimed, model.Now(), QueueQueued,
	)
	var q QueuedExecution
	err := row.Scan(&q.ID, &q.EntryID, &q.State, &q.Error, &q.EnqueuedAt, &q.ClaimedAt, &q.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// FinishExecution marks a claimed execution done, or failed when errText is
// set.
func (s *Store) FinishExecution(ctx context.Context, id int64, errText *string) error {
	state := QueueDone
	if errText != nil {
		state = QueueFailed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE execution_queue SET state = ?, error = ?, finished_at = ? WHERE id = ?`,
		state, errText, model.Now(), id)
	return err
}

// RequeueClaimed returns claimed executions to the queue (for server restart).
func (s *Store) RequeueClaimed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_queue SET state = ?, claimed_at = NULL WHERE state = ?`, QueueQueued, QueueClaimed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FailStaleRunning marks entries left running by a previous process as
// failed with reason recorded as the execution error.
func (s *Store) FailStaleRunning(ctx context.Context, reason string) (int64, error) {
	now := model.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries SET status = ?, updated_at = ?,
			execution = json_set(COALESCE(execution, '{}'), '$.status', ?, '$.error', ?, '$.completed_at', ?)
		WHERE status = ?`,
		model.StatusFailed, now, model.ExecutionError, reason, now, model.StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetExecution returns one queue row.
func (s *Store) GetExecution(ctx context.Context, id int64) (*QueuedExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entry_id, state, error, enqueued_at, claimed_at, finished_at FROM execution_queue WHERE id = ?`, id)
	var q QueuedExecution
	err := row.Scan(&q.ID, &q.EntryID, &q.State, &q.Error, &q.EnqueuedAt, &q.ClaimedAt, &q.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("execution", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}
