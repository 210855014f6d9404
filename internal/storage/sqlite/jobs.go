package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/models"
)

// JobStore is the durable, CAS-protected jobs table the scheduler (K) and
// worker pool (L) depend on. The sqlite connection pool is
// single-connection by design (see connection.go); the mutex below guards
// the check-then-act CAS sequences that span more than one statement.
type JobStore struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

func NewJobStore(db *SQLiteDB, logger arbor.ILogger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

// Insert writes a new queued job row. Fails if the id already exists.
func (s *JobStore) Insert(ctx context.Context, job models.Job) error {
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO jobs (id, task_id, kind, priority, slot, state, input, output, error, queued_at, started_at, finished_at, cause_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)`,
		job.ID, job.TaskID, string(job.Kind), job.Priority, string(job.Slot), string(models.JobStateQueued),
		job.Input, job.Output, job.Error, job.QueuedAt.Unix(), job.CauseID)
	return err
}

// ClaimNext atomically claims the highest-priority, oldest-queued row for
// slot. Exactly one caller wins a given row even under concurrent callers,
// because the select-then-conditional-update sequence is wrapped in a
// transaction against the single-connection pool.
func (s *JobStore) ClaimNext(ctx context.Context, slot models.Slot, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var jobID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE slot = ? AND state = 'queued'
		ORDER BY priority ASC, queued_at ASC
		LIMIT 1`, string(slot)).Scan(&jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'running', started_at = ?
		WHERE id = ? AND state = 'queued'`, now.Unix(), jobID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		// Lost a race to a concurrent claimer (should not happen given the
		// serializing transaction, but the check-then-act pattern stays
		// defensive in case the pool is ever widened).
		return nil, nil
	}

	var job models.Job
	if err := tx.QueryRowContext(ctx, jobSelectColumns+" WHERE id = ?", jobID).Scan(jobScanArgs(&job)...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &job, nil
}

// FinalizeTerminal writes a terminal state under the WHERE state='running'
// predicate. ok=false means a concurrent cancel already won; the caller must
// discard its result.
func (s *JobStore) FinalizeTerminal(ctx context.Context, jobID string, state models.JobState, output, errMsg string, now time.Time) (ok bool, err error) {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET state = ?, output = ?, error = ?, finished_at = ?
		WHERE id = ? AND state = 'running'`,
		string(state), output, errMsg, now.Unix(), jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Cancel transitions a job to cancelled only from {queued, running}.
func (s *JobStore) Cancel(ctx context.Context, jobID string, now time.Time) (bool, error) {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET state = 'cancelled', finished_at = ?
		WHERE id = ? AND state IN ('queued', 'running')`, now.Unix(), jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get returns a job row by id, or nil if it doesn't exist.
func (s *JobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := s.db.DB().QueryRowContext(ctx, jobSelectColumns+" WHERE id = ?", jobID).Scan(jobScanArgs(&job)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// StartupReset forces every {queued, running} row to failed with
// server_restart_reset, exactly once per process start.
// A second call is idempotent: no rows remain in a resettable state.
func (s *JobStore) StartupReset(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET state = 'failed', error = ?, finished_at = ?
		WHERE state IN ('queued', 'running')`, models.ServerRestartResetReason, now.Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("startup_reset: forced stuck jobs to failed")
	}
	return int(n), nil
}

// RunningCountForSlot returns how many jobs currently hold 'running' in slot.
func (s *JobStore) RunningCountForSlot(ctx context.Context, slot models.Slot) (int, error) {
	var n int
	err := s.db.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE slot = ? AND state = 'running'", string(slot)).Scan(&n)
	return n, err
}

// AnyRunningInSlots reports whether any job is running in one of slots, used
// for the {gpu, browser_headful} exclusivity check.
func (s *JobStore) AnyRunningInSlots(ctx context.Context, slots []models.Slot) (bool, error) {
	if len(slots) == 0 {
		return false, nil
	}
	placeholders := ""
	args := make([]interface{}, 0, len(slots))
	for i, sl := range slots {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, string(sl))
	}
	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM jobs WHERE state = 'running' AND slot IN (%s)", placeholders)
	err := s.db.DB().QueryRowContext(ctx, q, args...).Scan(&n)
	return n > 0, err
}

// RecentForTask returns the most recent jobs for a task, newest first.
func (s *JobStore) RecentForTask(ctx context.Context, taskID string, limit int) ([]models.Job, error) {
	rows, err := s.db.DB().QueryContext(ctx, jobSelectColumns+" WHERE task_id = ? ORDER BY queued_at DESC LIMIT ?", taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		if err := rows.Scan(jobScanArgs(&job)...); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// QueueDepthAndRunning reports the queued and running counts for a task.
func (s *JobStore) QueueDepthAndRunning(ctx context.Context, taskID string) (depth int, running int, err error) {
	err = s.db.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FILTER (WHERE state = 'queued'), COUNT(*) FILTER (WHERE state = 'running') FROM jobs WHERE task_id = ?",
		taskID).Scan(&depth, &running)
	return depth, running, err
}

// ExistsCitationGraphForSearch reports whether a citation_graph job already
// references search_id in its input.
func (s *JobStore) ExistsCitationGraphForSearch(ctx context.Context, searchID string) (bool, error) {
	var n int
	err := s.db.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE kind = 'citation_graph' AND input LIKE ?",
		"%"+searchID+"%").Scan(&n)
	return n > 0, err
}

const jobSelectColumns = `SELECT id, task_id, kind, priority, slot, state, input, output, error, queued_at, started_at, finished_at, cause_id FROM jobs`

func jobScanArgs(job *models.Job) []interface{} {
	return []interface{}{
		&job.ID, &job.TaskID, &job.Kind, &job.Priority, &job.Slot, &job.State,
		&job.Input, &job.Output, &job.Error, &unixScanner{&job.QueuedAt},
		&nullUnixScanner{&job.StartedAt}, &nullUnixScanner{&job.FinishedAt}, &job.CauseID,
	}
}

// unixScanner adapts a time.Time field to sqlite's INTEGER-seconds-since-epoch storage.
type unixScanner struct{ t *time.Time }

func (u *unixScanner) Scan(src interface{}) error {
	n, ok := src.(int64)
	if !ok {
		return fmt.Errorf("unixScanner: unsupported type %T", src)
	}
	*u.t = time.Unix(n, 0).UTC()
	return nil
}

// nullUnixScanner adapts a nullable time.Time (*time.Time) field.
type nullUnixScanner struct{ t **time.Time }

func (u *nullUnixScanner) Scan(src interface{}) error {
	if src == nil {
		*u.t = nil
		return nil
	}
	n, ok := src.(int64)
	if !ok {
		return fmt.Errorf("nullUnixScanner: unsupported type %T", src)
	}
	val := time.Unix(n, 0).UTC()
	*u.t = &val
	return nil
}
