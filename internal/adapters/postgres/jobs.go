package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"secmap/internal/ports"
)

// Enqueue queues one rebuild job for the organization. A queued or running
// job for the same organization is reused instead of duplicated, which keeps
// delete-then-replay serialized per subject.
func (db *DB) Enqueue(ctx context.Context, organizationID int64) (string, error) {
	var existing string
	err := db.Pool.QueryRow(ctx, `
		SELECT id FROM rebuild_jobs
		WHERE organization_id = $1 AND status IN ('queued', 'running')
		ORDER BY queued_at
		LIMIT 1
	`, organizationID).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	jobID := uuid.NewString()
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO rebuild_jobs (id, organization_id, status) VALUES ($1, $2, 'queued')
	`, jobID, organizationID)
	return jobID, err
}

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job ports.RebuildJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id, organization_id FROM rebuild_jobs
		WHERE status = 'queued'
		ORDER BY queued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&job.ID, &job.OrganizationID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE rebuild_jobs SET status='running', started_at=now(), attempts=attempts+1 WHERE id=$1
	`, job.ID); err != nil {
		return job, false, err
	}
	return job, true, nil
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.Pool.Exec(ctx, `
		UPDATE rebuild_jobs SET status='completed', finished_at=now() WHERE id=$1
	`, jobID)
	return err
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.Pool.Exec(ctx, `
		UPDATE rebuild_jobs SET status='failed', finished_at=now(), failure_reason=$2 WHERE id=$1
	`, jobID, reason)
	return err
}

// StartJobForOrganization claims the queued job of a specific organization,
// enqueueing one if none exists, and marks it running. Used by the inline
// (--wait) path.
func (db *DB) StartJobForOrganization(ctx context.Context, organizationID int64) (string, error) {
	if _, err := db.Enqueue(ctx, organizationID); err != nil {
		return "", err
	}

	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	var jobID string
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id FROM rebuild_jobs
		WHERE organization_id = $1 AND status = 'queued'
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, organizationID).Scan(&jobID)
	if err != nil {
		return "", err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE rebuild_jobs SET status='running', started_at=now(), attempts=attempts+1 WHERE id=$1
	`, jobID); err != nil {
		return "", err
	}
	return jobID, nil
}
