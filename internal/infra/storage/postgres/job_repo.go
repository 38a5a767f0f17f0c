package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/neviso/core/internal/core/domain"
)

type jobRepo struct {
	q queryer
}

func (r *jobRepo) Create(ctx context.Context, j *domain.Job) error {
	query := `
		INSERT INTO processing_queue
			(id, owner_id, priority, status, retry_count, estimated_cost, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if j.AddedAt.IsZero() {
		j.AddedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, query,
		j.ID, j.OwnerID, j.Priority, j.Status, j.RetryCount, j.EstimatedCost, j.AddedAt)
	return err
}

func (r *jobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	var j domain.Job
	err := r.q.GetContext(ctx, &j, `
		SELECT id, owner_id, priority, status, retry_count, estimated_cost,
		       added_at, started_at, completed_at, error_message, error_category
		FROM processing_queue WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM job_artifacts WHERE job_id = $1`, id); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, `DELETE FROM processing_queue WHERE id = $1`, id)
	return err
}

// MarkProcessing guards the waiting -> processing transition in SQL so
// two racing dispatchers cannot both claim the same entry.
func (r *jobRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE processing_queue
		SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'waiting'
	`, id, startedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *jobRepo) MarkFinished(ctx context.Context, id string, status domain.JobStatus, completedAt time.Time, errMsg, errCategory string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE processing_queue
		SET status = $2, completed_at = $3,
		    error_message = CASE WHEN $4 <> '' THEN $4 ELSE error_message END,
		    error_category = CASE WHEN $5 <> '' THEN $5 ELSE error_category END
		WHERE id = $1
	`, id, status, completedAt, errMsg, errCategory)
	return err
}

func (r *jobRepo) MarkWaitingRetry(ctx context.Context, id string, priority int) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE processing_queue
		SET status = 'waiting', retry_count = retry_count + 1, priority = $2
		WHERE id = $1
	`, id, priority)
	return err
}

func (r *jobRepo) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := r.q.SelectContext(ctx, &jobs, `
		SELECT id, owner_id, priority, status, retry_count, estimated_cost,
		       added_at, started_at, completed_at, error_message, error_category
		FROM processing_queue
		WHERE status = 'processing' AND started_at < $1
	`, cutoff)
	return jobs, err
}

func (r *jobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.q.QueryxContext(ctx, `
		SELECT status, count(*) FROM processing_queue GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r *jobRepo) Artifacts(ctx context.Context, jobID string) ([]*domain.ArtifactRef, error) {
	var arts []*domain.ArtifactRef
	err := r.q.SelectContext(ctx, &arts, `
		SELECT id, job_id, kind, uri, duration_seconds
		FROM job_artifacts WHERE job_id = $1 ORDER BY id ASC
	`, jobID)
	return arts, err
}

func (r *jobRepo) AddArtifact(ctx context.Context, a *domain.ArtifactRef) error {
	return r.q.QueryRowxContext(ctx, `
		INSERT INTO job_artifacts (job_id, kind, uri, duration_seconds)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, a.JobID, a.Kind, a.URI, a.DurationS).Scan(&a.ID)
}
