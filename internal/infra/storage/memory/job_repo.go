package memory

import (
	"context"
	"time"

	"github.com/neviso/core/internal/core/domain"
)

type jobRepo struct{ s *Store }

func (r *jobRepo) Create(_ context.Context, j *domain.Job) error {
	r.s.lock()
	defer r.s.unlock()
	if j.AddedAt.IsZero() {
		j.AddedAt = time.Now().UTC()
	}
	cp := *j
	r.s.data.jobs[j.ID] = &cp
	return nil
}

func (r *jobRepo) Get(_ context.Context, id string) (*domain.Job, error) {
	r.s.lock()
	defer r.s.unlock()
	j, ok := r.s.data.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *jobRepo) Delete(_ context.Context, id string) error {
	r.s.lock()
	defer r.s.unlock()
	delete(r.s.data.jobs, id)
	delete(r.s.data.artifacts, id)
	return nil
}

func (r *jobRepo) MarkProcessing(_ context.Context, id string, startedAt time.Time) (bool, error) {
	r.s.lock()
	defer r.s.unlock()
	j, ok := r.s.data.jobs[id]
	if !ok || j.Status != domain.JobStatusWaiting {
		return false, nil
	}
	j.Status = domain.JobStatusProcessing
	t := startedAt
	j.StartedAt = &t
	return true, nil
}

func (r *jobRepo) MarkFinished(_ context.Context, id string, status domain.JobStatus, completedAt time.Time, errMsg, errCategory string) error {
	r.s.lock()
	defer r.s.unlock()
	j, ok := r.s.data.jobs[id]
	if !ok {
		return nil
	}
	j.Status = status
	t := completedAt
	j.CompletedAt = &t
	if errMsg != "" {
		j.ErrorMessage = errMsg
	}
	if errCategory != "" {
		j.ErrorCategory = errCategory
	}
	return nil
}

func (r *jobRepo) MarkWaitingRetry(_ context.Context, id string, priority int) error {
	r.s.lock()
	defer r.s.unlock()
	j, ok := r.s.data.jobs[id]
	if !ok {
		return nil
	}
	j.RetryCount++
	j.Priority = priority
	j.Status = domain.JobStatusWaiting
	return nil
}

func (r *jobRepo) StaleProcessing(_ context.Context, cutoff time.Time) ([]*domain.Job, error) {
	r.s.lock()
	defer r.s.unlock()
	var res []*domain.Job
	for _, j := range r.s.data.jobs {
		if j.Status == domain.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			cp := *j
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (r *jobRepo) CountByStatus(_ context.Context) (map[domain.JobStatus]int, error) {
	r.s.lock()
	defer r.s.unlock()
	res := make(map[domain.JobStatus]int)
	for _, j := range r.s.data.jobs {
		res[j.Status]++
	}
	return res, nil
}

func (r *jobRepo) Artifacts(_ context.Context, jobID string) ([]*domain.ArtifactRef, error) {
	r.s.lock()
	defer r.s.unlock()
	arts := r.s.data.artifacts[jobID]
	res := make([]*domain.ArtifactRef, 0, len(arts))
	for _, a := range arts {
		cp := *a
		res = append(res, &cp)
	}
	return res, nil
}

func (r *jobRepo) AddArtifact(_ context.Context, a *domain.ArtifactRef) error {
	r.s.lock()
	defer r.s.unlock()
	a.ID = r.s.data.nextArtID
	r.s.data.nextArtID++
	cp := *a
	r.s.data.artifacts[a.JobID] = append(r.s.data.artifacts[a.JobID], &cp)
	return nil
}
