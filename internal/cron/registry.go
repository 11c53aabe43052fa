package cron

import (
	"context"
	"time"
)

// Job is one unit of scheduled maintenance: webhook replay, retention,
// token refresh.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Periodic jobs run at most once per Cadence instead of on every tick.
type Periodic interface {
	Cadence() time.Duration
}

// Registry keeps jobs in registration order and remembers when each last ran.
type Registry struct {
	jobs    []Job
	lastRun map[string]time.Time
}

// NewRegistry drops nil jobs and later jobs that reuse a name.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{lastRun: map[string]time.Time{}}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register adds job unless it is nil or its name is taken; it reports
// whether the job was added.
func (r *Registry) Register(job Job) bool {
	if job == nil {
		return false
	}
	for _, existing := range r.jobs {
		if existing.Name() == job.Name() {
			return false
		}
	}
	r.jobs = append(r.jobs, job)
	return true
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Due returns the jobs that should run at now.
func (r *Registry) Due(now time.Time) []Job {
	due := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		p, ok := job.(Periodic)
		if !ok || p.Cadence() <= 0 {
			due = append(due, job)
			continue
		}
		last, ran := r.lastRun[job.Name()]
		if !ran || now.Sub(last) >= p.Cadence() {
			due = append(due, job)
		}
	}
	return due
}

// MarkRun records a completed attempt, successful or not.
func (r *Registry) MarkRun(name string, at time.Time) {
	r.lastRun[name] = at
}
