package cron

import (
	"context"
	"slices"
)

// Job is one unit of scheduled work. Name doubles as the metric label and
// the log field, so it must be stable across deploys.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry is the ordered job list of one cron service. Jobs run in
// registration order; registering a name twice replaces the earlier job in
// its original slot.
type Registry struct {
	jobs []Job
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register adds job, ignoring nil.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	idx := slices.IndexFunc(r.jobs, func(existing Job) bool { return existing.Name() == job.Name() })
	if idx >= 0 {
		r.jobs[idx] = job
		return
	}
	r.jobs = append(r.jobs, job)
}

func (r *Registry) Jobs() []Job {
	return slices.Clone(r.jobs)
}

// Names lists job names for the startup log.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}
