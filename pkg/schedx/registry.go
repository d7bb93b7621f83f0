package schedx

import (
	"context"
	"sync"
)

// WorkFunc executes one job's opaque payload. Return nil on success, an
// error to trigger classification and retry handling. A WorkFunc may keep
// running after its deadline fires; the scheduler only stops waiting, so
// work must be idempotent or side-effect safe.
type WorkFunc func(ctx context.Context, job *Job) error

// ValidateFunc checks a job's config before any execution attempt. A
// returned error rejects the job as a terminal validation failure without
// consuming a retry attempt.
type ValidateFunc func(job *Job) error

type registration struct {
	work     WorkFunc
	validate ValidateFunc
}

// Registry maps job types to their injected work functions. The scheduling
// core never branches on what a job does; all domain logic enters through
// here at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty work-function registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// RegisterOption configures one registration.
type RegisterOption func(*registration)

// WithValidator attaches a structural validator for the job type.
func WithValidator(v ValidateFunc) RegisterOption {
	return func(r *registration) {
		r.validate = v
	}
}

// Register adds the work function for a job type, replacing any previous
// registration.
func (r *Registry) Register(jobType string, work WorkFunc, opts ...RegisterOption) {
	reg := registration{work: work}
	for _, o := range opts {
		o(&reg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[jobType] = reg
}

// Resolve returns the work function for a job type.
func (r *Registry) Resolve(jobType string) (WorkFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[jobType]
	return reg.work, ok
}

// Validate runs the job type's validator, if one is registered.
func (r *Registry) Validate(job *Job) error {
	r.mu.RLock()
	reg, ok := r.entries[job.JobType]
	r.mu.RUnlock()
	if !ok || reg.validate == nil {
		return nil
	}
	return reg.validate(job)
}

// Types returns the registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}
