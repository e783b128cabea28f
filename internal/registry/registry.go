// Package registry holds the in-memory table of active jobs.
package registry

import (
	"sort"
	"sync"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

// Registry is safe for concurrent use. Entries are stored and returned as
// clones, so a reader never observes a partially applied update.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]model.Record
}

func New() *Registry {
	return &Registry{jobs: make(map[string]model.Record)}
}

func (r *Registry) Put(rec model.Record) {
	r.mu.Lock()
	r.jobs[rec.JobID] = rec.Clone()
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (model.Record, bool) {
	r.mu.RLock()
	rec, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return model.Record{}, false
	}
	return rec.Clone(), true
}

// Update applies fn to a copy of the entry and stores the result. It reports
// false, without calling fn, when the job is not registered.
func (r *Registry) Update(id string, fn func(*model.Record)) (model.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[id]
	if !ok {
		return model.Record{}, false
	}
	next := rec.Clone()
	fn(&next)
	next.JobID = id
	r.jobs[id] = next
	return next.Clone(), true
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Snapshot returns every entry, newest start time first.
func (r *Registry) Snapshot() []model.Record {
	r.mu.RLock()
	out := make([]model.Record, 0, len(r.jobs))
	for _, rec := range r.jobs {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
