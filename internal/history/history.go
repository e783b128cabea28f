// Package history keeps the durable store in step with the in-memory
// registry and serves reads that merge the two.
package history

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/example/babeldoc-web/api-go/internal/model"
	"github.com/example/babeldoc-web/api-go/internal/registry"
	"github.com/example/babeldoc-web/api-go/internal/sanitize"
	"github.com/example/babeldoc-web/api-go/internal/store"
)

// Store is the durable side. *store.SQLite implements it.
type Store interface {
	Upsert(ctx context.Context, rec model.Record) error
	Get(ctx context.Context, id string) (model.Record, error)
	List(ctx context.Context, f store.Filter) ([]model.Record, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
}

type Synchronizer struct {
	store    Store
	registry *registry.Registry
	sanitize *sanitize.Sanitizer
	log      logrus.FieldLogger
}

func New(st Store, reg *registry.Registry, san *sanitize.Sanitizer, log logrus.FieldLogger) *Synchronizer {
	if san == nil {
		san = sanitize.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Synchronizer{store: st, registry: reg, sanitize: san, log: log}
}

// Upsert writes a sanitized copy of rec. A failure is logged here; callers
// driving a job ignore the returned error and carry on with in-memory state.
func (s *Synchronizer) Upsert(ctx context.Context, rec model.Record) error {
	if err := s.store.Upsert(ctx, s.sanitize.Record(rec)); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"job_id": rec.JobID,
			"status": rec.Status(),
		}).Warn("history sync failed")
		return err
	}
	return nil
}

// Sanitize returns rec without secrets, for callers that hold records
// outside the store.
func (s *Synchronizer) Sanitize(rec model.Record) model.Record {
	return s.sanitize.Record(rec)
}

// Get reads one record from the durable store.
func (s *Synchronizer) Get(ctx context.Context, id string) (model.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Record{}, err
	}
	return s.sanitize.Record(rec), nil
}

// Lookup prefers the registry and falls back to the store.
func (s *Synchronizer) Lookup(ctx context.Context, id string) (model.Record, error) {
	if rec, ok := s.registry.Get(id); ok {
		return s.sanitize.Record(rec), nil
	}
	return s.Get(ctx, id)
}

// List returns the records of owner ("" for everyone), newest first. Active
// jobs are overlaid from the registry, which may be ahead of the store.
func (s *Synchronizer) List(ctx context.Context, owner string) ([]model.Record, error) {
	stored, err := s.store.List(ctx, store.Filter{OwnerID: owner})
	if err != nil {
		return nil, err
	}

	active := make(map[string]model.Record)
	for _, rec := range s.registry.Snapshot() {
		if owner == "" || rec.OwnerID == owner {
			active[rec.JobID] = rec
		}
	}

	out := make([]model.Record, 0, len(stored)+len(active))
	for _, rec := range stored {
		if live, ok := active[rec.JobID]; ok {
			rec = live
			delete(active, rec.JobID)
		}
		out = append(out, rec)
	}

	// Entries whose first write never reached the store.
	missing := make([]model.Record, 0, len(active))
	for _, rec := range active {
		missing = append(missing, rec)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].StartTime.After(missing[j].StartTime) })

	return s.sanitize.Records(append(missing, out...)), nil
}

// Delete removes the job from the store and the registry and reports whether
// either held it.
func (s *Synchronizer) Delete(ctx context.Context, id string) (bool, error) {
	_, active := s.registry.Get(id)
	s.registry.Remove(id)
	existed, err := s.store.Delete(ctx, id)
	if err != nil {
		return active, err
	}
	return existed || active, nil
}

func (s *Synchronizer) DeleteMany(ctx context.Context, ids []string) (int, error) {
	for _, id := range ids {
		s.registry.Remove(id)
	}
	return s.store.DeleteMany(ctx, ids)
}
