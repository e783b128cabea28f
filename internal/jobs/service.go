// Package jobs accepts translation submissions, runs them against the
// engine, and serves owner-scoped reads of job state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/babeldoc-web/api-go/internal/blob"
	"github.com/example/babeldoc-web/api-go/internal/broadcast"
	"github.com/example/babeldoc-web/api-go/internal/engine"
	"github.com/example/babeldoc-web/api-go/internal/history"
	"github.com/example/babeldoc-web/api-go/internal/model"
	"github.com/example/babeldoc-web/api-go/internal/registry"
)

const (
	stageInit     = "initializing"
	stageFinished = "finished"
)

type Options struct {
	Engine      engine.Engine
	Registry    *registry.Registry
	History     *history.Synchronizer
	Broadcaster *broadcast.Broadcaster

	Uploads    blob.LocalFS
	Glossaries blob.LocalFS
	Outputs    blob.LocalFS

	// EvictAfter is how long a finished job stays in the registry.
	EvictAfter time.Duration
	// MaxDuration bounds a single engine run. Zero means no limit.
	MaxDuration time.Duration

	Log logrus.FieldLogger
}

type Service struct {
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Service {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		opts:   opts,
		log:    log,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit validates sub, registers a running job for owner and starts its
// runner. It returns the new job id.
func (s *Service) Submit(ctx context.Context, owner string, sub model.Submission) (string, error) {
	if err := validate(sub); err != nil {
		return "", err
	}

	filename := sub.FileID + ".pdf"
	if !s.opts.Uploads.Exists(filename) {
		return "", fmt.Errorf("upload %s: %w", sub.FileID, model.ErrNotFound)
	}
	input, err := s.opts.Uploads.Path(filename)
	if err != nil {
		return "", err
	}

	glossaries := make([]string, 0, len(sub.GlossaryIDs))
	for _, id := range sub.GlossaryIDs {
		name := id + ".csv"
		if !s.opts.Glossaries.Exists(name) {
			return "", fmt.Errorf("glossary %s: %w", id, model.ErrNotFound)
		}
		p, err := s.opts.Glossaries.Path(name)
		if err != nil {
			return "", err
		}
		glossaries = append(glossaries, p)
	}

	id := uuid.NewString()
	outputDir, err := s.opts.Outputs.Path(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	rec := model.Record{
		JobID:      id,
		OwnerID:    owner,
		Filename:   filename,
		SourceLang: sub.SourceLang,
		TargetLang: sub.TargetLang,
		Model:      sub.Model,
		Stage:      stageInit,
		Config:     sub.Params(),
		StartTime:  s.now(),
	}
	rec = s.opts.History.Sanitize(rec)
	s.opts.Registry.Put(rec)
	_ = s.opts.History.Upsert(ctx, rec)

	req := engine.Request{
		JobID:         id,
		InputPath:     input,
		OutputDir:     outputDir,
		GlossaryPaths: glossaries,
		Submission:    sub,
	}

	s.wg.Add(1)
	go s.run(rec, req)

	s.log.WithFields(logrus.Fields{
		"job_id": id,
		"owner":  owner,
		"file":   filename,
		"model":  sub.Model,
	}).Info("translation started")
	return id, nil
}

func validate(sub model.Submission) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"file_id", sub.FileID},
		{"lang_in", sub.SourceLang},
		{"lang_out", sub.TargetLang},
		{"model", sub.Model},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), model.ErrInvalid)
	}
	if sub.NoMono && sub.NoDual {
		return fmt.Errorf("no_mono and no_dual leave nothing to produce: %w", model.ErrInvalid)
	}
	if sub.QPS < 0 {
		return fmt.Errorf("qps must not be negative: %w", model.ErrInvalid)
	}
	return nil
}

// Status returns the current state of a job owned by owner. Jobs of other
// owners are reported as not found. An empty owner sees every job.
func (s *Service) Status(ctx context.Context, owner, id string) (model.Record, error) {
	rec, err := s.opts.History.Lookup(ctx, id)
	if err != nil {
		return model.Record{}, err
	}
	if owner != "" && rec.OwnerID != owner {
		return model.Record{}, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, owner string) ([]model.Record, error) {
	return s.opts.History.List(ctx, owner)
}

// Delete removes a job record. A runner still working on it keeps writing
// to the store.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if _, err := s.Status(ctx, owner, id); err != nil {
		return err
	}
	existed, err := s.opts.History.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	s.opts.Broadcaster.Unsubscribe(id)
	return nil
}

// DeleteMany removes the jobs of owner among ids and returns how many were
// deleted. Ids of other owners are skipped.
func (s *Service) DeleteMany(ctx context.Context, owner string, ids []string) (int, error) {
	owned := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := s.Status(ctx, owner, id); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return 0, err
		}
		owned = append(owned, id)
	}
	n, err := s.opts.History.DeleteMany(ctx, owned)
	if err != nil {
		return 0, err
	}
	for _, id := range owned {
		s.opts.Broadcaster.Unsubscribe(id)
	}
	return n, nil
}

// Wait blocks until every started runner has returned.
func (s *Service) Wait() { s.wg.Wait() }

// Shutdown cancels running jobs and waits for their runners, up to ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FileStatus reports which artifacts of a completed job are still on disk.
type FileStatus struct {
	MonoExists bool  `json:"mono_exists"`
	DualExists bool  `json:"dual_exists"`
	MonoSize   int64 `json:"mono_size"`
	DualSize   int64 `json:"dual_size"`
}

func Files(rec model.Record) FileStatus {
	var fs FileStatus
	res, ok := rec.Result()
	if !ok {
		return fs
	}
	fs.MonoExists, fs.MonoSize = statFile(res.MonoPath)
	fs.DualExists, fs.DualSize = statFile(res.DualPath)
	return fs
}

func statFile(p string) (bool, int64) {
	if p == "" {
		return false, 0
	}
	info, err := os.Stat(filepath.FromSlash(p))
	if err != nil || !info.Mode().IsRegular() {
		return false, 0
	}
	return true, info.Size()
}
