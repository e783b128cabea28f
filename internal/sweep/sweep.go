// Package sweep reconciles job history with the artifacts on disk.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/example/babeldoc-web/api-go/internal/blob"
	"github.com/example/babeldoc-web/api-go/internal/model"
)

// Records is the history the sweep reads and prunes.
type Records interface {
	List(ctx context.Context, owner string) ([]model.Record, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
}

type IssueKind string

const (
	PermissionError IssueKind = "permission_error"
	FileNotFound    IssueKind = "file_not_found"
	UnknownError    IssueKind = "unknown_error"
)

// Issue is a per-item failure. Detail carries the underlying error, if any.
type Issue struct {
	Kind    IssueKind `json:"type"`
	Path    string    `json:"file"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

type OrphanRecord struct {
	JobID       string `json:"job_id"`
	Filename    string `json:"filename"`
	MonoMissing bool   `json:"mono_missing"`
	DualMissing bool   `json:"dual_missing"`
}

type Options struct {
	DeleteOrphanFiles   bool `json:"delete_orphan_files"`
	DeleteOrphanRecords bool `json:"delete_orphan_records"`
}

type Report struct {
	OrphanFiles    []string       `json:"orphan_files"`
	OrphanRecords  []OrphanRecord `json:"orphan_records"`
	DeletedFiles   int            `json:"deleted_files"`
	DeletedRecords int            `json:"deleted_records"`
	Errors         []Issue        `json:"errors"`
	Warnings       []Issue        `json:"warnings"`
}

type Sweeper struct {
	Records Records
	Outputs blob.LocalFS
	// Ext selects artifact files, e.g. ".pdf".
	Ext string
	Log logrus.FieldLogger
}

func (s Sweeper) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

// Run finds orphan files under the output root and completed records of
// owner ("" for all) whose artifacts are gone. Nothing is removed unless the
// matching option is set.
func (s Sweeper) Run(ctx context.Context, owner string, opts Options) (Report, error) {
	log := s.logger().WithField("owner", owner)
	report := Report{
		OrphanFiles:   []string{},
		OrphanRecords: []OrphanRecord{},
		Errors:        []Issue{},
		Warnings:      []Issue{},
	}

	// Files are referenced by any owner's history, so one owner's sweep
	// cannot claim another owner's artifacts.
	all, err := s.Records.List(ctx, "")
	if err != nil {
		return report, fmt.Errorf("list history: %w", err)
	}
	referenced := make(map[string]struct{})
	for _, rec := range all {
		res, ok := rec.Result()
		if !ok {
			continue
		}
		for _, p := range res.Paths() {
			referenced[normalize(p)] = struct{}{}
		}
	}

	files, err := s.Outputs.Walk(s.Ext)
	if err != nil {
		return report, fmt.Errorf("scan outputs: %w", err)
	}
	for _, f := range files {
		if _, ok := referenced[normalize(f.Path)]; !ok {
			report.OrphanFiles = append(report.OrphanFiles, f.Path)
		}
	}
	sort.Strings(report.OrphanFiles)

	for _, rec := range all {
		if owner != "" && rec.OwnerID != owner {
			continue
		}
		res, ok := rec.Result()
		if !ok {
			continue
		}
		monoMissing, err := missing(res.MonoPath)
		if err != nil {
			report.Errors = append(report.Errors, statIssue(res.MonoPath, err))
			continue
		}
		dualMissing, err := missing(res.DualPath)
		if err != nil {
			report.Errors = append(report.Errors, statIssue(res.DualPath, err))
			continue
		}
		if monoMissing || dualMissing {
			report.OrphanRecords = append(report.OrphanRecords, OrphanRecord{
				JobID:       rec.JobID,
				Filename:    rec.Filename,
				MonoMissing: monoMissing,
				DualMissing: dualMissing,
			})
		}
	}

	if opts.DeleteOrphanFiles {
		for _, path := range report.OrphanFiles {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if issue, failed := s.removeFile(path); failed {
				if issue.Kind == FileNotFound {
					report.Warnings = append(report.Warnings, issue)
				} else {
					report.Errors = append(report.Errors, issue)
				}
				continue
			}
			report.DeletedFiles++
		}
	}

	if opts.DeleteOrphanRecords && len(report.OrphanRecords) > 0 {
		ids := make([]string, 0, len(report.OrphanRecords))
		for _, r := range report.OrphanRecords {
			ids = append(ids, r.JobID)
		}
		n, err := s.Records.DeleteMany(ctx, ids)
		if err != nil {
			report.Errors = append(report.Errors, Issue{
				Kind:    UnknownError,
				Message: "failed to delete orphan records",
				Detail:  err.Error(),
			})
		} else {
			report.DeletedRecords = n
		}
	}

	log.WithFields(logrus.Fields{
		"orphan_files":    len(report.OrphanFiles),
		"orphan_records":  len(report.OrphanRecords),
		"deleted_files":   report.DeletedFiles,
		"deleted_records": report.DeletedRecords,
		"errors":          len(report.Errors),
	}).Info("sweep finished")
	return report, nil
}

func (s Sweeper) removeFile(path string) (Issue, bool) {
	err := s.Outputs.Remove(path)
	switch {
	case err == nil:
		return Issue{}, false
	case errors.Is(err, fs.ErrNotExist):
		return Issue{Kind: FileNotFound, Path: path, Message: "file no longer exists: " + filepath.Base(path)}, true
	case errors.Is(err, fs.ErrPermission):
		return Issue{Kind: PermissionError, Path: path, Message: "file is in use or not writable: " + filepath.Base(path)}, true
	default:
		s.logger().WithError(err).WithField("path", path).Error("delete orphan file")
		return Issue{
			Kind:    UnknownError,
			Path:    path,
			Message: "unexpected error deleting " + filepath.Base(path),
			Detail:  err.Error(),
		}, true
	}
}

// StatusStats is the count and on-disk size of jobs in one status.
type StatusStats struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

type Stats struct {
	TotalFiles int                             `json:"total_files"`
	TotalSize  int64                           `json:"total_size"`
	ByStatus   map[model.JobStatus]StatusStats `json:"by_status"`
}

// Stats counts owner's jobs by status and sums the sizes of artifacts that
// still exist for completed ones.
func (s Sweeper) Stats(ctx context.Context, owner string) (Stats, error) {
	recs, err := s.Records.List(ctx, owner)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByStatus: map[model.JobStatus]StatusStats{
		model.JobCompleted: {},
		model.JobRunning:   {},
		model.JobError:     {},
	}}
	for _, rec := range recs {
		bucket := st.ByStatus[rec.Status()]
		bucket.Count++
		if res, ok := rec.Result(); ok {
			for _, p := range res.Paths() {
				info, err := os.Stat(filepath.FromSlash(p))
				if err != nil || !info.Mode().IsRegular() {
					continue
				}
				bucket.Size += info.Size()
				st.TotalSize += info.Size()
				st.TotalFiles++
			}
		}
		st.ByStatus[rec.Status()] = bucket
	}
	return st, nil
}

func normalize(p string) string {
	native := filepath.FromSlash(p)
	if abs, err := filepath.Abs(native); err == nil {
		return abs
	}
	return filepath.Clean(native)
}

// missing reports whether p is gone. Stat failures other than not-exist are
// returned, never treated as missing.
func missing(p string) (bool, error) {
	if p == "" {
		return false, nil
	}
	_, err := os.Stat(filepath.FromSlash(p))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, fs.ErrNotExist):
		return true, nil
	default:
		return false, err
	}
}

func statIssue(path string, err error) Issue {
	kind := UnknownError
	if errors.Is(err, fs.ErrPermission) {
		kind = PermissionError
	}
	return Issue{
		Kind:    kind,
		Path:    path,
		Message: "cannot check " + filepath.Base(path),
		Detail:  err.Error(),
	}
}
