package model

import (
	"errors"
	"maps"
	"path/filepath"
	"time"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid request")
)

// Outcome is the terminal part of a job. A running job has a nil Outcome;
// Completed and Failed are the only implementations.
type Outcome interface {
	Status() JobStatus
	Ended() time.Time
	outcome()
}

// Completed carries the result of a job that finished successfully.
type Completed struct {
	Result  Result
	EndTime time.Time
}

func (Completed) Status() JobStatus  { return JobCompleted }
func (c Completed) Ended() time.Time { return c.EndTime }
func (Completed) outcome()           {}

// Failed carries the error message of a job that terminated abnormally.
type Failed struct {
	Error   string
	EndTime time.Time
}

func (Failed) Status() JobStatus  { return JobError }
func (f Failed) Ended() time.Time { return f.EndTime }
func (Failed) outcome()           {}

// Result describes the artifacts produced by the engine.
//
// Paths are kept in slash form so they round-trip through JSON and the
// database unchanged on every platform.
type Result struct {
	MonoPath        string  `json:"mono_pdf_path,omitempty"`
	DualPath        string  `json:"dual_pdf_path,omitempty"`
	TotalSeconds    float64 `json:"total_seconds"`
	PeakMemoryUsage float64 `json:"peak_memory_usage"`
}

// Paths returns the non-empty artifact paths.
func (r Result) Paths() []string {
	var out []string
	if r.MonoPath != "" {
		out = append(out, r.MonoPath)
	}
	if r.DualPath != "" {
		out = append(out, r.DualPath)
	}
	return out
}

// PortablePath converts a native path into the stored slash form.
func PortablePath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.ToSlash(p)
}

// Record is one translation job, from submission to terminal outcome.
type Record struct {
	JobID      string
	OwnerID    string
	Filename   string
	SourceLang string
	TargetLang string
	Model      string
	Progress   int
	Stage      string
	Message    string
	Config     map[string]any
	StartTime  time.Time
	Outcome    Outcome
}

func (r Record) Status() JobStatus {
	if r.Outcome == nil {
		return JobRunning
	}
	return r.Outcome.Status()
}

func (r Record) Terminal() bool { return r.Outcome != nil }

// Result returns the completed result, if any.
func (r Record) Result() (Result, bool) {
	c, ok := r.Outcome.(Completed)
	return c.Result, ok
}

// ErrorMessage returns the failure message, if any.
func (r Record) ErrorMessage() (string, bool) {
	f, ok := r.Outcome.(Failed)
	return f.Error, ok
}

// EndTime returns the terminal transition time, or the zero time while running.
func (r Record) EndTime() time.Time {
	if r.Outcome == nil {
		return time.Time{}
	}
	return r.Outcome.Ended()
}

// Clone returns a copy that shares no mutable state with r.
func (r Record) Clone() Record {
	out := r
	out.Config = cloneMap(r.Config)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			out[k] = append([]any(nil), vv...)
		case []string:
			out[k] = append([]string(nil), vv...)
		}
	}
	return out
}

// Submission is the validated job configuration handed over by the HTTP layer.
type Submission struct {
	FileID      string   `json:"file_id"`
	SourceLang  string   `json:"lang_in"`
	TargetLang  string   `json:"lang_out"`
	Model       string   `json:"model"`
	APIKey      string   `json:"api_key"`
	BaseURL     string   `json:"base_url,omitempty"`
	Pages       string   `json:"pages,omitempty"`
	QPS         int      `json:"qps,omitempty"`
	NoMono      bool     `json:"no_mono"`
	NoDual      bool     `json:"no_dual"`
	Debug       bool     `json:"debug"`
	GlossaryIDs []string `json:"glossary_ids"`
}

// Params returns the submission as the config map persisted with the record.
// Secrets are still present; callers sanitize before storing.
func (s Submission) Params() map[string]any {
	glossaries := make([]any, 0, len(s.GlossaryIDs))
	for _, id := range s.GlossaryIDs {
		glossaries = append(glossaries, id)
	}
	params := map[string]any{
		"file_id":      s.FileID,
		"lang_in":      s.SourceLang,
		"lang_out":     s.TargetLang,
		"model":        s.Model,
		"api_key":      s.APIKey,
		"qps":          s.QPS,
		"no_mono":      s.NoMono,
		"no_dual":      s.NoDual,
		"debug":        s.Debug,
		"glossary_ids": glossaries,
	}
	if s.BaseURL != "" {
		params["base_url"] = s.BaseURL
	}
	if s.Pages != "" {
		params["pages"] = s.Pages
	}
	return params
}

type EventType string

const (
	EventProgress EventType = "progress_update"
	EventFinish   EventType = "finish"
	EventError    EventType = "error"
)

// Event is one message of the engine's progress stream. It is forwarded to
// subscribers verbatim.
type Event struct {
	Type            EventType `json:"type"`
	OverallProgress float64   `json:"overall_progress,omitempty"`
	Stage           string    `json:"stage,omitempty"`
	Message         string    `json:"message,omitempty"`
	Error           string    `json:"error,omitempty"`
	Result          *Result   `json:"translate_result,omitempty"`
}
