package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// recordJSON is the wire and legacy-history shape of a Record.
type recordJSON struct {
	JobID      string         `json:"job_id"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Status     JobStatus      `json:"status"`
	Filename   string         `json:"filename"`
	SourceLang string         `json:"source_lang"`
	TargetLang string         `json:"target_lang"`
	Model      string         `json:"model"`
	Progress   int            `json:"progress"`
	Stage      string         `json:"stage,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Result     *Result        `json:"result,omitempty"`
	StartTime  string         `json:"start_time"`
	EndTime    string         `json:"end_time,omitempty"`

	// Legacy history files used task_id/user_id.
	TaskID string `json:"task_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

const timeLayout = time.RFC3339Nano

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// ParseTime accepts RFC3339 and the offset-less ISO form older records use.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		JobID:      r.JobID,
		OwnerID:    r.OwnerID,
		Status:     r.Status(),
		Filename:   r.Filename,
		SourceLang: r.SourceLang,
		TargetLang: r.TargetLang,
		Model:      r.Model,
		Progress:   r.Progress,
		Stage:      r.Stage,
		Message:    r.Message,
		Config:     r.Config,
		StartTime:  FormatTime(r.StartTime),
		EndTime:    FormatTime(r.EndTime()),
	}
	switch o := r.Outcome.(type) {
	case Completed:
		res := o.Result
		out.Result = &res
	case Failed:
		out.Error = o.Error
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	rec, err := in.record()
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func (in recordJSON) record() (Record, error) {
	rec := Record{
		JobID:      in.JobID,
		OwnerID:    in.OwnerID,
		Filename:   in.Filename,
		SourceLang: in.SourceLang,
		TargetLang: in.TargetLang,
		Model:      in.Model,
		Progress:   in.Progress,
		Stage:      in.Stage,
		Message:    in.Message,
		Config:     in.Config,
	}
	if rec.JobID == "" {
		rec.JobID = in.TaskID
	}
	if rec.OwnerID == "" {
		rec.OwnerID = in.UserID
	}
	if rec.JobID == "" {
		return Record{}, fmt.Errorf("record without job id: %w", ErrInvalid)
	}

	start, err := ParseTime(in.StartTime)
	if err != nil {
		return Record{}, err
	}
	rec.StartTime = start
	end, err := ParseTime(in.EndTime)
	if err != nil {
		return Record{}, err
	}

	outcome, err := BuildOutcome(in.Status, in.Result, in.Error, end)
	if err != nil {
		return Record{}, err
	}
	rec.Outcome = outcome
	return rec, nil
}

// BuildOutcome rebuilds the terminal state from its flat columns.
func BuildOutcome(status JobStatus, result *Result, errMsg string, end time.Time) (Outcome, error) {
	switch status {
	case JobRunning:
		return nil, nil
	case JobCompleted:
		c := Completed{EndTime: end}
		if result != nil {
			c.Result = *result
			c.Result.MonoPath = PortablePath(c.Result.MonoPath)
			c.Result.DualPath = PortablePath(c.Result.DualPath)
		}
		return c, nil
	case JobError:
		return Failed{Error: errMsg, EndTime: end}, nil
	default:
		return nil, fmt.Errorf("unknown job status %q: %w", status, ErrInvalid)
	}
}
