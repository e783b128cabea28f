package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

// ImportReport summarizes a legacy history import.
type ImportReport struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportJSON upserts every entry of a legacy JSON history array. Entries that
// fail to decode or store are counted and skipped. sanitize is applied to
// each record before it is written.
func (s *SQLite) ImportJSON(ctx context.Context, r io.Reader, sanitize func(model.Record) model.Record) (ImportReport, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return ImportReport{}, fmt.Errorf("decode history: %w", err)
	}

	var report ImportReport
	for i, item := range raw {
		var rec model.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		if sanitize != nil {
			rec = sanitize(rec)
		}
		if err := s.Upsert(ctx, rec); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("entry %d (%s): %v", i, rec.JobID, err))
			continue
		}
		report.Imported++
	}
	return report, nil
}
