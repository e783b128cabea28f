package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

type SQLite struct {
	db *sql.DB
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	OwnerID string
	Status  model.JobStatus
	Limit   int
}

func Open(path string) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection serializes every write,
	// including concurrent upserts of the same job.
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

const columns = `job_id, owner_id, status, filename, source_lang, target_lang, model,
  progress, stage, message, error, config, result, start_time, end_time`

// Upsert inserts the record or replaces the mutable columns of an existing
// row. created_at is only set on insert, from the record's start time when it
// has one. updated_at only moves when a column actually changed, so repeating
// an upsert leaves the row untouched. A completed or error row is final: later
// upserts of the same job are ignored.
func (s *SQLite) Upsert(ctx context.Context, rec model.Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	created := now
	if !rec.StartTime.IsZero() {
		created = rec.StartTime.UnixMilli()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO translation_history (`+columns+`, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
  owner_id = excluded.owner_id,
  status = excluded.status,
  filename = excluded.filename,
  source_lang = excluded.source_lang,
  target_lang = excluded.target_lang,
  model = excluded.model,
  progress = excluded.progress,
  stage = excluded.stage,
  message = excluded.message,
  error = excluded.error,
  config = excluded.config,
  result = excluded.result,
  start_time = excluded.start_time,
  end_time = excluded.end_time,
  updated_at = excluded.updated_at
WHERE translation_history.status = 'running' AND (
     owner_id IS NOT excluded.owner_id
  OR status IS NOT excluded.status
  OR filename IS NOT excluded.filename
  OR source_lang IS NOT excluded.source_lang
  OR target_lang IS NOT excluded.target_lang
  OR model IS NOT excluded.model
  OR progress IS NOT excluded.progress
  OR stage IS NOT excluded.stage
  OR message IS NOT excluded.message
  OR error IS NOT excluded.error
  OR config IS NOT excluded.config
  OR result IS NOT excluded.result
  OR start_time IS NOT excluded.start_time
  OR end_time IS NOT excluded.end_time)`,
		row.jobID, row.ownerID, row.status, row.filename, row.sourceLang, row.targetLang, row.model,
		row.progress, row.stage, row.message, row.errMsg, row.config, row.result, row.startTime, row.endTime,
		created, now,
	)
	return err
}

func (s *SQLite) Get(ctx context.Context, id string) (model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM translation_history WHERE job_id = ?`, id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Record{}, model.ErrNotFound
		}
		return model.Record{}, err
	}
	return rec, nil
}

// List returns matching records, newest first by creation time.
func (s *SQLite) List(ctx context.Context, f Filter) ([]model.Record, error) {
	query := `SELECT ` + columns + ` FROM translation_history`
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes one row and reports whether it existed.
func (s *SQLite) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_history WHERE job_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteMany removes the given ids in one transaction and returns how many
// rows existed.
func (s *SQLite) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM translation_history WHERE job_id = ?`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	deleted := 0
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("delete %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		deleted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

type row struct {
	jobID, status, filename, sourceLang, targetLang, model string
	ownerID, stage, message, errMsg, config, result        sql.NullString
	progress                                               int
	startTime                                              string
	endTime                                                sql.NullString
}

func toRow(rec model.Record) (row, error) {
	r := row{
		jobID:      rec.JobID,
		status:     string(rec.Status()),
		filename:   rec.Filename,
		sourceLang: rec.SourceLang,
		targetLang: rec.TargetLang,
		model:      rec.Model,
		progress:   rec.Progress,
		ownerID:    nullString(rec.OwnerID),
		stage:      nullString(rec.Stage),
		message:    nullString(rec.Message),
		startTime:  model.FormatTime(rec.StartTime),
		endTime:    nullString(model.FormatTime(rec.EndTime())),
	}
	if rec.Config != nil {
		data, err := json.Marshal(rec.Config)
		if err != nil {
			return row{}, fmt.Errorf("encode config: %w", err)
		}
		r.config = nullString(string(data))
	}
	if res, ok := rec.Result(); ok {
		res.MonoPath = model.PortablePath(res.MonoPath)
		res.DualPath = model.PortablePath(res.DualPath)
		data, err := json.Marshal(res)
		if err != nil {
			return row{}, fmt.Errorf("encode result: %w", err)
		}
		r.result = nullString(string(data))
	}
	if msg, ok := rec.ErrorMessage(); ok {
		r.errMsg = sql.NullString{String: msg, Valid: true}
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (model.Record, error) {
	var r row
	if err := sc.Scan(&r.jobID, &r.ownerID, &r.status, &r.filename, &r.sourceLang, &r.targetLang, &r.model,
		&r.progress, &r.stage, &r.message, &r.errMsg, &r.config, &r.result, &r.startTime, &r.endTime); err != nil {
		return model.Record{}, err
	}

	rec := model.Record{
		JobID:      r.jobID,
		OwnerID:    r.ownerID.String,
		Filename:   r.filename,
		SourceLang: r.sourceLang,
		TargetLang: r.targetLang,
		Model:      r.model,
		Progress:   r.progress,
		Stage:      r.stage.String,
		Message:    r.message.String,
	}
	if r.config.Valid && r.config.String != "" {
		if err := json.Unmarshal([]byte(r.config.String), &rec.Config); err != nil {
			return model.Record{}, fmt.Errorf("decode config of %s: %w", r.jobID, err)
		}
	}
	var result *model.Result
	if r.result.Valid && r.result.String != "" {
		result = &model.Result{}
		if err := json.Unmarshal([]byte(r.result.String), result); err != nil {
			return model.Record{}, fmt.Errorf("decode result of %s: %w", r.jobID, err)
		}
	}

	start, err := model.ParseTime(r.startTime)
	if err != nil {
		return model.Record{}, err
	}
	rec.StartTime = start
	end, err := model.ParseTime(r.endTime.String)
	if err != nil {
		return model.Record{}, err
	}
	rec.Outcome, err = model.BuildOutcome(model.JobStatus(r.status), result, r.errMsg.String, end)
	if err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
