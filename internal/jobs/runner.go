package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/babeldoc-web/api-go/internal/engine"
	"github.com/example/babeldoc-web/api-go/internal/model"
)

const (
	msgNoResult  = "translation ended without a result"
	msgTimedOut  = "translation timed out"
	msgCancelled = "translation cancelled"
	msgUnknown   = "unknown engine error"
)

// runner drives one job. It is the only writer of its job's state and keeps
// the authoritative copy in rec; the registry entry is replaced wholesale on
// every change.
type runner struct {
	svc *Service
	rec model.Record
	log logrus.FieldLogger
}

func (s *Service) run(rec model.Record, req engine.Request) {
	defer s.wg.Done()
	r := &runner{svc: s, rec: rec, log: s.log.WithField("job_id", rec.JobID)}

	ctx := s.ctx
	if s.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.MaxDuration)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("stack", string(debug.Stack())).Errorf("runner panic: %v", p)
			r.abort(ctx, fmt.Sprintf("internal error: %v", p))
		}
		if r.rec.Terminal() {
			s.scheduleEviction(r.rec.JobID)
		}
	}()

	r.drive(ctx, req)
}

func (r *runner) drive(ctx context.Context, req engine.Request) {
	stream, err := r.svc.opts.Engine.Translate(ctx, req)
	if err != nil {
		r.abort(ctx, r.failureMessage(ctx, err))
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			r.abort(ctx, msgNoResult)
			return
		}
		if err != nil {
			r.abort(ctx, r.failureMessage(ctx, err))
			return
		}
		if r.handle(ctx, ev) {
			return
		}
	}
}

// handle applies one engine event and forwards it. It reports whether the
// job reached a terminal state.
func (r *runner) handle(ctx context.Context, ev model.Event) bool {
	switch ev.Type {
	case model.EventProgress:
		r.apply(ctx, func(rec *model.Record) {
			rec.Progress = nextProgress(rec.Progress, ev.OverallProgress)
			if ev.Stage != "" {
				rec.Stage = ev.Stage
			}
			rec.Message = ev.Message
		})
	case model.EventFinish:
		var res model.Result
		if ev.Result != nil {
			res = *ev.Result
		}
		res.MonoPath = model.PortablePath(res.MonoPath)
		res.DualPath = model.PortablePath(res.DualPath)
		r.apply(ctx, func(rec *model.Record) {
			rec.Progress = 100
			rec.Stage = stageFinished
			rec.Outcome = model.Completed{Result: res, EndTime: r.svc.now()}
		})
		r.log.WithField("seconds", res.TotalSeconds).Info("translation completed")
	case model.EventError:
		msg := ev.Error
		if msg == "" {
			msg = msgUnknown
		}
		r.fail(ctx, msg)
	}
	r.svc.opts.Broadcaster.Publish(r.rec.JobID, ev)
	return r.rec.Terminal()
}

// abort ends the job with msg and tells the subscriber, for failures the
// engine did not report itself.
func (r *runner) abort(ctx context.Context, msg string) {
	if r.rec.Terminal() {
		return
	}
	r.fail(ctx, msg)
	r.svc.opts.Broadcaster.Publish(r.rec.JobID, model.Event{Type: model.EventError, Error: msg})
}

func (r *runner) fail(ctx context.Context, msg string) {
	r.apply(ctx, func(rec *model.Record) {
		rec.Outcome = model.Failed{Error: msg, EndTime: r.svc.now()}
	})
	r.log.WithField("error", msg).Warn("translation failed")
}

// apply mutates the job unless it is already terminal, then mirrors it into
// the registry (when still registered) and the store.
func (r *runner) apply(ctx context.Context, fn func(*model.Record)) {
	if r.rec.Terminal() {
		return
	}
	fn(&r.rec)
	snapshot := r.rec.Clone()
	r.svc.opts.Registry.Update(snapshot.JobID, func(cur *model.Record) { *cur = snapshot })
	// Store writes outlive the job context so the terminal state of a timed
	// out or cancelled job still lands.
	_ = r.svc.opts.History.Upsert(context.WithoutCancel(ctx), snapshot)
}

func (r *runner) failureMessage(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return msgTimedOut
	case errors.Is(ctx.Err(), context.Canceled):
		return msgCancelled
	default:
		return err.Error()
	}
}

func nextProgress(cur int, overall float64) int {
	p := int(overall)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p < cur {
		return cur
	}
	return p
}

func (s *Service) scheduleEviction(id string) {
	if s.opts.EvictAfter <= 0 {
		s.opts.Registry.Remove(id)
		return
	}
	time.AfterFunc(s.opts.EvictAfter, func() {
		if rec, ok := s.opts.Registry.Get(id); ok && rec.Terminal() {
			s.opts.Registry.Remove(id)
		}
	})
}
