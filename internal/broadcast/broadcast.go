// Package broadcast pushes job events to the one live subscriber of a job.
package broadcast

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

// Sink receives events for a single job.
type Sink interface {
	Send(model.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(model.Event) error

func (f SinkFunc) Send(ev model.Event) error { return f(ev) }

// Broadcaster keeps at most one sink per job; a later Subscribe replaces the
// earlier sink. Delivery is best effort and never fails the publisher.
type Broadcaster struct {
	mu    sync.RWMutex
	sinks map[string]Sink
	log   logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Broadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broadcaster{sinks: make(map[string]Sink), log: log}
}

func (b *Broadcaster) Subscribe(jobID string, sink Sink) {
	b.mu.Lock()
	b.sinks[jobID] = sink
	b.mu.Unlock()
}

func (b *Broadcaster) Unsubscribe(jobID string) {
	b.mu.Lock()
	delete(b.sinks, jobID)
	b.mu.Unlock()
}

// Release drops sink only if it is still the current subscriber for jobID.
// sink must be comparable, a pointer in practice.
func (b *Broadcaster) Release(jobID string, sink Sink) {
	b.mu.Lock()
	if cur, ok := b.sinks[jobID]; ok && cur == sink {
		delete(b.sinks, jobID)
	}
	b.mu.Unlock()
}

// Publish delivers ev to the current sink, if any. It reports whether the
// sink accepted the event.
func (b *Broadcaster) Publish(jobID string, ev model.Event) bool {
	b.mu.RLock()
	sink, ok := b.sinks[jobID]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if err := deliver(sink, ev); err != nil {
		b.log.WithError(err).WithFields(logrus.Fields{
			"job_id": jobID,
			"event":  ev.Type,
		}).Debug("progress delivery failed")
		return false
	}
	return true
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

func deliver(sink Sink, ev model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Send(ev)
}
