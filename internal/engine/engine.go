// Package engine is the boundary to the document translation engine. The
// engine is opaque: it takes a request and yields an ordered event stream.
package engine

import (
	"context"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

// Request is everything the engine needs to translate one document.
type Request struct {
	JobID         string
	InputPath     string
	OutputDir     string
	GlossaryPaths []string
	Submission    model.Submission
}

// Engine starts a translation. The returned stream is consumed by a single
// reader, in order.
type Engine interface {
	Translate(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events until Next returns io.EOF (clean end) or another
// error (engine failure). Close releases the stream and may be called at
// any point.
type Stream interface {
	Next() (model.Event, error)
	Close() error
}
