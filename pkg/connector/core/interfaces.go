package core

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
)

// OutcomeKind tells which variant an Outcome holds.
type OutcomeKind int

const (
	// OutcomeBatch carries a batch of rows.
	OutcomeBatch OutcomeKind = iota
	// OutcomeEndOfStream reports that the source is exhausted.
	OutcomeEndOfStream
	// OutcomeFailure reports a fetch fault. The source is retired after it.
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeBatch:
		return "batch"
	case OutcomeEndOfStream:
		return "end_of_stream"
	case OutcomeFailure:
		return "failure"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is the result of one Fetch: a batch, the end of the stream, or a
// failure tagged with the source name.
type Outcome struct {
	Kind     OutcomeKind
	Source   string
	Location string
	Batch    *columnar.Batch
	Err      error
}

// BatchOutcome wraps b. Ownership of b moves with the outcome.
func BatchOutcome(source, location string, b *columnar.Batch) Outcome {
	return Outcome{Kind: OutcomeBatch, Source: source, Location: location, Batch: b}
}

// EndOfStream returns the exhaustion outcome for source.
func EndOfStream(source, location string) Outcome {
	return Outcome{Kind: OutcomeEndOfStream, Source: source, Location: location}
}

// Failure returns a failure outcome for source.
func Failure(source, location string, err error) Outcome {
	return Outcome{Kind: OutcomeFailure, Source: source, Location: location, Err: err}
}

// Terminal reports whether no further outcome follows this one.
func (o Outcome) Terminal() bool {
	return o.Kind != OutcomeBatch
}

// Release drops the batch reference held by a batch outcome.
func (o Outcome) Release() {
	if o.Batch != nil {
		o.Batch.Release()
	}
}

// Source is a named, stateful producer of columnar batches.
//
// Fetch is called by one owner at a time. Each successful call advances the
// cursor by the number of rows returned. Once a source has reported
// OutcomeEndOfStream every later Fetch reports it again.
type Source interface {
	// Name returns the stable name used to tag outcomes.
	Name() string
	// Fetch reads the next batch of at most the configured batch size.
	Fetch(ctx context.Context) Outcome
	// Cursor returns the number of rows already delivered.
	Cursor() int64
	// Close releases backend resources. It is idempotent.
	Close() error
}

// Resetter is implemented by sources that can rewind to the first row. Reset
// is never called while streaming.
type Resetter interface {
	Reset(ctx context.Context) error
}
