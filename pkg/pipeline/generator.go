package pipeline

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/internal/flow"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/exchange"
	"github.com/ajitpratap0/fedstream/pkg/logger"
	"github.com/ajitpratap0/fedstream/pkg/metrics"
	"github.com/ajitpratap0/fedstream/pkg/observability"
)

// generator owns one source for the lifetime of a streamer. It is the only
// caller of the source's Fetch, so the cursor has a single writer.
type generator struct {
	source  core.Source
	exec    *flow.Executor
	tracer  *observability.SourceTracer
	metrics *metrics.Collector
	logger  *zap.Logger
	retired bool
}

func newGenerator(src core.Source, exec *flow.Executor, m *metrics.Collector, l *zap.Logger) *generator {
	kind := "source"
	if k, ok := src.(interface{ Kind() string }); ok {
		kind = k.Kind()
	}
	return &generator{
		source:  src,
		exec:    exec,
		tracer:  observability.NewSourceTracer(kind, src.Name()),
		metrics: m,
		logger:  l.With(zap.String("source", src.Name()), zap.String("kind", kind)),
	}
}

// outcomes yields fetch outcomes until the source reports a terminal one.
// Each step waits for an executor slot; a cancelled ctx stops the sequence
// before the next fetch starts, never during one.
func (g *generator) outcomes(ctx context.Context) iter.Seq[core.Outcome] {
	return func(yield func(core.Outcome) bool) {
		for !g.retired {
			o, err := g.pull(ctx)
			if err != nil {
				g.logger.Debug("generator stopped before fetch", zap.Error(err))
				return
			}
			g.retired = o.Terminal()
			if !yield(o) {
				return
			}
		}
	}
}

// run forwards outcomes to the multiplexer. Outcomes that cannot be handed
// over because the streamer is shutting down are released here.
func (g *generator) run(ctx context.Context, fanIn chan<- core.Outcome) {
	for o := range g.outcomes(ctx) {
		select {
		case fanIn <- o:
		case <-ctx.Done():
			o.Release()
			return
		}
	}
}

func (g *generator) pull(ctx context.Context) (core.Outcome, error) {
	var out core.Outcome
	before := g.source.Cursor()
	err := g.exec.Run(ctx, func() {
		// a started fetch runs to completion even if the streamer closes
		fctx, span := g.tracer.StartFetch(logger.WithSource(context.WithoutCancel(ctx), g.source.Name()), before)
		out = g.source.Fetch(fctx)
		rows := 0
		if out.Batch != nil {
			rows = out.Batch.NumRows()
		}
		g.metrics.ObserveFetch(g.source.Name(), span.End(out.Kind.String(), rows, out.Err))
	})
	if err != nil {
		return core.Outcome{}, err
	}
	return g.check(before, out), nil
}

// check tags o with the source name and verifies the cursor contract. A
// breach is turned into a failure carrying a protocol violation.
func (g *generator) check(before int64, o core.Outcome) core.Outcome {
	name := g.source.Name()
	after := g.source.Cursor()

	var violation error
	switch o.Kind {
	case core.OutcomeBatch:
		if o.Batch == nil {
			violation = errors.Protocol("source %q returned a batch outcome without a batch", name)
		} else if after != before+int64(o.Batch.NumRows()) {
			violation = errors.Protocol("source %q cursor moved from %d to %d over a %d row batch",
				name, before, after, o.Batch.NumRows())
		}
	case core.OutcomeEndOfStream, core.OutcomeFailure:
		if after != before {
			violation = errors.Protocol("source %q cursor moved from %d to %d without a batch", name, before, after)
		}
	default:
		violation = errors.Protocol("source %q returned unknown outcome %s", name, o.Kind)
	}

	if violation != nil {
		o.Release()
		return core.Failure(name, o.Location, errors.Wrap(violation, errors.ErrorTypeProtocol, "cursor contract broken").
			WithDetail(errors.DetailSource, name))
	}

	o.Source = name
	if o.Kind == core.OutcomeBatch {
		// a batch the exchange cannot take ends the source like a fetch error
		if err := exchange.VerifyLayout(o.Batch); err != nil {
			o.Release()
			g.logger.Warn("batch layout rejected", zap.Int64("cursor", before), zap.Error(err))
			return core.Failure(name, o.Location, errors.Fetch(name, o.Location, err))
		}
	}
	if o.Kind == core.OutcomeFailure && o.Err == nil {
		o.Err = errors.Fetch(name, o.Location, errors.New(errors.ErrorTypeFetch, "source reported failure without a cause"))
	}
	return o
}
