package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/internal/flow"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/metrics"
)

// multiplexer merges the generators' outcomes into the bounded channel in
// the order they become ready. It is the only sender on out.
type multiplexer struct {
	live    int
	fanIn   chan core.Outcome
	out     *flow.Channel[core.Outcome]
	metrics *metrics.Collector
	logger  *zap.Logger
}

func newMultiplexer(generators int, out *flow.Channel[core.Outcome], m *metrics.Collector, l *zap.Logger) *multiplexer {
	return &multiplexer{
		live:    generators,
		fanIn:   make(chan core.Outcome),
		out:     out,
		metrics: m,
		logger:  l,
	}
}

// run forwards outcomes until every generator has delivered its terminal
// outcome, then closes the producer side of out. It returns early, leaving
// out open, when ctx ends or the consumer has gone. The returned error is
// always a protocol violation.
func (m *multiplexer) run(ctx context.Context) error {
	for m.live > 0 {
		var o core.Outcome
		select {
		case o = <-m.fanIn:
		case <-ctx.Done():
			return nil
		}

		if o.Kind == core.OutcomeFailure && errors.IsFatal(o.Err) {
			return o.Err
		}
		if o.Terminal() {
			m.live--
			if o.Kind == core.OutcomeEndOfStream {
				m.logger.Debug("source retired", zap.String("source", o.Source), zap.Int("remaining", m.live))
				continue
			}
			m.logger.Warn("source failed",
				zap.String("source", o.Source),
				zap.String("location", o.Location),
				zap.Error(o.Err),
				zap.Int("remaining", m.live))
		}

		if err := m.out.Send(ctx, o); err != nil {
			o.Release()
			if errors.IsFatal(err) {
				return err
			}
			m.logger.Debug("multiplexer stopped", zap.Error(err))
			return nil
		}
		m.metrics.SetChannelDepth(m.out.Len())
	}

	m.out.CloseSend()
	m.logger.Debug("all sources retired")
	return nil
}
