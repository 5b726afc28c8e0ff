package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/internal/flow"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources"
	"github.com/ajitpratap0/fedstream/pkg/logger"
)

// Open validates cfg, constructs every configured source and starts a
// streamer over them. Construction faults are configuration errors and no
// stream is started; sources built before the fault are closed again.
// opts are applied after the settings taken from cfg.
func Open(ctx context.Context, cfg *config.StreamerConfig, opts ...Option) (*Streamer, error) {
	c := *cfg
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	built := make([]core.Source, 0, len(c.Sources))
	for _, sc := range c.Sources {
		src, err := sources.New(ctx, sc, c.BatchSize)
		if err != nil {
			closeSources(built)
			return nil, err
		}
		built = append(built, src)
	}

	all := append([]Option{
		WithName(c.Name),
		WithCapacity(c.BufferCapacity),
		WithExecutor(flow.NewExecutor(c.Workers)),
		WithCloseTimeout(c.CloseTimeout),
	}, opts...)
	s, err := New(ctx, built, all...)
	if err != nil {
		closeSources(built)
		return nil, err
	}
	return s, nil
}

func closeSources(srcs []core.Source) {
	for _, src := range srcs {
		if err := src.Close(); err != nil {
			logger.Warn("source close failed", zap.String("source", src.Name()), zap.Error(err))
		}
	}
}
