package pipeline

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/fedstream/internal/flow"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/exchange"
	"github.com/ajitpratap0/fedstream/pkg/logger"
	"github.com/ajitpratap0/fedstream/pkg/metrics"
)

// ItemKind tells which variant an Item holds.
type ItemKind int

const (
	// ItemBatch carries an Arrow record.
	ItemBatch ItemKind = iota
	// ItemEnd marks that every source is exhausted or failed.
	ItemEnd
	// ItemFailure reports a per-source failure. Other sources continue.
	ItemFailure
)

func (k ItemKind) String() string {
	switch k {
	case ItemBatch:
		return "batch"
	case ItemEnd:
		return "end"
	case ItemFailure:
		return "failure"
	}
	return fmt.Sprintf("item(%d)", int(k))
}

// Item is one result of Streamer.Next.
type Item struct {
	Kind     ItemKind
	Source   string
	Location string
	// Record is set for ItemBatch and owned by the caller.
	Record arrow.Record
	// Err is set for ItemFailure and carries the source name.
	Err error
}

// Release drops the record held by a batch item.
func (it Item) Release() {
	if it.Record != nil {
		it.Record.Release()
	}
}

// End reports whether it is the end marker.
func (it Item) End() bool { return it.Kind == ItemEnd }

// Streamer is the consumer handle of a federated stream.
type Streamer struct {
	name    string
	sources []core.Source
	out     *flow.Channel[core.Outcome]
	exec    *flow.Executor
	metrics *metrics.Collector
	logger  *zap.Logger

	cancel       context.CancelFunc
	done         chan struct{}
	closeTimeout time.Duration

	// lock serializes Next. It is a channel so that waiting honours ctx.
	lock  chan struct{}
	ended atomic.Bool
	// failed holds sources whose batch could not be converted; their later
	// outcomes are dropped. Guarded by lock.
	failed map[string]struct{}

	fatalMu sync.Mutex
	fatal   error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New starts streaming from sources. The streamer takes ownership of the
// sources and closes them in Close. ctx supplies values for logging and
// tracing; its cancellation does not stop the stream, only Close does.
func New(ctx context.Context, sources []core.Source, opts ...Option) (*Streamer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	ctx = logger.WithStreamer(ctx, o.name)
	if o.logger == nil {
		o.logger = logger.Get()
	}
	if o.executor == nil {
		o.executor = flow.NewExecutor(0)
	}

	seen := make(map[string]struct{}, len(sources))
	for i, src := range sources {
		if src == nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "source %d is nil", i)
		}
		if _, dup := seen[src.Name()]; dup {
			return nil, errors.Config(src.Name(), fmt.Sprintf("duplicate source name %q", src.Name()), nil)
		}
		seen[src.Name()] = struct{}{}
	}

	log := o.logger.With(zap.String("component", "streamer"), zap.String("streamer", o.name))
	s := &Streamer{
		name:         o.name,
		sources:      sources,
		out:          flow.NewChannel[core.Outcome](o.capacity),
		exec:         o.executor,
		metrics:      o.metrics,
		logger:       log,
		done:         make(chan struct{}),
		closeTimeout: o.closeTimeout,
		lock:         make(chan struct{}, 1),
		failed:       make(map[string]struct{}),
	}
	s.out.OnStall(s.metrics.RecordStall)

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	group, gctx := errgroup.WithContext(bg)

	mux := newMultiplexer(len(sources), s.out, s.metrics, log)
	group.Go(func() error {
		if err := mux.run(gctx); err != nil {
			s.abort(err)
			return err
		}
		return nil
	})
	for _, src := range sources {
		gen := newGenerator(src, s.exec, s.metrics, log)
		group.Go(func() error {
			gen.run(gctx, mux.fanIn)
			return nil
		})
	}
	go func() {
		_ = group.Wait()
		close(s.done)
	}()

	log.Info("streamer started",
		zap.Int("sources", len(sources)),
		zap.Int("capacity", s.out.Cap()),
		zap.Int("workers", s.exec.Width()))
	return s, nil
}

// abort records a protocol violation and stops the stream.
func (s *Streamer) abort(err error) {
	s.fatalMu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.fatalMu.Unlock()

	s.logger.Error("protocol violation, aborting stream", zap.Error(err), zap.Stack("stack"))
	s.cancel()
	s.out.CloseRecv()
}

func (s *Streamer) fatalErr() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatal
}

// Next returns the next item, waiting until one is available. After the end
// marker has been returned, and after Close, every call returns the end
// marker again. Concurrent calls are served one at a time.
//
// The error result is non-nil only when ctx ends while waiting or when the
// stream was aborted by a protocol violation; the latter is returned by every
// later call.
func (s *Streamer) Next(ctx context.Context) (Item, error) {
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
	defer func() { <-s.lock }()

	if err := s.fatalErr(); err != nil {
		return Item{}, err
	}
	if s.ended.Load() || s.closed.Load() {
		return Item{Kind: ItemEnd}, nil
	}

	for {
		o, ok, err := s.out.Recv(ctx)
		if err != nil {
			return Item{}, err
		}
		if !ok {
			if err := s.fatalErr(); err != nil {
				return Item{}, err
			}
			s.ended.Store(true)
			s.logger.Debug("end of stream")
			return Item{Kind: ItemEnd}, nil
		}
		s.metrics.SetChannelDepth(s.out.Len())
		if _, dropped := s.failed[o.Source]; dropped {
			o.Release()
			continue
		}
		return s.deliver(o), nil
	}
}

// deliver converts a dequeued outcome into an item. The outcome's batch
// reference is dropped; the record holds its own references on the buffers.
func (s *Streamer) deliver(o core.Outcome) Item {
	if o.Kind == core.OutcomeFailure {
		s.metrics.RecordFailure(o.Source)
		return Item{Kind: ItemFailure, Source: o.Source, Location: o.Location, Err: o.Err}
	}

	defer o.Release()
	rec, err := exchange.ToRecord(o.Batch)
	if err != nil {
		s.logger.Warn("batch conversion failed",
			zap.String("source", o.Source),
			zap.String("location", o.Location),
			zap.Error(err))
		s.metrics.RecordFailure(o.Source)
		s.failed[o.Source] = struct{}{}
		return Item{
			Kind:     ItemFailure,
			Source:   o.Source,
			Location: o.Location,
			Err:      errors.Fetch(o.Source, o.Location, err),
		}
	}
	s.metrics.RecordBatch(o.Source, o.Batch.NumRows())
	return Item{Kind: ItemBatch, Source: o.Source, Location: o.Location, Record: rec}
}

// All returns an iterator over the remaining items. It stops after the last
// batch or failure without yielding the end marker, or after yielding a
// non-nil error. The caller releases every yielded record.
func (s *Streamer) All(ctx context.Context) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		for {
			it, err := s.Next(ctx)
			if err != nil {
				yield(Item{}, err)
				return
			}
			if it.End() {
				return
			}
			if !yield(it, nil) {
				return
			}
		}
	}
}

// Buffered returns the number of outcomes waiting in the channel.
func (s *Streamer) Buffered() int { return s.out.Len() }

// Capacity returns the channel capacity.
func (s *Streamer) Capacity() int { return s.out.Cap() }

// HighWater returns the largest channel occupancy observed.
func (s *Streamer) HighWater() int { return s.out.HighWater() }

// Stalls returns how many times the multiplexer found the channel full.
func (s *Streamer) Stalls() int64 { return s.out.Stalls() }

// Close stops the stream. It releases the consumer side of the channel,
// lets in-flight fetches finish, frees buffered batches and closes every
// source. It is idempotent and safe to call at any point.
//
// With a close timeout configured, Close returns a timeout error if fetches
// are still running when it expires; teardown then completes in the
// background once they finish.
func (s *Streamer) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.out.CloseRecv()
		s.cancel()

		if s.closeTimeout > 0 {
			timer := time.NewTimer(s.closeTimeout)
			defer timer.Stop()
			select {
			case <-s.done:
			case <-timer.C:
				s.logger.Warn("close timed out waiting for in-flight fetches",
					zap.Duration("timeout", s.closeTimeout),
					zap.Int("in_flight", s.exec.InFlight()))
				go func() {
					<-s.done
					_ = s.teardown()
				}()
				s.closeErr = errors.Newf(errors.ErrorTypeInternal, "close timed out after %s", s.closeTimeout)
				return
			}
		} else {
			<-s.done
		}
		s.closeErr = s.teardown()
	})
	return s.closeErr
}

func (s *Streamer) teardown() error {
	dropped := 0
	for _, o := range s.out.Drain() {
		o.Release()
		dropped++
	}
	s.metrics.SetChannelDepth(0)

	var errs []error
	for _, src := range s.sources {
		if err := src.Close(); err != nil {
			s.logger.Warn("source close failed", zap.String("source", src.Name()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	s.logger.Info("streamer closed", zap.Int("dropped", dropped))
	return errors.Join(errs...)
}
