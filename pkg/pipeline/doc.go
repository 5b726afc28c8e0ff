// Package pipeline merges many sources into one backpressure-bounded stream
// of Arrow records.
//
// # Overview
//
// A Streamer owns a fixed set of sources for its whole lifetime:
//
//   - one generator goroutine per source pulls batches through the
//     streamer's executor, so a slow or blocking backend only occupies an
//     executor slot
//   - a single multiplexer goroutine forwards outcomes in the order they
//     become ready into a bounded channel
//   - Next dequeues one outcome, converts its batch to an arrow.Record
//     without copying value buffers and hands it to the caller
//
// Batches from one source arrive in the order that source produced them.
// Interleaving between sources depends on readiness and differs between runs.
//
// # Basic Usage
//
//	s, err := pipeline.New(ctx, []core.Source{patients, admissions},
//		pipeline.WithCapacity(16),
//		pipeline.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	for {
//		item, err := s.Next(ctx)
//		if err != nil {
//			return err // ctx ended or the stream was aborted
//		}
//		switch item.Kind {
//		case pipeline.ItemEnd:
//			return nil
//		case pipeline.ItemFailure:
//			log.Warn("source failed", zap.String("source", item.Source), zap.Error(item.Err))
//		case pipeline.ItemBatch:
//			consume(item.Record)
//			item.Release()
//		}
//	}
//
// Open builds the sources from a config.StreamerConfig and starts the
// streamer in one step.
//
// # Failures
//
// A source whose fetch fails is reported once as an ItemFailure and retired;
// the other sources keep streaming. A batch that cannot be converted to Arrow
// is reported the same way, tagged with its source and location.
//
// A protocol violation, such as a source whose cursor is moved by something
// other than its generator, aborts the whole stream: Next returns the error
// on that and every later call.
//
// # Backpressure
//
// The channel between multiplexer and consumer holds at most the configured
// capacity (default 100). When it is full the multiplexer suspends, which in
// turn suspends every generator at its next hand-over. Nothing is dropped.
//
// # Shutdown
//
// Close is the only way to stop a stream. Fetches already running finish,
// generators stop before their next fetch, buffered batches are released and
// every source is closed.
package pipeline
