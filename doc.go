// Package fedstream reads several heterogeneous data sources concurrently and
// merges their batches into one stream of Apache Arrow records.
//
// # Architecture
//
// Every configured source is driven by its own generator. A generator pulls
// fixed-size batches from its source until the source reports end of stream
// or fails. The multiplexer forwards outcomes in the order they become ready,
// not in source order, into a bounded channel. When the channel is full the
// generators stop pulling, so a slow consumer holds at most capacity batches
// in memory.
//
// The consumer handle, pipeline.Streamer, hands out one item per call:
//
//   - a batch, converted to an arrow.Record without copying column buffers
//   - a per-source failure, after which the remaining sources continue
//   - the end marker, once every source has ended or failed
//
// # Sources
//
// Backends form a closed set held by the sources.DataSource union: CSV, JSON
// lines, Parquet, Arrow IPC, Avro, PostgreSQL, MySQL, Snowflake, MongoDB,
// Kafka and BigQuery. File backends read local paths, s3:// and gs:// objects,
// and decode compressed files by extension.
//
// # Usage
//
//	cfg, err := config.LoadStreamer("streams.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	s, err := pipeline.Open(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	for it, err := range s.All(ctx) {
//		if err != nil {
//			log.Fatal(err)
//		}
//		if it.Kind == pipeline.ItemFailure {
//			log.Printf("%s failed: %v", it.Source, it.Err)
//			continue
//		}
//		process(it.Record)
//		it.Release()
//	}
//
// The fedstream command in cmd/fedstream wraps the same flow and writes one
// Arrow IPC stream file per source.
package fedstream
