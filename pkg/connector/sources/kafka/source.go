// Package kafka reads JSON messages from one partition of a Kafka topic.
// The stream is bounded: it ends at the high-water mark observed when the
// source was created.
package kafka

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// Kind is the backend kind served by this package.
const Kind = "kafka"

// Metadata fields added to every record when include_metadata is set.
const (
	FieldOffset    = "_offset"
	FieldKey       = "_key"
	FieldTimestamp = "_timestamp"
)

const defaultMaxWait = 30 * time.Second

// openFunc starts consuming the partition at an absolute offset.
type openFunc func(offset int64) (sarama.PartitionConsumer, error)

// Source streams the messages in [start, end) of a partition.
type Source struct {
	*base.BaseSource

	open     openFunc
	closeFn  func() error
	pc       sarama.PartitionConsumer
	start    int64
	end      int64
	next     int64
	maxWait  time.Duration
	metadata bool

	schema  *columnar.Schema
	pending []map[string]interface{}
}

// Options are the parsed kafka settings.
type Options struct {
	Brokers   []string
	Topic     string
	Partition int32
	// StartOffset is an absolute offset, sarama.OffsetOldest or
	// sarama.OffsetNewest
	StartOffset int64
	MaxWait     time.Duration
	Metadata    bool
}

// ParseOptions reads brokers (or location), topic, partition, start_offset,
// max_wait and include_metadata.
func ParseOptions(cfg config.SourceConfig) (Options, error) {
	o := Options{
		Brokers:     cfg.ListOption("brokers"),
		Topic:       cfg.Option("topic", ""),
		StartOffset: sarama.OffsetOldest,
		MaxWait:     defaultMaxWait,
	}
	if len(o.Brokers) == 0 && cfg.Location != "" {
		loc := config.SourceConfig{Options: map[string]string{"brokers": cfg.Location}}
		o.Brokers = loc.ListOption("brokers")
	}
	if len(o.Brokers) == 0 {
		return o, errors.Config(cfg.Name, "brokers are required", nil)
	}
	if o.Topic == "" {
		return o, errors.Config(cfg.Name, "topic is required", nil)
	}
	partition, err := cfg.IntOption("partition", 0)
	if err != nil || partition < 0 {
		return o, errors.Config(cfg.Name, "invalid partition", err)
	}
	o.Partition = int32(partition)

	switch raw := cfg.Option("start_offset", "oldest"); raw {
	case "oldest":
	case "newest":
		o.StartOffset = sarama.OffsetNewest
	default:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return o, errors.Config(cfg.Name, "start_offset must be oldest, newest or an offset", err)
		}
		o.StartOffset = n
	}
	if raw := cfg.Option("max_wait", ""); raw != "" {
		if o.MaxWait, err = time.ParseDuration(raw); err != nil || o.MaxWait <= 0 {
			return o, errors.Config(cfg.Name, "invalid max_wait", err)
		}
	}
	if o.Metadata, err = cfg.BoolOption("include_metadata", false); err != nil {
		return o, errors.Config(cfg.Name, "invalid include_metadata", err)
	}
	return o, nil
}

// New connects to the brokers, captures the partition's offset range and
// resolves the schema.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	opts, err := ParseOptions(cfg)
	if err != nil {
		return nil, err
	}
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = "fedstream"
	saramaCfg.Consumer.Return.Errors = true
	retry, err := base.RetryFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	var client sarama.Client
	err = retry.Execute(ctx, func(context.Context) error {
		c, err := sarama.NewClient(opts.Brokers, saramaCfg)
		client = c
		return err
	})
	if err != nil {
		return nil, errors.Config(cfg.Name, "failed to connect to kafka", err)
	}
	s, err := connect(ctx, cfg, batchSize, opts, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.Logger().Info("kafka source opened",
		zap.Strings("brokers", opts.Brokers),
		zap.String("topic", opts.Topic),
		zap.Int32("partition", opts.Partition),
		zap.Int64("start_offset", s.start),
		zap.Int64("high_water_mark", s.end))
	return s, nil
}

func connect(ctx context.Context, cfg config.SourceConfig, batchSize int, opts Options, client sarama.Client) (*Source, error) {
	oldest, err := client.GetOffset(opts.Topic, opts.Partition, sarama.OffsetOldest)
	if err != nil {
		return nil, errors.Config(cfg.Name, "failed to read the oldest offset", err)
	}
	end, err := client.GetOffset(opts.Topic, opts.Partition, sarama.OffsetNewest)
	if err != nil {
		return nil, errors.Config(cfg.Name, "failed to read the high-water mark", err)
	}
	start := opts.StartOffset
	switch {
	case start == sarama.OffsetOldest:
		start = oldest
	case start == sarama.OffsetNewest:
		start = end
	case start < oldest:
		start = oldest
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, errors.Config(cfg.Name, "failed to create consumer", err)
	}
	open := func(offset int64) (sarama.PartitionConsumer, error) {
		return consumer.ConsumePartition(opts.Topic, opts.Partition, offset)
	}
	closeFn := func() error { return errors.Join(consumer.Close(), client.Close()) }
	s, err := newSource(ctx, cfg, batchSize, opts, open, start, end, consumer.Close)
	if err != nil {
		consumer.Close()
		return nil, err
	}
	s.closeFn = closeFn
	return s, nil
}

func newSource(ctx context.Context, cfg config.SourceConfig, batchSize int, opts Options, open openFunc, start, end int64, closeFn func() error) (*Source, error) {
	s := &Source{
		BaseSource: base.NewBaseSource(cfg.Name, Kind, cfg.Location, cfg.EffectiveBatchSize(batchSize)),
		open:       open,
		closeFn:    closeFn,
		start:      start,
		end:        end,
		next:       start,
		maxWait:    opts.MaxWait,
		metadata:   opts.Metadata,
	}
	full, err := base.ExplicitSchema(cfg)
	if err != nil {
		return nil, err
	}
	if full == nil {
		inferRows, err := base.InferRows(cfg)
		if err != nil {
			return nil, err
		}
		for len(s.pending) < inferRows {
			rec, ok, err := s.receive(ctx)
			if err != nil {
				s.closePartition()
				return nil, errors.Config(cfg.Name, "failed to sample messages", err)
			}
			if !ok {
				break
			}
			s.pending = append(s.pending, rec)
		}
		if full, err = columnar.InferRecordSchema(s.pending); err != nil {
			s.closePartition()
			return nil, errors.Config(cfg.Name, "cannot infer a schema, set the schema option", err)
		}
	}
	if s.schema, _, err = base.Project(cfg, full); err != nil {
		s.closePartition()
		return nil, err
	}
	return s, nil
}

// receive returns the next message as a record, or false once the end
// offset is reached.
func (s *Source) receive(ctx context.Context) (map[string]interface{}, bool, error) {
	if s.next >= s.end {
		return nil, false, nil
	}
	if s.pc == nil {
		pc, err := s.open(s.next)
		if err != nil {
			return nil, false, err
		}
		s.pc = pc
	}
	timer := time.NewTimer(s.maxWait)
	defer timer.Stop()
	select {
	case msg, ok := <-s.pc.Messages():
		if !ok {
			return nil, false, fmt.Errorf("partition consumer stopped at offset %d", s.next)
		}
		s.next = msg.Offset + 1
		rec, err := s.decode(msg)
		return rec, err == nil, err
	case cerr, ok := <-s.pc.Errors():
		if !ok {
			return nil, false, fmt.Errorf("partition consumer stopped at offset %d", s.next)
		}
		return nil, false, cerr
	case <-timer.C:
		return nil, false, fmt.Errorf("no message at offset %d after %s", s.next, s.maxWait)
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *Source) decode(msg *sarama.ConsumerMessage) (map[string]interface{}, error) {
	dec := gojson.NewDecoder(bytes.NewReader(msg.Value))
	dec.UseNumber()
	var rec map[string]interface{}
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("offset %d: %w", msg.Offset, err)
	}
	for k, v := range rec {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			raw, err := gojson.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("offset %d field %q: %w", msg.Offset, k, err)
			}
			rec[k] = string(raw)
		}
	}
	if s.metadata {
		rec[FieldOffset] = msg.Offset
		if msg.Key != nil {
			rec[FieldKey] = string(msg.Key)
		}
		if !msg.Timestamp.IsZero() {
			rec[FieldTimestamp] = msg.Timestamp
		}
	}
	return rec, nil
}

// Schema returns the projected schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads up to a batch of messages.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, s.read)
}

// read drops the messages of a batch that fails; the next fetch continues
// after them.
func (s *Source) read(ctx context.Context, _ int64, limit int) (*columnar.Batch, error) {
	bb := columnar.NewBatchBuilder(s.schema, limit)
	for bb.Len() < limit {
		var rec map[string]interface{}
		if len(s.pending) > 0 {
			rec, s.pending = s.pending[0], s.pending[1:]
		} else {
			var ok bool
			var err error
			if rec, ok, err = s.receive(ctx); err != nil {
				return discard(bb, err)
			} else if !ok {
				break
			}
		}
		if err := bb.AppendRecord(rec); err != nil {
			return discard(bb, fmt.Errorf("before offset %d: %w", s.next, err))
		}
	}
	if bb.Len() == 0 {
		return discard(bb, nil)
	}
	return bb.NewBatch()
}

func discard(bb *columnar.BatchBuilder, err error) (*columnar.Batch, error) {
	if b, berr := bb.NewBatch(); berr == nil {
		b.Release()
	}
	return nil, err
}

func (s *Source) closePartition() error {
	if s.pc == nil {
		return nil
	}
	err := s.pc.Close()
	s.pc = nil
	return err
}

// Reset rewinds to the start offset. The end offset stays the one captured
// at construction.
func (s *Source) Reset(context.Context) error {
	if s.Closed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	if err := s.closePartition(); err != nil {
		s.Logger().Warn("closing partition consumer", zap.Error(err))
	}
	s.next, s.pending = s.start, nil
	s.ResetCursor()
	return nil
}

// Close stops the partition consumer and the client.
func (s *Source) Close() error {
	return s.CloseOnce(func() error {
		err := s.closePartition()
		if s.closeFn != nil {
			err = errors.Join(err, s.closeFn())
		}
		return err
	})
}
