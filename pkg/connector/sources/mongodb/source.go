// Package mongodb streams documents of one MongoDB collection in _id order.
package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// Kind is the backend kind served by this package.
const Kind = "mongodb"

const disconnectTimeout = 10 * time.Second

// finder is the part of *mongo.Collection the source uses.
type finder interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Source reads one page of documents per fetch using skip and limit.
type Source struct {
	*base.BaseSource

	coll       finder
	disconnect func(context.Context) error
	schema     *columnar.Schema
	projection bson.D
}

// Target is a parsed connection target.
type Target struct {
	URI        string
	Database   string
	Collection string
}

// ParseTarget reads the uri, database and collection options. A location of
// the form mongodb://host/db.collection supplies whatever the options omit.
func ParseTarget(cfg config.SourceConfig) (Target, error) {
	t := Target{
		URI:        cfg.Option("uri", ""),
		Database:   cfg.Option("database", ""),
		Collection: cfg.Option("collection", ""),
	}
	if loc := cfg.Location; loc != "" {
		uri, path := splitPath(loc)
		if t.URI == "" {
			t.URI = uri
		}
		if db, coll, ok := strings.Cut(path, "."); ok {
			if t.Database == "" {
				t.Database = db
			}
			if t.Collection == "" {
				t.Collection = coll
			}
		}
	}
	switch {
	case t.URI == "":
		return t, errors.Config(cfg.Name, "uri is required", nil)
	case t.Database == "" || t.Collection == "":
		return t, errors.Config(cfg.Name, "database and collection are required", nil)
	}
	return t, nil
}

// splitPath separates the db.collection path from a connection string,
// keeping any query parameters on the uri.
func splitPath(loc string) (uri, path string) {
	scheme, rest, ok := strings.Cut(loc, "://")
	if !ok {
		return loc, ""
	}
	query := ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest, query = rest[:i], rest[i:]
	}
	hosts, path, _ := strings.Cut(rest, "/")
	uri = scheme + "://" + hosts + "/"
	return uri + query, path
}

// New connects to the server and resolves the schema.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	target, err := ParseTarget(cfg)
	if err != nil {
		return nil, err
	}
	clientOpts := options.Client().ApplyURI(target.URI)
	if err := clientOpts.Validate(); err != nil {
		return nil, errors.Config(cfg.Name, "invalid mongodb uri", err)
	}
	retry, err := base.RetryFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Config(cfg.Name, "failed to connect to mongodb", err)
	}
	if err := retry.Execute(ctx, func(ctx context.Context) error { return client.Ping(ctx, nil) }); err != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		_ = client.Disconnect(dctx)
		return nil, errors.Config(cfg.Name, "failed to reach mongodb", err)
	}
	coll := client.Database(target.Database).Collection(target.Collection)
	s, err := newSource(ctx, cfg, batchSize, coll, client.Disconnect)
	if err != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		_ = client.Disconnect(dctx)
		return nil, err
	}
	s.Logger().Info("mongodb source opened",
		zap.String("database", target.Database),
		zap.String("collection", target.Collection),
		zap.String("schema", s.schema.String()))
	return s, nil
}

func newSource(ctx context.Context, cfg config.SourceConfig, batchSize int, coll finder, disconnect func(context.Context) error) (*Source, error) {
	full, err := base.ExplicitSchema(cfg)
	if err != nil {
		return nil, err
	}
	if full == nil {
		inferRows, err := base.InferRows(cfg)
		if err != nil {
			return nil, err
		}
		docs, err := find(ctx, coll, 0, inferRows, nil)
		if err != nil {
			return nil, errors.Config(cfg.Name, "failed to sample documents", err)
		}
		if full, err = columnar.InferRecordSchema(docs); err != nil {
			return nil, errors.Config(cfg.Name, "failed to infer schema", err)
		}
	}
	schema, _, err := base.Project(cfg, full)
	if err != nil {
		return nil, err
	}

	s := &Source{
		BaseSource: base.NewBaseSource(cfg.Name, Kind, cfg.Location, cfg.EffectiveBatchSize(batchSize)),
		coll:       coll,
		disconnect: disconnect,
		schema:     schema,
	}
	for _, f := range schema.Fields {
		s.projection = append(s.projection, bson.E{Key: f.Name, Value: 1})
	}
	return s, nil
}

func find(ctx context.Context, coll finder, skip int64, limit int, projection bson.D) ([]map[string]interface{}, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(skip).
		SetLimit(int64(limit))
	if projection != nil {
		opts.SetProjection(projection)
	}
	cur, err := coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(context.WithoutCancel(ctx))

	var docs []map[string]interface{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", skip+int64(len(docs))+1, err)
		}
		out := make(map[string]interface{}, len(doc))
		for k, v := range doc {
			out[k] = convertValue(v)
		}
		docs = append(docs, out)
	}
	return docs, cur.Err()
}

// convertValue maps BSON values onto what columns accept. Nested documents
// and arrays become JSON text.
func convertValue(v interface{}) interface{} {
	switch x := v.(type) {
	case primitive.M, primitive.D, primitive.A:
		raw, err := gojson.Marshal(plain(x))
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
	return plain(v)
}

func plain(v interface{}) interface{} {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case primitive.Decimal128:
		return x.String()
	case primitive.Binary:
		return x.Data
	case primitive.Null, primitive.Undefined:
		return nil
	case primitive.M:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case primitive.D:
		out := make(map[string]interface{}, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.A:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

// Schema returns the projected schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads the next page of documents.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, s.read)
}

func (s *Source) read(ctx context.Context, offset int64, limit int) (*columnar.Batch, error) {
	docs, err := find(ctx, s.coll, offset, limit, s.projection)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	bb := columnar.NewBatchBuilder(s.schema, len(docs))
	for i, doc := range docs {
		if err := bb.AppendRecord(doc); err != nil {
			if b, berr := bb.NewBatch(); berr == nil {
				b.Release()
			}
			return nil, fmt.Errorf("document %d: %w", offset+int64(i)+1, err)
		}
	}
	return bb.NewBatch()
}

// Reset restarts at the first document.
func (s *Source) Reset(context.Context) error {
	if s.Closed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	s.ResetCursor()
	return nil
}

// Close disconnects the client.
func (s *Source) Close() error {
	return s.CloseOnce(func() error {
		if s.disconnect == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		return s.disconnect(ctx)
	})
}
