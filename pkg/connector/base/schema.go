package base

import (
	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// DefaultInferRows is the number of rows sampled when a backend infers its
// schema.
const DefaultInferRows = 100

// ExplicitSchema parses the "schema" option. It returns nil when the option
// is not set.
func ExplicitSchema(cfg config.SourceConfig) (*columnar.Schema, error) {
	raw := cfg.Option("schema", "")
	if raw == "" {
		return nil, nil
	}
	schema, err := columnar.ParseSchema(raw)
	if err != nil {
		return nil, errors.Config(cfg.Name, "invalid schema option", err)
	}
	return schema, nil
}

// InferRows returns the "infer_rows" option.
func InferRows(cfg config.SourceConfig) (int, error) {
	n, err := cfg.IntOption("infer_rows", DefaultInferRows)
	if err != nil {
		return 0, errors.Config(cfg.Name, "invalid infer_rows option", err)
	}
	if n < 1 {
		return 0, errors.Config(cfg.Name, "infer_rows must be positive", nil)
	}
	return n, nil
}

// Project narrows full to the configured columns. The returned indexes map
// each projected field to its position in full.
func Project(cfg config.SourceConfig, full *columnar.Schema) (*columnar.Schema, []int, error) {
	projected, idx, err := full.Project(cfg.Columns)
	if err != nil {
		return nil, nil, errors.Config(cfg.Name, "invalid column projection", err)
	}
	return projected, idx, nil
}
