package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

func writeCSV(t *testing.T, dir, name string, rows int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("subject_id,anchor_age\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "%d,%d\n", 10000000+i, 20+i%60)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o600))
	return path
}

func TestOpenStreamsConfiguredSources(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewStreamerConfig()
	cfg.BatchSize = 4
	cfg.BufferCapacity = 2
	cfg.Workers = 2
	cfg.Sources = []config.SourceConfig{
		{Name: "patients", Kind: "csv", Location: writeCSV(t, dir, "patients.csv", 10)},
		{Name: "icu", Kind: "csv", Location: writeCSV(t, dir, "icu.csv", 7), BatchSize: 3, Columns: []string{"anchor_age"}},
	}

	s, err := Open(context.Background(), cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 2, s.Capacity())

	rows := map[string][]int{}
	for it, err := range s.All(context.Background()) {
		require.NoError(t, err)
		require.Equal(t, ItemBatch, it.Kind, "%v", it.Err)
		rows[it.Source] = append(rows[it.Source], int(it.Record.NumRows()))
		if it.Source == "icu" {
			assert.Equal(t, int64(1), it.Record.NumCols())
			assert.Equal(t, int64(20), it.Record.Column(0).(*array.Int64).Value(0))
		}
		it.Release()
	}
	assert.Equal(t, []int{4, 4, 2}, rows["patients"])
	assert.Equal(t, []int{3, 3, 1}, rows["icu"])
	assert.LessOrEqual(t, s.HighWater(), 2)
}

func TestOpenConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeCSV(t, dir, "good.csv", 3)

	tests := []struct {
		name    string
		sources []config.SourceConfig
	}{
		{"no sources", nil},
		{"unknown kind", []config.SourceConfig{{Name: "a", Kind: "xlsx", Location: good}}},
		{"missing file after a good source", []config.SourceConfig{
			{Name: "a", Kind: "csv", Location: good},
			{Name: "b", Kind: "csv", Location: filepath.Join(dir, "missing.csv")},
		}},
		{"duplicate names", []config.SourceConfig{
			{Name: "a", Kind: "csv", Location: good},
			{Name: "a", Kind: "csv", Location: good},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewStreamerConfig()
			cfg.Sources = tt.sources
			_, err := Open(context.Background(), cfg)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
		})
	}
}
