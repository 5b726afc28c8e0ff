package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	gojson "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/exchange"
	"github.com/ajitpratap0/fedstream/pkg/logger"
	"github.com/ajitpratap0/fedstream/pkg/metrics"
	"github.com/ajitpratap0/fedstream/pkg/observability"
	"github.com/ajitpratap0/fedstream/pkg/pipeline"
)

// SourceSummary is the per-source part of the run summary.
type SourceSummary struct {
	Batches  int      `json:"batches"`
	Rows     int64    `json:"rows"`
	Failures []string `json:"failures,omitempty"`
	Output   string   `json:"output,omitempty"`
}

// Summary is printed as JSON when a stream run finishes.
type Summary struct {
	Streamer  string                    `json:"streamer"`
	Sources   map[string]*SourceSummary `json:"sources"`
	Duration  string                    `json:"duration"`
	HighWater int                       `json:"channel_high_water"`
	Stalls    int64                     `json:"producer_stalls"`
	RSSBytes  uint64                    `json:"rss_bytes,omitempty"`
}

func newStreamCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream every configured source to Arrow IPC files",
		Long: `Stream reads the sources of a YAML configuration concurrently. With --output-dir
each source's records are written to <dir>/<source>.arrows as an Arrow IPC stream.
A JSON summary is printed when the stream ends.

Example:
  fedstream stream --config streams.yaml --output-dir ./out --batch-size 4096`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStream(ctx, cfg, v.GetString("output-dir"), v.GetString("metrics-addr"), cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringP("config", "c", "", "Path to the streamer YAML configuration (required)")
	flags.String("output-dir", "", "Directory for per-source Arrow IPC stream files")
	flags.Int("batch-size", 0, "Global requested batch size (overrides the configuration)")
	flags.Int("buffer-capacity", 0, "Bounded channel capacity (overrides the configuration)")
	flags.Int("workers", 0, "Executor width for blocking fetches (overrides the configuration)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("trace", false, "Export fetch spans to stderr")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while streaming")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// loadConfig reads the configuration file and applies flag and
// FEDSTREAM_* environment overrides.
func loadConfig(v *viper.Viper) (*config.StreamerConfig, error) {
	cfg := &config.StreamerConfig{}
	if err := config.Load(v.GetString("config"), cfg); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if n := v.GetInt("batch-size"); n > 0 {
		cfg.BatchSize = n
	}
	if n := v.GetInt("buffer-capacity"); n > 0 {
		cfg.BufferCapacity = n
	}
	if n := v.GetInt("workers"); n > 0 {
		cfg.Workers = n
	}
	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.Observability.LogLevel = lvl
	}
	if v.GetBool("trace") {
		cfg.Observability.EnableTracing = true
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{Level: cfg.Observability.LogLevel, Encoding: cfg.Observability.LogEncoding}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStream(ctx context.Context, cfg *config.StreamerConfig, outputDir, metricsAddr string, stdout io.Writer) error {
	log := logger.With(zap.String("component", "fedstream-cli"), zap.String("streamer", cfg.Name))

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig()
		tc.ServiceVersion = version
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		shutdown, err := observability.Init(tc)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	opts := []pipeline.Option{pipeline.WithLogger(log)}
	if cfg.Observability.EnableMetrics || metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, pipeline.WithMetrics(metrics.NewCollector(reg, cfg.Name)))
		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Warn("metrics server stopped", zap.Error(err))
				}
			}()
			defer srv.Close()
		}
	}

	start := time.Now()
	s, err := pipeline.Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	log.Info("streaming", zap.Int("sources", len(cfg.Sources)), zap.Int("batch_size", cfg.BatchSize))

	summary := &Summary{Streamer: cfg.Name, Sources: make(map[string]*SourceSummary)}
	for _, sc := range cfg.Sources {
		summary.Sources[sc.Name] = &SourceSummary{}
	}
	files, err := newOutputs(outputDir)
	if err != nil {
		s.Close()
		return err
	}

	var runErr error
	for it, err := range s.All(ctx) {
		if err != nil {
			runErr = err
			break
		}
		ss := summary.Sources[it.Source]
		if it.Kind == pipeline.ItemFailure {
			log.Error("source failed", zap.String("source", it.Source), zap.Error(it.Err))
			ss.Failures = append(ss.Failures, it.Err.Error())
			continue
		}
		ss.Batches++
		ss.Rows += it.Record.NumRows()
		if werr := files.write(it.Source, it.Record); werr != nil && runErr == nil {
			runErr = werr
		}
		it.Release()
		if runErr != nil {
			break
		}
	}

	summary.HighWater = s.HighWater()
	summary.Stalls = s.Stalls()
	runErr = errors.Join(runErr, s.Close(), files.close(summary))
	summary.Duration = time.Since(start).Round(time.Millisecond).String()
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			summary.RSSBytes = mem.RSS
		}
	}

	enc := gojson.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}
	return runErr
}

// outputs keeps one IPC stream file per source.
type outputs struct {
	dir     string
	files   map[string]*os.File
	writers map[string]*exchange.IPCWriter
}

func newOutputs(dir string) (*outputs, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	return &outputs{dir: dir, files: map[string]*os.File{}, writers: map[string]*exchange.IPCWriter{}}, nil
}

func (o *outputs) write(source string, rec arrow.Record) error {
	if o.dir == "" {
		return nil
	}
	w, ok := o.writers[source]
	if !ok {
		if filepath.Base(source) != source || source == ".." {
			return fmt.Errorf("source name %q is not a plain file name", source)
		}
		f, err := os.Create(filepath.Join(o.dir, source+".arrows"))
		if err != nil {
			return err
		}
		o.files[source] = f
		w = exchange.NewIPCWriter(f)
		o.writers[source] = w
	}
	return w.Write(rec)
}

func (o *outputs) close(summary *Summary) error {
	var errs []error
	for source, w := range o.writers {
		errs = append(errs, w.Close(), o.files[source].Close())
		summary.Sources[source].Output = o.files[source].Name()
	}
	return errors.Join(errs...)
}
