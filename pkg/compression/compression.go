// Package compression wraps file streams in decompressing readers and
// compressing writers. Sources pick the algorithm from the location's file
// extension, so "patients.csv.zst" is read as zstd-compressed CSV.
//
// # Algorithms
//
//   - gzip (.gz), deflate (.deflate)
//   - zstd (.zst, .zstd)
//   - snappy framed (.sz, .snappy), s2 (.s2)
//   - lz4 frame (.lz4)
//
// # Usage
//
//	alg, inner := compression.Detect("s3://bucket/events.jsonl.gz")
//	// alg == compression.Gzip, inner == "s3://bucket/events.jsonl"
//	rc, err := compression.NewReader(f, alg)
package compression

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

var extensions = map[string]Algorithm{
	".gz":      Gzip,
	".gzip":    Gzip,
	".deflate": Deflate,
	".zst":     Zstd,
	".zstd":    Zstd,
	".sz":      Snappy,
	".snappy":  Snappy,
	".s2":      S2,
	".lz4":     LZ4,
}

// Detect returns the algorithm implied by the extension of location and the
// location with that extension removed.
func Detect(location string) (Algorithm, string) {
	ext := strings.ToLower(path.Ext(location))
	if alg, ok := extensions[ext]; ok {
		return alg, location[:len(location)-len(ext)]
	}
	return None, location
}

// ParseAlgorithm resolves a configured algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch alg := Algorithm(strings.ToLower(strings.TrimSpace(name))); alg {
	case "", None:
		return None, nil
	case Gzip, Snappy, LZ4, Zstd, S2, Deflate:
		return alg, nil
	}
	return None, fmt.Errorf("unsupported compression algorithm: %s", name)
}

type readCloser struct {
	io.Reader
	close func() error
}

func (rc readCloser) Close() error { return rc.close() }

// NewReader returns a reader decompressing src. Closing it releases decoder
// state only; src is left open.
func NewReader(src io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case None, "":
		return io.NopCloser(src), nil
	case Gzip:
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return r, nil
	case Deflate:
		return flate.NewReader(src), nil
	case Zstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return readCloser{Reader: dec, close: func() error { dec.Close(); return nil }}, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(src)), nil
	case S2:
		return io.NopCloser(s2.NewReader(src)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
}

// NewWriter returns a writer compressing into dst. Close flushes the stream
// but does not close dst.
func NewWriter(dst io.Writer, alg Algorithm, level Level) (io.WriteCloser, error) {
	switch alg {
	case None, "":
		return nopWriteCloser{dst}, nil
	case Gzip:
		return gzip.NewWriterLevel(dst, mapGzipLevel(level))
	case Deflate:
		return flate.NewWriter(dst, mapGzipLevel(level))
	case Zstd:
		return zstd.NewWriter(dst, zstd.WithEncoderLevel(mapZstdLevel(level)))
	case Snappy:
		return snappy.NewBufferedWriter(dst), nil
	case S2:
		return s2.NewWriter(dst), nil
	case LZ4:
		w := lz4.NewWriter(dst)
		if err := w.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, err
		}
		return w, nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
