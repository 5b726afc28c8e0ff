// Package storage resolves source locations to byte streams. Locations are
// local paths, file:// URLs, s3://bucket/key or gs://bucket/object. A
// compression extension on the location (".gz", ".zst", ...) is decoded
// transparently.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/ajitpratap0/fedstream/pkg/compression"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// Scheme identifies the storage backend of a location.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
	SchemeGCS  Scheme = "gs"
)

// Options carries backend settings taken from source options.
type Options struct {
	Region          string // s3 region
	Endpoint        string // s3-compatible endpoint, enables path-style addressing
	CredentialsFile string // gcs service account file
}

// OptionsFromMap reads region, endpoint and credentials_file.
func OptionsFromMap(m map[string]string) Options {
	return Options{
		Region:          m["region"],
		Endpoint:        m["endpoint"],
		CredentialsFile: m["credentials_file"],
	}
}

// Location is a parsed source location.
type Location struct {
	Raw         string
	Scheme      Scheme
	Bucket      string
	Key         string // object key, or the file path for SchemeFile
	Compression compression.Algorithm
}

// ParseLocation splits raw into scheme, bucket and key, and detects the
// compression algorithm from the extension.
func ParseLocation(raw string) (Location, error) {
	if strings.TrimSpace(raw) == "" {
		return Location{}, fmt.Errorf("location is empty")
	}
	alg, _ := compression.Detect(raw)
	loc := Location{Raw: raw, Compression: alg}

	if !strings.Contains(raw, "://") {
		loc.Scheme = SchemeFile
		loc.Key = raw
		return loc, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid location %q: %w", raw, err)
	}
	switch Scheme(u.Scheme) {
	case SchemeFile:
		loc.Scheme = SchemeFile
		loc.Key = u.Host + u.Path
	case SchemeS3, SchemeGCS:
		loc.Scheme = Scheme(u.Scheme)
		loc.Bucket = u.Host
		loc.Key = strings.TrimPrefix(u.Path, "/")
		if loc.Bucket == "" || loc.Key == "" {
			return Location{}, fmt.Errorf("location %q needs a bucket and an object key", raw)
		}
	default:
		return Location{}, fmt.Errorf("unsupported location scheme %q", u.Scheme)
	}
	return loc, nil
}

// Open returns the decompressed contents of location as a stream.
func Open(ctx context.Context, raw string, opts Options) (io.ReadCloser, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse location")
	}
	var rc io.ReadCloser
	switch loc.Scheme {
	case SchemeFile:
		f, err := os.Open(loc.Key)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "open file")
		}
		rc = f
	case SchemeS3:
		rc, err = openS3(ctx, loc, opts)
	case SchemeGCS:
		rc, err = openGCS(ctx, loc, opts)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "open object").
			WithDetail(errors.DetailLocation, raw)
	}
	return decompress(rc, loc.Compression)
}

func decompress(rc io.ReadCloser, alg compression.Algorithm) (io.ReadCloser, error) {
	if alg == compression.None {
		return rc, nil
	}
	dec, err := compression.NewReader(rc, alg)
	if err != nil {
		rc.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decompress")
	}
	return &stackedCloser{Reader: dec, closers: []io.Closer{dec, rc}}, nil
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// File is a random-access view of a location, as needed by footer-indexed
// formats such as Parquet.
type File interface {
	io.ReaderAt
	io.ReadSeeker
	io.Closer
	Size() int64
}

type osFile struct {
	*os.File
	size int64
}

func (f *osFile) Size() int64 { return f.size }

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

// OpenFile returns a random-access view of location. Uncompressed local files
// are read in place; anything else is loaded into memory first.
func OpenFile(ctx context.Context, raw string, opts Options) (File, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse location")
	}
	if loc.Scheme == SchemeFile && loc.Compression == compression.None {
		f, err := os.Open(loc.Key)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "open file")
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "stat file")
		}
		return &osFile{File: f, size: st.Size()}, nil
	}
	data, err := ReadAll(ctx, raw, opts)
	if err != nil {
		return nil, err
	}
	return memFile{bytes.NewReader(data)}, nil
}

// ReadAll loads the decompressed contents of location.
func ReadAll(ctx context.Context, raw string, opts Options) ([]byte, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse location")
	}
	if loc.Scheme == SchemeS3 && loc.Compression == compression.None {
		data, err := downloadS3(ctx, loc, opts)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "download object").
				WithDetail(errors.DetailLocation, raw)
		}
		return data, nil
	}
	rc, err := Open(ctx, raw, opts)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "read location").
			WithDetail(errors.DetailLocation, raw)
	}
	return data, nil
}
