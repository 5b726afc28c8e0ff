package storage

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type gcsReader struct {
	*storage.Reader
	client *storage.Client
}

func (r *gcsReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func openGCS(ctx context.Context, loc Location, opts Options) (io.ReadCloser, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(loc.Bucket).Object(loc.Key).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &gcsReader{Reader: r, client: client}, nil
}
