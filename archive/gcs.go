package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/api/option"
)

// GCSArchiver uploads outputs to a Cloud Storage bucket. Uploads run
// through a circuit breaker so a dead bucket fails fast instead of stalling
// a batch run.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string

	breaker *gobreaker.CircuitBreaker[string]
}

// NewGCSArchiver connects to Cloud Storage. Extra client options carry
// credentials or an endpoint override.
func NewGCSArchiver(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "GCSArchiver",
		Timeout: 5 * time.Second,
	})
	return &GCSArchiver{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		breaker: cb,
	}, nil
}

// Store uploads the file at path under the given key and returns its
// gs:// locator.
func (a *GCSArchiver) Store(ctx context.Context, path, key string) (string, error) {
	return a.breaker.Execute(func() (string, error) {
		return a.upload(ctx, path, key)
	})
}

func (a *GCSArchiver) upload(ctx context.Context, path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	name := objectName(a.prefix, key)
	wc := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	if _, err := io.Copy(wc, f); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to write object %q: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close object %q: %w", name, err)
	}
	return "gs://" + a.bucket + "/" + name, nil
}

// Close releases the storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
