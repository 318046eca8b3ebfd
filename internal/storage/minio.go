// Package storage fetches uploaded documents from S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/fetcher"
)

// ObjectGetter is the subset of *minio.Client used to read documents.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// MinIOFetcher reads s3://bucket/key URLs. URLs without a bucket use the default bucket.
type MinIOFetcher struct {
	client        ObjectGetter
	defaultBucket string
	maxBytes      int64
	open          func(ctx context.Context, bucket, key string) (objectReader, error)
}

type objectReader interface {
	Read(p []byte) (int, error)
	Close() error
}

// NewMinIOFetcher connects to the configured object store.
func NewMinIOFetcher(cfg config.StorageConfig, maxBytes int64) (*MinIOFetcher, error) {
	if cfg.Endpoint == "" {
		return nil, eris.New("storage: endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "storage: create minio client")
	}
	return newMinIOFetcher(client, cfg.Bucket, maxBytes), nil
}

func newMinIOFetcher(client ObjectGetter, bucket string, maxBytes int64) *MinIOFetcher {
	f := &MinIOFetcher{client: client, defaultBucket: bucket, maxBytes: maxBytes}
	f.open = func(ctx context.Context, bucket, key string) (objectReader, error) {
		return f.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	}
	return f
}

// Fetch downloads the object named by rawURL.
func (f *MinIOFetcher) Fetch(ctx context.Context, rawURL string) (*fetcher.Document, error) {
	bucket, key, err := ParseObjectURL(rawURL, f.defaultBucket)
	if err != nil {
		return nil, err
	}

	obj, err := f.open(ctx, bucket, key)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get %s/%s", bucket, key)
	}
	defer obj.Close() //nolint:errcheck

	data, err := fetcher.ReadLimited(obj, f.maxBytes)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, eris.Errorf("storage: object %s/%s not found", bucket, key)
		}
		return nil, eris.Wrapf(err, "storage: read %s/%s", bucket, key)
	}
	return &fetcher.Document{Name: path.Base(key), Data: data}, nil
}

// Ping checks that the default bucket exists.
func (f *MinIOFetcher) Ping(ctx context.Context) error {
	ok, err := f.client.BucketExists(ctx, f.defaultBucket)
	if err != nil {
		return eris.Wrap(err, "storage: check bucket")
	}
	if !ok {
		return eris.Errorf("storage: bucket %s does not exist", f.defaultBucket)
	}
	return nil
}

// ParseObjectURL splits s3://bucket/key. A bare key resolves against defaultBucket.
func ParseObjectURL(rawURL, defaultBucket string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "storage: parse url")
	}
	if u.Scheme == "" {
		bucket, key = defaultBucket, strings.TrimPrefix(u.Path, "/")
	} else {
		bucket, key = u.Host, strings.TrimPrefix(u.Path, "/")
	}
	if bucket == "" || key == "" {
		return "", "", eris.Errorf("storage: %q does not name a bucket and key", rawURL)
	}
	return bucket, key, nil
}
