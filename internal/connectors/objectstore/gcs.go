package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
)

// GCSBucket adapts a Google Cloud Storage bucket to Bucket.
type GCSBucket struct {
	client   *storage.Client
	bucket   string
	pageSize int
}

// NewGCSBucket creates a storage client, using CredentialsFile when set and
// application default credentials otherwise.
func NewGCSBucket(ctx context.Context, cfg Config) (*GCSBucket, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return NewGCSBucketFromClient(client, cfg.Bucket, cfg.PageSize), nil
}

// NewGCSBucketFromClient wraps an existing client.
func NewGCSBucketFromClient(client *storage.Client, bucket string, pageSize int) *GCSBucket {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &GCSBucket{client: client, bucket: bucket, pageSize: pageSize}
}

// Close releases the storage client.
func (b *GCSBucket) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}

// Scheme implements Bucket.
func (b *GCSBucket) Scheme() string {
	return "gs"
}

// Name implements Bucket.
func (b *GCSBucket) Name() string {
	return b.bucket
}

// Ping implements Bucket.
func (b *GCSBucket) Ping(ctx context.Context) error {
	if _, err := b.client.Bucket(b.bucket).Attrs(ctx); err != nil {
		return gcsError("bucket attrs", err)
	}
	return nil
}

// List implements Bucket with an iterator pager so a listing can resume from a token.
func (b *GCSBucket) List(ctx context.Context, prefix, token string) (Page, error) {
	query := &storage.Query{Prefix: prefix, Delimiter: "/"}
	if err := query.SetAttrSelection([]string{"Name", "Size", "Etag", "ContentType", "Updated"}); err != nil {
		return Page{}, fmt.Errorf("select attrs: %w", err)
	}
	it := b.client.Bucket(b.bucket).Objects(ctx, query)
	var attrs []*storage.ObjectAttrs
	next, err := iterator.NewPager(it, b.pageSize, token).NextPage(&attrs)
	if err != nil {
		return Page{}, gcsError("list objects", err)
	}
	return pageFromAttrs(attrs, next), nil
}

// Stat implements Bucket.
func (b *GCSBucket) Stat(ctx context.Context, key string) (Object, error) {
	attrs, err := b.client.Bucket(b.bucket).Object(key).Attrs(ctx)
	if err != nil {
		return Object{}, gcsError("object attrs", err)
	}
	return objectFromAttrs(attrs), nil
}

// Open implements Bucket.
func (b *GCSBucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, gcsError("open object", err)
	}
	return r, nil
}

func pageFromAttrs(attrs []*storage.ObjectAttrs, next string) Page {
	page := Page{NextToken: next}
	for _, a := range attrs {
		if a.Prefix != "" {
			page.Prefixes = append(page.Prefixes, a.Prefix)
			continue
		}
		page.Objects = append(page.Objects, objectFromAttrs(a))
	}
	return page
}

func objectFromAttrs(a *storage.ObjectAttrs) Object {
	return Object{
		Key:         a.Name,
		Size:        a.Size,
		ETag:        a.Etag,
		ContentType: a.ContentType,
		Updated:     a.Updated,
	}
}

func gcsError(op string, err error) error {
	var apiErr *googleapi.Error
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return fmt.Errorf("%s: %w", op, ErrObjectNotFound)
	case errors.Is(err, storage.ErrBucketNotExist):
		return bridge.Protocol(op+": no such bucket", err)
	case errors.As(err, &apiErr) && (apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusUnauthorized):
		return bridge.Protocol(op+": access denied", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
