// Package objectstore implements a repository connector over a cloud object bucket.
// Keys ending in "/" are treated as folders; "/" alone is the bucket root.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/fingerprint"
)

// RootID identifies the bucket root.
const RootID = "/"

// ErrObjectNotFound is returned by Bucket implementations for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// Object describes one stored object.
type Object struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
	Updated     time.Time
}

// Page is one page of a delimited listing.
type Page struct {
	Prefixes  []string
	Objects   []Object
	NextToken string
}

// Bucket is the narrow storage API the connector needs. Implementations list
// with "/" as the delimiter.
type Bucket interface {
	// Scheme is the URI scheme of the provider, e.g. "gs" or "s3".
	Scheme() string
	Name() string
	Ping(ctx context.Context) error
	List(ctx context.Context, prefix, token string) (Page, error)
	Stat(ctx context.Context, key string) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Config captures the parameters of an object store connection.
type Config struct {
	Name            string `mapstructure:"name"`
	Provider        string `mapstructure:"provider"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	CredentialsFile string `mapstructure:"credentials_file"`
	PageSize        int    `mapstructure:"page_size"`
}

// Connector walks a bucket.
type Connector struct {
	name   string
	prefix string
	bucket Bucket
	logger *zap.Logger
}

// New builds a Connector over bucket.
func New(cfg Config, bucket Bucket, logger *zap.Logger) (*Connector, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("connection name is required")
	}
	if bucket == nil {
		return nil, fmt.Errorf("bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Connector{name: cfg.Name, prefix: prefix, bucket: bucket, logger: logger}, nil
}

// Name implements crawler.Connector.
func (c *Connector) Name() string {
	return c.name
}

// Kind implements crawler.Connector.
func (c *Connector) Kind() string {
	return c.bucket.Scheme()
}

// Check verifies the bucket exists and is reachable.
func (c *Connector) Check(ctx context.Context) error {
	if err := c.bucket.Ping(ctx); err != nil {
		return classify("ping bucket", err)
	}
	return nil
}

// Seed emits the job's seeds, or the configured prefix.
func (c *Connector) Seed(_ context.Context, params crawler.JobParameters, out *bridge.Sequence) error {
	seeds := params.Seeds
	if len(seeds) == 0 {
		seeds = []string{c.prefix}
	}
	for _, seed := range seeds {
		if seed == "" {
			seed = RootID
		}
		if !out.Put(seed) {
			return nil
		}
	}
	return nil
}

// Version stats an object. Folders have no version and are always relisted.
func (c *Connector) Version(ctx context.Context, id string) (crawler.DocumentInfo, error) {
	if isFolder(id) {
		return crawler.DocumentInfo{Container: true, URI: c.uri(id)}, nil
	}
	obj, err := c.bucket.Stat(ctx, id)
	if err != nil {
		return crawler.DocumentInfo{}, classify("stat object", err)
	}
	fp := fingerprint.Fingerprint{
		Path:   c.uri(id),
		Tag:    obj.ETag,
		Length: obj.Size,
	}
	if !obj.Updated.IsZero() {
		fp.Modified = obj.Updated.UnixMilli()
	}
	return crawler.DocumentInfo{
		Version:     fp.String(),
		Indexable:   true,
		ContentType: obj.ContentType,
		URI:         c.uri(id),
	}, nil
}

// Children lists a folder page by page, stopping between pages once abandoned.
func (c *Connector) Children(ctx context.Context, id string, out *bridge.Sequence) error {
	prefix := id
	if prefix == RootID {
		prefix = ""
	}
	token := ""
	for {
		if out.IsAbandoned() {
			return nil
		}
		page, err := c.bucket.List(ctx, prefix, token)
		if err != nil {
			return classify("list folder", err)
		}
		for _, p := range page.Prefixes {
			if !out.Put(p) {
				return nil
			}
		}
		for _, obj := range page.Objects {
			// folder placeholder objects
			if obj.Key == prefix || isFolder(obj.Key) {
				continue
			}
			if !out.Put(obj.Key) {
				return nil
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

// Content streams the object body.
func (c *Connector) Content(ctx context.Context, id string, out *bridge.ByteStream) error {
	body, err := c.bucket.Open(ctx, id)
	if err != nil {
		return classify("open object", err)
	}
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			c.logger.Debug("close object reader failed", zap.String("key", id), zap.Error(closeErr))
		}
	}()
	if _, err := out.ReadFrom(body); err != nil {
		if errors.Is(err, bridge.ErrAbandoned) {
			return err
		}
		return classify("read object", err)
	}
	return nil
}

func (c *Connector) uri(id string) string {
	return fmt.Sprintf("%s://%s/%s", c.bucket.Scheme(), c.bucket.Name(), strings.TrimPrefix(id, "/"))
}

func isFolder(id string) bool {
	return strings.HasSuffix(id, "/")
}

func classify(op string, err error) error {
	var bridgeErr *bridge.Error
	switch {
	case errors.Is(err, ErrObjectNotFound):
		return fmt.Errorf("%s: %w", op, crawler.ErrNotFound)
	case errors.As(err, &bridgeErr):
		return err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return bridge.RemoteIO(op, err)
	}
}
