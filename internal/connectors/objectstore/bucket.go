package objectstore

import (
	"context"
	"fmt"
	"strings"
)

// OpenBucket builds the Bucket named by cfg.Provider.
func OpenBucket(ctx context.Context, cfg Config) (Bucket, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gcs", "gs":
		return NewGCSBucket(ctx, cfg)
	case "s3":
		return NewS3Bucket(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported object store provider %q", cfg.Provider)
	}
}
