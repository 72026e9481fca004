package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
)

// S3API is the subset of *s3.Client used by S3Bucket.
type S3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Bucket adapts an S3 bucket to Bucket.
type S3Bucket struct {
	api      S3API
	bucket   string
	pageSize int32
}

// NewS3Bucket loads the default AWS configuration and builds an S3Bucket.
func NewS3Bucket(ctx context.Context, cfg Config) (*S3Bucket, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3BucketFromAPI(client, cfg.Bucket, cfg.PageSize), nil
}

// NewS3BucketFromAPI wraps an existing client.
func NewS3BucketFromAPI(api S3API, bucket string, pageSize int) *S3Bucket {
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}
	return &S3Bucket{api: api, bucket: bucket, pageSize: int32(pageSize)}
}

// Scheme implements Bucket.
func (b *S3Bucket) Scheme() string {
	return "s3"
}

// Name implements Bucket.
func (b *S3Bucket) Name() string {
	return b.bucket
}

// Ping implements Bucket.
func (b *S3Bucket) Ping(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return s3Error("head bucket", err)
	}
	return nil
}

// List implements Bucket using ListObjectsV2 continuation tokens.
func (b *S3Bucket) List(ctx context.Context, prefix, token string) (Page, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(b.pageSize),
	}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}
	out, err := b.api.ListObjectsV2(ctx, in)
	if err != nil {
		return Page{}, s3Error("list objects", err)
	}
	page := Page{}
	for _, p := range out.CommonPrefixes {
		page.Prefixes = append(page.Prefixes, aws.ToString(p.Prefix))
	}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, Object{
			Key:     aws.ToString(obj.Key),
			Size:    aws.ToInt64(obj.Size),
			ETag:    aws.ToString(obj.ETag),
			Updated: aws.ToTime(obj.LastModified),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// Stat implements Bucket.
func (b *S3Bucket) Stat(ctx context.Context, key string) (Object, error) {
	out, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Object{}, s3Error("head object", err)
	}
	return Object{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        aws.ToString(out.ETag),
		ContentType: aws.ToString(out.ContentType),
		Updated:     aws.ToTime(out.LastModified),
	}, nil
}

// Open implements Bucket.
func (b *S3Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error("get object", err)
	}
	return out.Body, nil
}

func s3Error(op string, err error) error {
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
		noBucket *types.NoSuchBucket
		respErr  *awshttp.ResponseError
	)
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return fmt.Errorf("%s: %w", op, ErrObjectNotFound)
	case errors.As(err, &noBucket):
		return bridge.Protocol(op+": no such bucket", err)
	case errors.As(err, &respErr):
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, ErrObjectNotFound)
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			return bridge.Protocol(op+": access denied", err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
