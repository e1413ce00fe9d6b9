package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/justapithecus/warmstart/iox"
)

// S3Config holds configuration for the S3 source.
type S3Config struct {
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
	// MaxSize bounds one object (default DefaultMaxSize).
	MaxSize int64
}

// GetObjectAPI is the slice of the S3 client the source needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads artifacts from S3 objects.
type S3Source struct {
	client  GetObjectAPI
	maxSize int64
}

// NewS3Source creates an S3 source using the AWS SDK default credential
// chain (env vars, shared config, IAM role).
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return NewS3SourceWithClient(s3.NewFromConfig(awsConfig, s3Opts...), cfg.MaxSize), nil
}

// NewS3SourceWithClient creates an S3 source over an existing client.
func NewS3SourceWithClient(client GetObjectAPI, maxSize int64) *S3Source {
	return &S3Source{client: client, maxSize: maxSize}
}

// ParseS3Ref splits s3://bucket/key.
func ParseS3Ref(ref string) (bucket, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 reference: %q", ref)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.New("s3 reference needs a bucket and a key")
	}
	return u.Host, key, nil
}

// Fetch implements Source.
func (s *S3Source) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := ParseS3Ref(ref)
	if err != nil {
		return nil, &FetchError{Kind: ErrUnsupported, Source: "s3", Ref: ref, Err: err}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapFetchError("s3", ref, err)
	}
	defer iox.DiscardClose(out.Body)

	if out.ContentLength != nil && s.maxSize > 0 && *out.ContentLength > s.maxSize {
		return nil, &FetchError{Kind: ErrTooLarge, Source: "s3", Ref: ref,
			Err: fmt.Errorf("object is %d bytes, limit %d", *out.ContentLength, s.maxSize)}
	}

	data, err := readLimited(out.Body, s.maxSize)
	if err != nil {
		return nil, wrapFetchError("s3", ref, err)
	}
	return data, nil
}
