package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultAWSRegion is the fallback region when neither config nor
// environment specifies one.
const DefaultAWSRegion = "us-east-1"

// S3Config configures an S3Store.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// credentials are provided. For S3-compatible stores (MinIO, Wasabi, site
// object gateways), set Endpoint and typically ForcePathStyle.
type S3Config struct {
	// Bucket is the destination bucket (required).
	Bucket string

	// Region is the AWS region. Defaults to us-east-1 for AWS S3 when not
	// resolvable from environment or profile; no default is applied when
	// Endpoint is set.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile selects a shared-config profile. Empty uses the default chain.
	Profile string

	// AccessKeyID and SecretAccessKey are explicit credentials; both must
	// be set together and take precedence over the default chain.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs, required by most
	// S3-compatible stores.
	ForcePathStyle bool
}

// Validate checks that required configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("uploader: s3 bucket is required")
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return fmt.Errorf("uploader: access key ID and secret access key must be provided together")
	}
	return nil
}

// S3Store implements ObjectStore on AWS S3 and S3-compatible storage.
type S3Store struct {
	client *s3.Client
	bucket string
}

var _ ObjectStore = (*S3Store)(nil)

// NewS3Store builds an S3Store from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("uploader: load aws config: %w", err)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg S3Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	// Explicit region only when the user set one; let the SDK resolve from
	// env/profile otherwise.
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}
	return awsCfg, nil
}

// Head returns metadata for key.
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}
	return &ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(out.ContentLength),
		ETag: strings.Trim(aws.ToString(out.ETag), "\""),
	}, nil
}

// PutObject uploads body under key.
func (s *S3Store) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: &contentLength,
	})
	if err != nil {
		return s.wrapError("PutObject", key, err)
	}
	return nil
}

// wrapError maps S3 failures onto the package sentinels so callers can
// branch with errors.Is.
func (s *S3Store) wrapError(op, key string, err error) error {
	sentinel := err

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var apiErr smithy.APIError

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		sentinel = ErrNotFound
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			sentinel = ErrNotFound
		case "AccessDenied", "Forbidden":
			sentinel = ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			sentinel = ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			sentinel = ErrThrottled
		case "ServiceUnavailable", "InternalError":
			sentinel = ErrStoreUnavailable
		}
	}

	if sentinel == err {
		return fmt.Errorf("uploader: %s s3://%s/%s: %w", op, s.bucket, key, err)
	}
	return fmt.Errorf("%w: %s s3://%s/%s: %v", sentinel, op, s.bucket, key, err)
}
