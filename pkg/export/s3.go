package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/dsa110/taskq/pkg/monitor"
)

// S3Client is the subset of the S3 API the exporter needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter uploads each report as a new object named
// <prefix>/report-<timestamp>.<ext>.
type S3Exporter struct {
	client  S3Client
	bucket  string
	prefix  string
	format  Format
	timeout time.Duration
	now     func() time.Time
}

// S3Option configures an S3Exporter.
type S3Option func(*S3Exporter)

// WithS3Client replaces the SDK client, mainly for tests.
func WithS3Client(client S3Client) S3Option {
	return func(e *S3Exporter) {
		e.client = client
	}
}

func WithS3Clock(now func() time.Time) S3Option {
	return func(e *S3Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewS3Exporter builds an exporter from cfg. The AWS SDK client is created
// only when WithS3Client is not supplied.
func NewS3Exporter(ctx context.Context, cfg Config, opts ...S3Option) (*S3Exporter, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("%w: S3 bucket is required", ErrInvalidConfig)
	}
	format := cfg.Format
	if format == "" {
		format = FormatJSON
	}
	if err := format.validate(); err != nil {
		return nil, err
	}

	e := &S3Exporter{
		bucket:  cfg.S3Bucket,
		prefix:  strings.Trim(cfg.S3Prefix, "/"),
		format:  format,
		timeout: cfg.UploadTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client != nil {
		return e, nil
	}

	if cfg.S3Region == "" {
		return nil, fmt.Errorf("%w: S3 region is required", ErrInvalidConfig)
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadConfig, err)
	}

	e.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})
	return e, nil
}

// Key returns the object key for a report generated at t.
func (e *S3Exporter) Key(t time.Time) string {
	name := fmt.Sprintf("report-%s.%s", t.UTC().Format("20060102T150405Z"), e.format.extension())
	if e.prefix == "" {
		return name
	}
	return path.Join(e.prefix, name)
}

func (e *S3Exporter) Export(ctx context.Context, r *monitor.Report) error {
	data, err := Encode(e.format, r)
	if err != nil {
		return err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	generated := r.GeneratedAt
	if generated.IsZero() {
		generated = e.now()
	}

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(e.Key(generated)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(e.format.contentType()),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return classifyS3Error(err)
	}
	return nil
}

func (e *S3Exporter) String() string {
	return "s3://" + path.Join(e.bucket, e.prefix)
}

func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return errors.Join(ErrOperationCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrOperationTimeout, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return errors.Join(ErrBucketNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errors.Join(ErrAccessDenied, err)
		case "RequestTimeout", "RequestTimeoutException":
			return errors.Join(ErrOperationTimeout, err)
		case "ServiceUnavailable", "SlowDown", "InternalError":
			return errors.Join(ErrServiceUnavailable, err)
		}
	}
	return fmt.Errorf("export: upload report: %w", err)
}
