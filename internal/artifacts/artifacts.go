// Package artifacts issues signed URLs for firmware binaries held in an
// S3-compatible object store.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/config"
)

// ErrNotConfigured is returned when no firmware bucket is configured.
var ErrNotConfigured = errors.New("firmware storage is not configured")

// SignedURL is a time-limited URL for one object.
type SignedURL struct {
	URL       string    `json:"url"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Signer presigns uploads and downloads of firmware objects.
type Signer interface {
	UploadURL(ctx context.Context, path string) (SignedURL, error)
	DownloadURL(ctx context.Context, path string) (SignedURL, error)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SafeName replaces every character outside [a-zA-Z0-9._-] with '_'.
func SafeName(filename string) string {
	return unsafeChars.ReplaceAllString(filename, "_")
}

// ObjectPath names a new upload: the unix millisecond timestamp, an
// underscore, then the sanitized filename.
func ObjectPath(filename string, now time.Time) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), SafeName(filename))
}

// New returns an S3 signer, or a Noop signer when no bucket is configured.
func New(ctx context.Context, cfg config.FirmwareConfig, clk clock.Clock) (Signer, error) {
	if cfg.Bucket == "" {
		return Noop{}, nil
	}
	return NewS3Signer(ctx, cfg, clk)
}

// S3Signer presigns requests against one bucket.
type S3Signer struct {
	bucket      string
	presign     *s3.PresignClient
	clock       clock.Clock
	uploadTTL   time.Duration
	downloadTTL time.Duration
}

// NewS3Signer creates a signer. Credentials fall back to the default AWS
// chain when no static keys are configured.
func NewS3Signer(ctx context.Context, cfg config.FirmwareConfig, clk clock.Clock) (*S3Signer, error) {
	uploadTTL, err := time.ParseDuration(cfg.UploadURLTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid upload_url_ttl: %w", err)
	}
	downloadTTL, err := time.ParseDuration(cfg.DownloadURLTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid download_url_ttl: %w", err)
	}

	loadOpts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Signer{
		bucket:      cfg.Bucket,
		presign:     s3.NewPresignClient(client),
		clock:       clk,
		uploadTTL:   uploadTTL,
		downloadTTL: downloadTTL,
	}, nil
}

// UploadURL presigns a PUT of path.
func (s *S3Signer) UploadURL(ctx context.Context, path string) (SignedURL, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		ContentType: aws.String("application/octet-stream"),
	}, s3.WithPresignExpires(s.uploadTTL))
	if err != nil {
		return SignedURL{}, fmt.Errorf("presign upload %s: %w", path, err)
	}

	return SignedURL{URL: req.URL, Path: path, ExpiresAt: s.clock.Now().Add(s.uploadTTL)}, nil
}

// DownloadURL presigns a GET of path.
func (s *S3Signer) DownloadURL(ctx context.Context, path string) (SignedURL, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(s.downloadTTL))
	if err != nil {
		return SignedURL{}, fmt.Errorf("presign download %s: %w", path, err)
	}

	return SignedURL{URL: req.URL, Path: path, ExpiresAt: s.clock.Now().Add(s.downloadTTL)}, nil
}

// Noop rejects every request with ErrNotConfigured.
type Noop struct{}

// UploadURL implements Signer.
func (Noop) UploadURL(ctx context.Context, path string) (SignedURL, error) {
	return SignedURL{}, ErrNotConfigured
}

// DownloadURL implements Signer.
func (Noop) DownloadURL(ctx context.Context, path string) (SignedURL, error) {
	return SignedURL{}, ErrNotConfigured
}
