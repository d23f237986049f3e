package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"klassenbuch_go/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotConfigured is returned when no bucket or region is set.
var ErrNotConfigured = errors.New("S3 storage not configured")

// ObjectAPI is the subset of the S3 client the storage service uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type StorageService struct {
	client ObjectAPI
	bucket string
	region string
}

// NewStorageService loads the default AWS config for the configured region.
// Static keys from the app config take precedence over the default chain.
func NewStorageService(ctx context.Context, cfg *config.Config) (*StorageService, error) {
	if cfg == nil || cfg.S3BucketName == "" || cfg.AWSRegion == "" {
		return nil, ErrNotConfigured
	}
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     cfg.AWSAccessKeyID,
					SecretAccessKey: cfg.AWSSecretAccessKey,
					Source:          "klassenbuch config",
				}, nil
			})))
	}
	awsConfig, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(awsConfig), cfg.S3BucketName, cfg.AWSRegion), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectAPI, bucket, region string) *StorageService {
	return &StorageService{client: client, bucket: bucket, region: region}
}

// ObjectKey builds a dated key under folder: folder/2024/11/18/<uuid>-name
func ObjectKey(folder, name string, now time.Time) string {
	name = strings.ReplaceAll(path.Base(name), " ", "_")
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s-%s",
		strings.Trim(folder, "/"), now.Year(), now.Month(), now.Day(), uuid.NewString()[:8], name)
}

// Upload stores body under key and returns the object URL.
func (s *StorageService) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrNotConfigured
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	logrus.WithFields(logrus.Fields{"key": key, "bytes": len(body)}).Info("Uploaded object to S3")
	return s.URL(key), nil
}

// Download opens the object stored under key.
func (s *StorageService) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil || s.client == nil {
		return nil, ErrNotConfigured
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return out.Body, nil
}

// DeleteFile deletes an object by its URL
func (s *StorageService) DeleteFile(ctx context.Context, fileURL string) error {
	if s == nil || s.client == nil {
		return ErrNotConfigured
	}
	key := KeyFromURL(fileURL)
	if key == "" {
		return fmt.Errorf("invalid file URL")
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// URL returns the virtual-hosted URL of key.
func (s *StorageService) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// KeyFromURL extracts the S3 key from a full URL
func KeyFromURL(url string) string {
	// https://bucket.s3.region.amazonaws.com/path/to/file.ext
	parts := strings.Split(url, ".amazonaws.com/")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
