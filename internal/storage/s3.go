// Package storage keeps generated image artifacts in an S3-compatible
// bucket and hands out presigned download URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/config"
)

type S3Client struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucket     string
	presignTTL time.Duration
	logger     *zap.Logger
}

type UploadResult struct {
	Key      string
	URL      string
	Size     int64
	Checksum string
}

// NewS3Client creates a client for AWS S3 or any S3-compatible endpoint
// (DigitalOcean Spaces, MinIO). Path-style addressing is used whenever a
// custom endpoint is configured.
func NewS3Client(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*S3Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	logger.Info("S3 client initialized",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint),
	)

	return &S3Client{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		presignTTL: ttl,
		logger:     logger,
	}, nil
}

// UploadFile stores data under key as a private object.
func (s *S3Client) UploadFile(ctx context.Context, key string, data []byte, contentType string) (*UploadResult, error) {
	result, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &UploadResult{
		Key:      key,
		Size:     int64(len(data)),
		Checksum: aws.ToString(result.ETag),
	}, nil
}

// GeneratePresignedURL creates a presigned URL for downloading a file
func (s *S3Client) GeneratePresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiration
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}

// DeleteFile removes one object. Deleting a missing key is not an error.
func (s *S3Client) DeleteFile(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// SaveArtifact uploads a generated image for userID and returns its key
// and a presigned URL valid for the configured TTL.
func (s *S3Client) SaveArtifact(ctx context.Context, userID string, data []byte, contentType string) (*UploadResult, error) {
	key := CreationKey(userID, uuid.NewString(), extensionFor(contentType))
	result, err := s.UploadFile(ctx, key, data, contentType)
	if err != nil {
		return nil, err
	}
	result.URL, err = s.GeneratePresignedURL(ctx, key, s.presignTTL)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Stored artifact", zap.String("key", key), zap.Int64("size", result.Size))
	return result, nil
}

// CreationKey builds users/{userID}/creations/{id}{ext}.
func CreationKey(userID, id, ext string) string {
	return fmt.Sprintf("users/%s/creations/%s%s", userID, id, ext)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
