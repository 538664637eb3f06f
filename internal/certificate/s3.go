// internal/certificate/s3.go
// Package certificate provides S3-compatible storage for PPSR certificate
// artifacts. The service never streams certificate bytes itself: clients
// upload directly against a presigned URL, and finalization verifies the
// object before it is attached to a report.
package certificate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore is the subset of S3 behavior the certificate flow needs.
// Tests substitute an in-memory implementation.
type ObjectStore interface {
	GenerateUploadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	VerifyObject(ctx context.Context, key, expectedChecksum string) (bool, int64, error)
	ObjectURI(key string) string
}

// S3Client wraps the AWS S3 client for certificate artifact operations.
type S3Client struct {
	client *s3.Client // AWS S3 client
	bucket string     // S3 bucket name for certificate storage
}

// NewS3Client creates a new S3 client for certificate operations.
// It supports both AWS S3 and S3-compatible services like MinIO.
func NewS3Client(endpoint, region, bucket, accessKey, secretKey string) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for MinIO and other S3-compatible
	// services
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Client{
		client: client,
		bucket: bucket,
	}, nil
}

// ObjectKey builds the bucket key for a certificate artifact.
func ObjectKey(reportID, certID string) string {
	return fmt.Sprintf("certificates/%s/%s", reportID, certID)
}

// ObjectURI returns the canonical URI stored on the certificate row.
func (s *S3Client) ObjectURI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// GenerateUploadURL generates a presigned PUT URL so the admin client can
// upload the certificate directly to S3.
func (s *S3Client) GenerateUploadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)

	presignResult, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignResult.URL, nil
}

// VerifyObject checks that the uploaded object exists and matches the
// expected SHA-256 checksum. The checksum comes from object metadata when
// the uploader set it; a missing metadata checksum fails verification.
func (s *S3Client) VerifyObject(ctx context.Context, key, expectedChecksum string) (bool, int64, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, 0, fmt.Errorf("failed to get object metadata: %w", err)
	}

	size := int64(0)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}

	actualChecksum := ""
	for k, v := range result.Metadata {
		if strings.EqualFold(k, "sha256") {
			actualChecksum = v
		}
	}
	if actualChecksum == "" || !strings.EqualFold(actualChecksum, expectedChecksum) {
		return false, size, nil
	}

	return true, size, nil
}
