package audit

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/crestline/gatekeeper/pkg/observability"
)

// ArchiveConfig configures cold storage for audit trail exports.
// Endpoint and path style are for MinIO in local development.
type ArchiveConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Archiver pushes daily NDJSON snapshots of the audit trail to object
// storage so database retention can stay short.
type S3Archiver struct {
	client *s3.Client
	bucket string
	store  *Store
	logger *observability.Logger
}

// NewS3Archiver creates an archiver against the configured bucket
func NewS3Archiver(cfg ArchiveConfig, store *Store, logger *observability.Logger) (*S3Archiver, error) {
	ctx := context.Background()

	var awsCfg aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	if err := createBucketIfNotExists(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		store:  store,
		logger: logger,
	}, nil
}

// ArchiveDay exports all audit events for the given UTC day and uploads them
// as one NDJSON object. The object key is audit/YYYY/MM/DD.ndjson.
func (a *S3Archiver) ArchiveDay(ctx context.Context, day time.Time) (string, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Nanosecond)

	// Page through the trail; a single day can exceed one search limit.
	var all []*Event
	const pageSize = 1000
	for offset := 0; ; offset += pageSize {
		page, err := a.store.Search(ctx, SearchFilter{
			StartTime: &start,
			EndTime:   &end,
			Limit:     pageSize,
			Offset:    offset,
		})
		if err != nil {
			return "", fmt.Errorf("failed to read audit trail for archive: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}

	body, err := exportNDJSON(all)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("audit/%04d/%02d/%02d.ndjson", start.Year(), start.Month(), start.Day())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"event-count": fmt.Sprintf("%d", len(all)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audit archive: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"key":    key,
		"events": len(all),
	}).Info("archived audit trail day")
	return key, nil
}

// HealthCheck verifies the archive bucket is reachable
func (a *S3Archiver) HealthCheck(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		return fmt.Errorf("audit archive health check failed: %w", err)
	}
	return nil
}

func createBucketIfNotExists(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isBucketAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "BucketAlreadyExists") || strings.Contains(msg, "BucketAlreadyOwnedByYou")
}
