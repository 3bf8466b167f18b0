package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
)

// ObjectStoreRepository holds generated report artifacts. Keys are
// service-assigned storage paths recorded on the report row.
type ObjectStoreRepository interface {
	UploadReport(ctx context.Context, storagePath string, content []byte, format models.ReportFormat) error
	DownloadReport(ctx context.Context, storagePath string) (io.ReadCloser, int64, error)
	DeleteReport(ctx context.Context, storagePath string) error
	PresignedURL(ctx context.Context, storagePath string, expiresIn time.Duration) (string, error)
}

type minioRepository struct {
	client *minio.Client
	bucket string
	region string
	logger zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
}

func NewMinIORepository(endpoint, accessKey, secretKey, bucket, region string, useSSL bool, connectTimeout time.Duration, logger zerolog.Logger) (ObjectStoreRepository, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	repo := &minioRepository{
		client: client,
		bucket: bucket,
		region: region,
		logger: logger,
	}

	// Best-effort bootstrap: startup does not fail when MinIO is not ready
	// yet; the bucket check retries on first use instead.
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := repo.ensureBucket(ctx); err != nil {
		logger.Error().Err(err).
			Str("endpoint", endpoint).
			Str("bucket", bucket).
			Msg("MinIO not ready during startup; will retry on demand")
	}

	logger.Info().
		Str("endpoint", endpoint).
		Str("bucket", bucket).
		Bool("ssl", useSSL).
		Msg("Connected to MinIO")

	return repo, nil
}

func (r *minioRepository) ensureBucket(ctx context.Context) error {
	r.ensureMu.Lock()
	defer r.ensureMu.Unlock()
	if r.bucketEnsured {
		return nil
	}

	backoff := 500 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("minio not ready: %w", err)
		}

		if _, err := r.client.ListBuckets(ctx); err != nil {
			time.Sleep(backoff)
			continue
		}

		exists, err := r.client.BucketExists(ctx, r.bucket)
		if err != nil {
			time.Sleep(backoff)
			continue
		}

		if !exists {
			if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{Region: r.region}); err != nil {
				time.Sleep(backoff)
				continue
			}
			r.logger.Info().Str("bucket", r.bucket).Msg("Created new bucket")
		}

		r.bucketEnsured = true
		return nil
	}
}

func (r *minioRepository) UploadReport(ctx context.Context, storagePath string, content []byte, format models.ReportFormat) error {
	if err := r.ensureBucket(ctx); err != nil {
		return err
	}

	contentType := "text/csv"
	if format == models.FormatPDF {
		contentType = "application/pdf"
	}

	uploadInfo, err := r.client.PutObject(ctx, r.bucket, storagePath,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}

	r.logger.Debug().
		Str("bucket", r.bucket).
		Str("path", storagePath).
		Str("etag", uploadInfo.ETag).
		Int("size", len(content)).
		Msg("Report uploaded to MinIO")

	return nil
}

func (r *minioRepository) DownloadReport(ctx context.Context, storagePath string) (io.ReadCloser, int64, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return nil, 0, err
	}

	objInfo, err := r.client.StatObject(ctx, r.bucket, storagePath, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, models.ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to stat report: %w", err)
	}

	object, err := r.client.GetObject(ctx, r.bucket, storagePath, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get report: %w", err)
	}

	return object, objInfo.Size, nil
}

func (r *minioRepository) DeleteReport(ctx context.Context, storagePath string) error {
	if err := r.ensureBucket(ctx); err != nil {
		return err
	}

	if err := r.client.RemoveObject(ctx, r.bucket, storagePath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}

	r.logger.Debug().
		Str("bucket", r.bucket).
		Str("path", storagePath).
		Msg("Report deleted from MinIO")

	return nil
}

func (r *minioRepository) PresignedURL(ctx context.Context, storagePath string, expiresIn time.Duration) (string, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return "", err
	}

	url, err := r.client.PresignedGetObject(ctx, r.bucket, storagePath, expiresIn, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}
