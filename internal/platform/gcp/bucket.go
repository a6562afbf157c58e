package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

type BucketCategory string

const (
	BucketCategoryGeometry BucketCategory = "geometry"
	BucketCategoryPreview  BucketCategory = "preview"
)

type bucketConfig struct {
	name      string
	cdnDomain string
}

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

// BucketService is the blob store for geometry artifacts. Objects are
// keyed by geometry hash and write-once: an upload to an existing key is
// an integrity-level fault, never a silent overwrite.
type BucketService interface {
	UploadObjectOnce(ctx context.Context, category BucketCategory, key string, contentType string, payload []byte) error
	Download(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error)
	GetObjectAttrs(ctx context.Context, category BucketCategory, key string) (*ObjectAttrs, error)
	// Delete exists for the out-of-scope garbage collection policy; the
	// core flow never calls it.
	Delete(ctx context.Context, category BucketCategory, key string) error
	GetPublicURL(category BucketCategory, key string) string
}

type bucketService struct {
	log            *logger.Logger
	storageClient  *storage.Client
	geometryBucket bucketConfig
	previewBucket  bucketConfig
}

const (
	uploadRetries = 3
	retryBaseWait = 500 * time.Millisecond
)

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	geometryBucketName := os.Getenv("GEOMETRY_GCS_BUCKET_NAME")
	previewBucketName := os.Getenv("PREVIEW_GCS_BUCKET_NAME")
	if geometryBucketName == "" {
		return nil, fmt.Errorf("missing env var GEOMETRY_GCS_BUCKET_NAME")
	}
	if previewBucketName == "" {
		previewBucketName = geometryBucketName
	}

	var opts []option.ClientOption
	if host := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); host != "" {
		opts = append(opts, option.WithoutAuthentication())
		serviceLog.Info("Using storage emulator", "host", host)
	}

	ctx := context.Background()
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info("Object storage initialized",
		"geometry_bucket", geometryBucketName,
		"preview_bucket", previewBucketName,
	)

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		geometryBucket: bucketConfig{
			name:      geometryBucketName,
			cdnDomain: os.Getenv("GEOMETRY_CDN_DOMAIN"),
		},
		previewBucket: bucketConfig{
			name:      previewBucketName,
			cdnDomain: os.Getenv("PREVIEW_CDN_DOMAIN"),
		},
	}, nil
}

func (s *bucketService) bucketFor(category BucketCategory) (bucketConfig, error) {
	switch category {
	case BucketCategoryGeometry:
		return s.geometryBucket, nil
	case BucketCategoryPreview:
		return s.previewBucket, nil
	}
	return bucketConfig{}, fmt.Errorf("unknown bucket category: %s", category)
}

func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func alreadyExists(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusPreconditionFailed
	}
	return false
}

// UploadObjectOnce writes with a DoesNotExist precondition. A concurrent
// writer winning the same key is fine (identical content by construction);
// transient failures retry with backoff.
func (s *bucketService) UploadObjectOnce(ctx context.Context, category BucketCategory, key string, contentType string, payload []byte) error {
	cfg, err := s.bucketFor(category)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < uploadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseWait << (attempt - 1)):
			}
		}
		obj := s.storageClient.Bucket(cfg.name).Object(key).If(storage.Conditions{DoesNotExist: true})
		w := obj.NewWriter(ctx)
		w.ContentType = contentType
		if _, err := io.Copy(w, bytes.NewReader(payload)); err != nil {
			_ = w.Close()
			lastErr = err
			continue
		}
		if err := w.Close(); err != nil {
			if alreadyExists(err) {
				s.log.Debug("Object already present, keeping existing bytes", "bucket", cfg.name, "key", key)
				return nil
			}
			if isTransient(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("upload %s/%s: %w", cfg.name, key, err)
		}
		return nil
	}
	return fmt.Errorf("%w: upload %s/%s: %v", apierr.ErrStorageFailure, cfg.name, key, lastErr)
}

func (s *bucketService) Download(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	cfg, err := s.bucketFor(category)
	if err != nil {
		return nil, err
	}
	r, err := s.storageClient.Bucket(cfg.name).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: object %s/%s", apierr.ErrNotFound, cfg.name, key)
		}
		return nil, fmt.Errorf("download %s/%s: %w", cfg.name, key, err)
	}
	return r, nil
}

func (s *bucketService) GetObjectAttrs(ctx context.Context, category BucketCategory, key string) (*ObjectAttrs, error) {
	cfg, err := s.bucketFor(category)
	if err != nil {
		return nil, err
	}
	attrs, err := s.storageClient.Bucket(cfg.name).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: object %s/%s", apierr.ErrNotFound, cfg.name, key)
		}
		return nil, err
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func (s *bucketService) Delete(ctx context.Context, category BucketCategory, key string) error {
	cfg, err := s.bucketFor(category)
	if err != nil {
		return err
	}
	if err := s.storageClient.Bucket(cfg.name).Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s/%s: %w", cfg.name, key, err)
	}
	return nil
}

func (s *bucketService) GetPublicURL(category BucketCategory, key string) string {
	cfg, err := s.bucketFor(category)
	if err != nil {
		return ""
	}
	if cfg.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", cfg.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.name, key)
}
