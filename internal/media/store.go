// Package media stores inline message images in an S3 compatible object store.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"ringrelay/internal/constants"
	apperrors "ringrelay/internal/errors"
	"ringrelay/internal/metrics"
	"ringrelay/internal/models"
	"ringrelay/internal/privacy"
	"ringrelay/internal/security"
	"ringrelay/pkg/circuitbreaker"
)

const (
	breakerMaxFailures = 5
	breakerCooldown    = 30 * time.Second
	bucketCheckTimeout = 10 * time.Second
)

// objectPutter is the part of *minio.Client the store needs
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store uploads message images and returns the URL they are served from
type Store struct {
	client   objectPutter
	bucket   string
	baseURL  string
	maxBytes int
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logrus.Logger
	now      func() time.Time
}

// NewStore connects to the configured endpoint and makes sure the bucket exists
func NewStore(ctx context.Context, cfg models.MediaConfig, logger *logrus.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = constants.DefaultMediaBucket
	}

	cctx, cancel := context.WithTimeout(ctx, bucketCheckTimeout)
	defer cancel()
	if err := ensureBucket(cctx, client, bucket); err != nil {
		return nil, err
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = client.EndpointURL().String()
	}
	return newStore(client, bucket, baseURL, cfg.MaxImageMB, logger), nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func newStore(client objectPutter, bucket, baseURL string, maxImageMB int, logger *logrus.Logger) *Store {
	if maxImageMB <= 0 {
		maxImageMB = constants.DefaultMaxImageSizeMB
	}
	return &Store{
		client:   client,
		bucket:   bucket,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxImageMB << 20,
		breaker:  circuitbreaker.New("media-store", breakerMaxFailures, breakerCooldown, circuitbreaker.WithLogger(logger)),
		logger:   logger,
		now:      time.Now,
	}
}

// UploadDataURI decodes an inline image, stores it under the owner's prefix
// and returns its URL.
func (s *Store) UploadDataURI(ctx context.Context, ownerID, dataURI string) (string, error) {
	img, err := DecodeDataURI(dataURI, s.maxBytes)
	if err != nil {
		return "", apperrors.NewValidationError("image", "data URI", err.Error())
	}

	key := s.objectKey(ownerID, img.Extension())
	if err := security.ValidateObjectKey(key); err != nil {
		return "", apperrors.NewMediaError("upload", "image", err)
	}

	start := time.Now()
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(img.Data), int64(len(img.Data)), minio.PutObjectOptions{
			ContentType: img.MimeType,
		})
		return err
	})
	metrics.RecordTimer(metrics.MediaUploadDuration, time.Since(start), nil, "Message image upload time")

	if err != nil {
		metrics.IncrementCounter(metrics.MediaUploadsTotal, map[string]string{"result": "error"}, "Message image uploads")
		if errors.Is(err, context.DeadlineExceeded) || circuitbreaker.IsOpen(err) {
			return "", apperrors.WrapRetryable(err, apperrors.ErrCodeMediaUpload, "media store unavailable").
				WithUserMessage("Media processing failed")
		}
		return "", apperrors.NewMediaError("upload", "image", err)
	}

	metrics.IncrementCounter(metrics.MediaUploadsTotal, map[string]string{"result": "ok"}, "Message image uploads")
	s.logger.WithFields(logrus.Fields{
		"owner_id": privacy.MaskUserID(ownerID),
		"key":      key,
		"size":     len(img.Data),
	}).Debug("Image uploaded")

	return s.objectURL(key), nil
}

// objectKey lays objects out as messages/<owner>/YYYY/MM/DD/<uuid>.<ext>
func (s *Store) objectKey(ownerID, ext string) string {
	now := s.now().UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s.%s",
		constants.MediaObjectPrefix,
		security.KeySegment(ownerID),
		now.Year(), now.Month(), now.Day(),
		uuid.NewString(), ext)
}

func (s *Store) objectURL(key string) string {
	return s.baseURL + "/" + url.PathEscape(s.bucket) + "/" + key
}
