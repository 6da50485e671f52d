package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/skincheck/internal/imaging"
	"github.com/example/skincheck/internal/logging"
)

// DefaultBucket holds scan images.
const DefaultBucket = "lesion-images"

// DefaultTimeout bounds one upload including bucket provisioning.
const DefaultTimeout = 20 * time.Second

var (
	// ErrUploadFailed marks every uploader failure. Callers log it and carry on.
	ErrUploadFailed = errors.New("upload failed")
	// ErrBucketUnavailable means the bucket could not be created or confirmed, so the
	// upload was skipped.
	ErrBucketUnavailable = errors.New("bucket unavailable")
)

// UploadError reports a skipped or failed upload.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("upload %s/%s failed: %v", e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("upload to %s failed: %v", e.Bucket, e.Err)
}

func (e *UploadError) Is(target error) bool {
	return target == ErrUploadFailed
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

var typeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ImageBucketOptions is the policy scan image buckets are created with.
var ImageBucketOptions = BucketOptions{
	Public:           true,
	AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/webp"},
}

// Uploader writes scan images to a Store.
type Uploader struct {
	store   Store
	bucket  string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	bucketReady bool
}

// NewUploader returns an uploader targeting bucket.
func NewUploader(store Store, bucket string, timeout time.Duration, logger *zap.Logger) *Uploader {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Uploader{
		store:   store,
		bucket:  bucket,
		timeout: timeout,
		logger:  logger.Named("uploader"),
		now:     time.Now,
	}
}

// Upload stores the image and returns its public URL. Any error is an *UploadError.
func (u *Uploader) Upload(ctx context.Context, userID string, image *imaging.Handle) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	if err := u.ensureBucket(ctx); err != nil {
		return "", &UploadError{Bucket: u.bucket, Err: fmt.Errorf("%w: %w", ErrBucketUnavailable, err)}
	}

	data, declared, err := image.Payload()
	if err != nil {
		return "", &UploadError{Bucket: u.bucket, Err: err}
	}
	if len(data) == 0 {
		return "", &UploadError{Bucket: u.bucket, Err: imaging.ErrEmpty}
	}

	contentType := ContentTypeFor(image.Ext(), declared)
	key := u.objectKey(userID, contentType)
	if err := u.store.PutObject(ctx, u.bucket, key, data, contentType); err != nil {
		return "", &UploadError{Bucket: u.bucket, Key: key, Err: err}
	}

	url := u.store.PublicURL(u.bucket, key)
	logging.WithOperation(u.logger, "objectstore.upload", "").Info("image uploaded",
		zap.String("key", key), zap.String("content_type", contentType), zap.Int("bytes", len(data)))
	return url, nil
}

// ListUserImages lists the objects uploaded for userID.
func (u *Uploader) ListUserImages(ctx context.Context, userID string) ([]ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	objects, err := u.store.ListObjects(ctx, u.bucket, userPrefix(userID))
	if errors.Is(err, ErrBucketNotFound) {
		return []ObjectInfo{}, nil
	}
	return objects, err
}

// ensureBucket provisions the bucket once per process; failures are not cached so a
// later upload may succeed.
func (u *Uploader) ensureBucket(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.bucketReady {
		return nil
	}

	ok, err := u.store.EnsureBucket(ctx, u.bucket, ImageBucketOptions)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("bucket could not be confirmed")
	}
	u.bucketReady = true
	return nil
}

func (u *Uploader) objectKey(userID, contentType string) string {
	ext, ok := typeExtensions[contentType]
	if !ok {
		ext = ".jpg"
	}
	return fmt.Sprintf("%s%s-%s%s", userPrefix(userID), u.now().UTC().Format("20060102T150405"), uuid.NewString(), ext)
}

func userPrefix(userID string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return "scans/" + userID + "/"
}

// ContentTypeFor infers the content type from a file extension, falling back to
// JPEG. A MIME type declared by a data URI takes precedence.
func ContentTypeFor(ext, declared string) string {
	if declared = strings.ToLower(strings.TrimSpace(declared)); declared != "" {
		return declared
	}
	if contentType, ok := extensionTypes[strings.ToLower(ext)]; ok {
		return contentType
	}
	return "image/jpeg"
}
