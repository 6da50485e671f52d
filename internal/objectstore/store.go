// Package objectstore persists scan images in durable, publicly readable buckets.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	ContentType string    `json:"content_type,omitempty"`
}

// BucketOptions is the policy a bucket is created with.
type BucketOptions struct {
	Public           bool     `json:"public"`
	AllowedMimeTypes []string `json:"allowed_mime_types,omitempty"`
}

// Allows reports whether contentType may be written under this policy.
func (o BucketOptions) Allows(contentType string) bool {
	if len(o.AllowedMimeTypes) == 0 {
		return true
	}
	for _, allowed := range o.AllowedMimeTypes {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

// Store is the object storage collaborator.
type Store interface {
	EnsureBucket(ctx context.Context, bucket string, opts BucketOptions) (bool, error)
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
	PublicURL(bucket, key string) string
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

var (
	// ErrBucketNotFound is returned when writing to a bucket that was never ensured.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrMimeTypeNotAllowed is returned when a bucket policy rejects the content type.
	ErrMimeTypeNotAllowed = errors.New("content type not allowed by bucket policy")
	// ErrInvalidKey rejects keys that would escape the bucket.
	ErrInvalidKey = errors.New("invalid object key")
)

const (
	policyFile      = ".bucket.json"
	metadataSuffix  = ".meta.json"
	defaultMimeType = "application/octet-stream"
)

type objectMeta struct {
	ContentType string `json:"content_type"`
}

func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") || strings.HasSuffix(cleaned, metadataSuffix) || path.Base(cleaned) == policyFile {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

func validBucket(bucket string) error {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return fmt.Errorf("invalid bucket name %q", bucket)
	}
	return nil
}

func publicURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}

func marshalPolicy(opts BucketOptions) ([]byte, error) {
	return json.Marshal(opts)
}

func unmarshalPolicy(data []byte) (BucketOptions, error) {
	var opts BucketOptions
	err := json.Unmarshal(data, &opts)
	return opts, err
}
