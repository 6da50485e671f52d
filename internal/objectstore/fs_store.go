package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// FSStore keeps buckets as directories below root on an afero filesystem. Use
// afero.NewOsFs for disk and afero.NewMemMapFs for an ephemeral store.
type FSStore struct {
	fs            afero.Fs
	root          string
	publicBaseURL string
}

// NewFSStore returns a store rooted at root.
func NewFSStore(fs afero.Fs, root, publicBaseURL string) *FSStore {
	return &FSStore{fs: fs, root: root, publicBaseURL: publicBaseURL}
}

// GetObject reads an object from a public bucket. Private buckets report
// ErrBucketNotFound so their existence is not disclosed.
func (s *FSStore) GetObject(ctx context.Context, bucket, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil, "", err
	}
	opts, err := s.policy(bucket)
	if err != nil {
		return nil, "", err
	}
	if !opts.Public {
		return nil, "", fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}

	target := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	data, err := afero.ReadFile(s.fs, target)
	if err != nil {
		return nil, "", err
	}
	return data, s.contentType(target), nil
}

// EnsureBucket creates the bucket directory and records its policy. It returns true
// when the bucket exists afterwards.
func (s *FSStore) EnsureBucket(ctx context.Context, bucket string, opts BucketOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validBucket(bucket); err != nil {
		return false, err
	}

	dir := filepath.Join(s.root, bucket)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	policy, err := marshalPolicy(opts)
	if err != nil {
		return false, err
	}
	if err := afero.WriteFile(s.fs, filepath.Join(dir, policyFile), policy, 0o644); err != nil {
		return false, fmt.Errorf("write bucket policy %s: %w", bucket, err)
	}
	return true, nil
}

// PutObject writes data under key, enforcing the bucket's MIME policy.
func (s *FSStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	opts, err := s.policy(bucket)
	if err != nil {
		return err
	}
	if !opts.Allows(contentType) {
		return fmt.Errorf("%w: %s", ErrMimeTypeNotAllowed, contentType)
	}

	target := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	// Write to a temp file first so readers never see a partial object.
	tmp := target + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("commit object: %w", err)
	}

	meta, err := json.Marshal(objectMeta{ContentType: contentType})
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, target+metadataSuffix, meta, 0o644)
}

// PublicURL returns the URL the object is served under.
func (s *FSStore) PublicURL(bucket, key string) string {
	return publicURL(s.publicBaseURL, bucket, key)
}

// ListObjects returns every object whose key starts with prefix, sorted by key.
func (s *FSStore) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if _, err := s.policy(bucket); err != nil {
		return nil, err
	}
	base := filepath.Join(s.root, bucket)

	var objects []ObjectInfo
	err := afero.Walk(s.fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if key == policyFile || strings.HasSuffix(key, metadataSuffix) || strings.HasSuffix(key, ".tmp") {
			return nil
		}
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		objects = append(objects, ObjectInfo{
			Key:         key,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentType: s.contentType(p),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *FSStore) policy(bucket string) (BucketOptions, error) {
	if err := validBucket(bucket); err != nil {
		return BucketOptions{}, err
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(s.root, bucket, policyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return BucketOptions{}, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
		}
		return BucketOptions{}, err
	}
	return unmarshalPolicy(data)
}

func (s *FSStore) contentType(objectPath string) string {
	data, err := afero.ReadFile(s.fs, objectPath+metadataSuffix)
	if err != nil {
		return defaultMimeType
	}
	var meta objectMeta
	if err := json.Unmarshal(data, &meta); err != nil || meta.ContentType == "" {
		return defaultMimeType
	}
	return meta.ContentType
}
