package imaging

import (
	"errors"
	"io/fs"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// DefaultMaxBytes is the upload ceiling for a single image.
const DefaultMaxBytes int64 = 10 * 1024 * 1024

var supportedMimeTypes = []string{"image/jpeg", "image/png", "image/webp"}

// ValidationResult describes an image that passed validation.
type ValidationResult struct {
	Size        int64
	ContentType string
}

// Validator checks image handles before submission.
type Validator struct {
	MaxBytes int64
}

// NewValidator returns a validator with the given ceiling; non-positive means
// DefaultMaxBytes.
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{MaxBytes: maxBytes}
}

// Validate reports a *ValidationError wrapping ErrNotFound, ErrEmpty, ErrTooLarge or
// ErrUnsupportedFormat. It has no side effects.
func (v *Validator) Validate(h *Handle) (*ValidationResult, error) {
	if h == nil || h.Path == "" {
		return nil, &ValidationError{Reason: ErrNotFound}
	}

	info, err := h.fs.Stat(h.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ValidationError{Reason: ErrNotFound, Path: h.Path}
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, &ValidationError{Reason: ErrNotFound, Path: h.Path}
	}

	size := info.Size()
	if size == 0 {
		return nil, &ValidationError{Reason: ErrEmpty, Path: h.Path}
	}
	if size > v.MaxBytes {
		return nil, &ValidationError{Reason: ErrTooLarge, Path: h.Path, Size: size}
	}

	data, _, err := h.Payload()
	if err != nil {
		return nil, &ValidationError{Reason: ErrUnsupportedFormat, Path: h.Path, Size: size}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Reason: ErrEmpty, Path: h.Path}
	}
	detected := mimetype.Detect(data)
	if !mimetype.EqualsAny(detected.String(), supportedMimeTypes...) {
		return nil, &ValidationError{Reason: ErrUnsupportedFormat, Path: h.Path, Size: size}
	}

	return &ValidationResult{Size: size, ContentType: detected.String()}, nil
}

// Exists reports whether the handle's file is present, for callers that only need a
// cheap check.
func Exists(h *Handle) bool {
	if h == nil {
		return false
	}
	ok, err := afero.Exists(h.fs, h.Path)
	return err == nil && ok
}
