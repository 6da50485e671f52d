package imaging

import (
	"errors"
	"fmt"
)

// Validation failures. They are user-correctable and never retried.
var (
	ErrNotFound          = errors.New("image not found")
	ErrEmpty             = errors.New("image is empty")
	ErrTooLarge          = errors.New("image is too large")
	ErrUnsupportedFormat = errors.New("unsupported image format: use JPEG, PNG or WebP")
)

// ErrPermissionRequired means the OS denied camera or photo library access.
var ErrPermissionRequired = errors.New("permission required")

// ValidationError reports why an image handle cannot be submitted.
type ValidationError struct {
	Reason error
	Path   string
	Size   int64
}

func (e *ValidationError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("%v: %s (%d bytes)", e.Reason, e.Path, e.Size)
	}
	return fmt.Sprintf("%v: %s", e.Reason, e.Path)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// PermissionError is retryable once the user grants access in the OS settings
// reachable through SettingsURL.
type PermissionError struct {
	Resource    string
	SettingsURL string
	Err         error
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("%s access required", e.Resource)
	if e.SettingsURL != "" {
		msg += "; grant it in settings (" + e.SettingsURL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionRequired
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}
