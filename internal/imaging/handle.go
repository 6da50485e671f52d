// Package imaging acquires, normalizes and validates lesion images before they are
// submitted for classification.
package imaging

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Handle points at a local image file on fs.
type Handle struct {
	Path string
	fs   afero.Fs
}

// NewHandle returns a handle for path on fs. A nil fs means the OS filesystem.
func NewHandle(fs afero.Fs, path string) *Handle {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Handle{Path: path, fs: fs}
}

// Name is the base name of the file.
func (h *Handle) Name() string {
	return filepath.Base(h.Path)
}

// Ext is the lower-cased file extension including the dot.
func (h *Handle) Ext() string {
	return strings.ToLower(filepath.Ext(h.Path))
}

// ReadAll returns the raw file contents.
func (h *Handle) ReadAll() ([]byte, error) {
	return afero.ReadFile(h.fs, h.Path)
}

// Remove deletes the file. A file that is already gone is not an error.
func (h *Handle) Remove() error {
	if h == nil {
		return nil
	}
	if err := h.fs.Remove(h.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Payload returns the image bytes with any data-URI wrapping removed, and the MIME
// type declared by the data URI, if there was one.
func (h *Handle) Payload() ([]byte, string, error) {
	raw, err := h.ReadAll()
	if err != nil {
		return nil, "", err
	}
	data, mime, ok, err := DecodeDataURI(raw)
	if err != nil {
		return nil, "", err
	}
	if ok {
		return data, mime, nil
	}
	return raw, "", nil
}
