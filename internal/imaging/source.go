package imaging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSettingsURL deep-links to the application's OS settings page.
const DefaultSettingsURL = "app-settings:"

// permissionDeniedExit is the shell status for "found but not executable / not allowed".
const permissionDeniedExit = 126

// GallerySource picks an existing image from local storage.
type GallerySource struct {
	normalizer  *Normalizer
	settingsURL string
	logger      *zap.Logger
}

// NewGallerySource returns a gallery source normalizing through n.
func NewGallerySource(n *Normalizer, settingsURL string, logger *zap.Logger) *GallerySource {
	if settingsURL == "" {
		settingsURL = DefaultSettingsURL
	}
	return &GallerySource{normalizer: n, settingsURL: settingsURL, logger: logger.Named("gallery")}
}

// Acquire returns a normalized copy of the image at path. An empty path is a
// cancelled pick and yields (nil, nil).
func (g *GallerySource) Acquire(ctx context.Context, path string) (*Handle, error) {
	if path == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil
	}

	src := NewHandle(g.normalizer.Fs(), path)
	if _, err := src.ReadAll(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, &PermissionError{Resource: "photo library", SettingsURL: g.settingsURL, Err: err}
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ValidationError{Reason: ErrNotFound, Path: path}
		}
		return nil, err
	}

	h, err := g.normalizer.Normalize(src)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("image acquired from gallery", zap.String("source", path), zap.String("normalized", h.Path))
	return h, nil
}

// CameraSource captures a photo by running an external capture command. The literal
// argument "{out}" is replaced with the output path.
type CameraSource struct {
	command     []string
	normalizer  *Normalizer
	settingsURL string
	logger      *zap.Logger
	run         func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCameraSource returns a camera source; command must not be empty to capture.
func NewCameraSource(command []string, n *Normalizer, settingsURL string, logger *zap.Logger) *CameraSource {
	if settingsURL == "" {
		settingsURL = DefaultSettingsURL
	}
	return &CameraSource{
		command:     command,
		normalizer:  n,
		settingsURL: settingsURL,
		logger:      logger.Named("camera"),
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Acquire captures and normalizes a photo. Cancelling ctx is a user cancellation and
// yields (nil, nil).
func (c *CameraSource) Acquire(ctx context.Context) (*Handle, error) {
	if len(c.command) == 0 {
		return nil, errors.New("camera capture command not configured")
	}

	out := filepath.Join(c.normalizer.workDir, "capture-"+uuid.NewString()+".jpg")
	if err := c.normalizer.Fs().MkdirAll(c.normalizer.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	args := make([]string, 0, len(c.command)-1)
	for _, arg := range c.command[1:] {
		args = append(args, strings.ReplaceAll(arg, "{out}", out))
	}

	captured := NewHandle(c.normalizer.Fs(), out)
	defer func() {
		if err := captured.Remove(); err != nil {
			c.logger.Warn("failed to remove raw capture", zap.String("path", out), zap.Error(err))
		}
	}()

	output, err := c.run(ctx, c.command[0], args...)
	if ctx.Err() != nil {
		c.logger.Info("camera capture cancelled")
		return nil, nil
	}
	if err != nil {
		if isPermissionDenied(err, output) {
			return nil, &PermissionError{Resource: "camera", SettingsURL: c.settingsURL, Err: err}
		}
		return nil, fmt.Errorf("camera capture failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	if !Exists(captured) {
		// The capture tool exited cleanly without writing a photo.
		return nil, nil
	}
	return c.normalizer.Normalize(captured)
}

func isPermissionDenied(err error, output []byte) bool {
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == permissionDeniedExit {
		return true
	}
	text := strings.ToLower(string(output))
	return strings.Contains(text, "permission denied") || strings.Contains(text, "not authorized")
}
