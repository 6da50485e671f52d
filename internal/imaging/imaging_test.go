package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	iofs "io/fs"
	"os/exec"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, fs afero.Fs, path string, data []byte) *Handle {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, data, 0o600))
	return NewHandle(fs, path)
}

func TestValidateReasons(t *testing.T) {
	fs := afero.NewMemMapFs()
	v := NewValidator(1024)

	tests := []struct {
		name   string
		handle *Handle
		want   error
	}{
		{"missing", NewHandle(fs, "/img/missing.jpg"), ErrNotFound},
		{"empty", writeFile(t, fs, "/img/empty.jpg", nil), ErrEmpty},
		{"too_large", writeFile(t, fs, "/img/large.png", bytes.Repeat([]byte{0xff}, 2048)), ErrTooLarge},
		{"not_an_image", writeFile(t, fs, "/img/notes.jpg", []byte("hello world")), ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.handle)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var vErr *ValidationError
			assert.True(t, errors.As(err, &vErr))
		})
	}
}

func TestValidateAcceptsImagesAndIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	h := writeFile(t, fs, "/img/lesion.png", testPNG(t, 32, 32))
	v := NewValidator(0)

	first, err := v.Validate(h)
	require.NoError(t, err)
	second, err := v.Validate(h)
	require.NoError(t, err)

	assert.Equal(t, "image/png", first.ContentType)
	assert.Equal(t, first, second)
}

func TestValidateDecodesDataURIBeforeSniffing(t *testing.T) {
	fs := afero.NewMemMapFs()
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t, 8, 8))
	h := writeFile(t, fs, "/img/inline.txt", []byte(payload))

	result, err := NewValidator(0).Validate(h)
	require.NoError(t, err)
	assert.Equal(t, "image/png", result.ContentType)
}

func TestDecodeDataURI(t *testing.T) {
	data, mime, ok, err := DecodeDataURI([]byte("data:image/webp;base64,aGVsbG8="))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "image/webp", mime)
	assert.Equal(t, []byte("hello"), data)

	data, _, ok, err = DecodeDataURI([]byte("data:image/jpeg;base64,aGVsbG8"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), data)

	_, _, ok, err = DecodeDataURI([]byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, ok, err = DecodeDataURI([]byte("data:text/plain,hello"))
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestNormalizeProducesSquareJPEG(t *testing.T) {
	fs := afero.NewMemMapFs()
	n := NewNormalizer(fs, "/work", 0)
	src := writeFile(t, fs, "/img/wide.png", testPNG(t, 300, 200))

	h, err := n.Normalize(src)
	require.NoError(t, err)

	data, err := h.ReadAll()
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultTargetSize, img.Bounds().Dx())
	assert.Equal(t, DefaultTargetSize, img.Bounds().Dy())
	assert.Equal(t, ".jpg", h.Ext())
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	n := NewNormalizer(afero.NewMemMapFs(), "/work", 64)

	_, err := n.FromBytes("upload", []byte("not an image"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = n.FromBytes("upload", nil)
	assert.True(t, errors.Is(err, ErrEmpty))

	h, err := n.FromBytes("upload", []byte("data:image/png;base64,"+base64.StdEncoding.EncodeToString(testPNG(t, 10, 40))))
	require.NoError(t, err)
	assert.True(t, Exists(h))
}

func TestGallerySource(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := NewGallerySource(NewNormalizer(fs, "/work", 32), "", zap.NewNop())
	writeFile(t, fs, "/photos/a.png", testPNG(t, 50, 50))

	h, err := src.Acquire(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, h, "empty path is a cancelled pick")

	h, err = src.Acquire(context.Background(), "/photos/a.png")
	require.NoError(t, err)
	require.NotNil(t, h)

	_, err = src.Acquire(context.Background(), "/photos/missing.png")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, h.Remove())
	assert.False(t, Exists(h))
	assert.True(t, Exists(NewHandle(fs, "/photos/a.png")), "the picked original is left alone")
}

func TestHandleRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	h := writeFile(t, fs, "/work/a.jpg", []byte("x"))

	require.NoError(t, h.Remove())
	assert.False(t, Exists(h))
	assert.NoError(t, h.Remove(), "removing twice is fine")

	var missing *Handle
	assert.NoError(t, missing.Remove())
}

func TestGallerySourcePermissionDenied(t *testing.T) {
	src := NewGallerySource(NewNormalizer(&deniedFs{Fs: afero.NewMemMapFs()}, "/work", 32), "", zap.NewNop())

	_, err := src.Acquire(context.Background(), "/photos/a.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionRequired))

	var pErr *PermissionError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, DefaultSettingsURL, pErr.SettingsURL)
}

func TestCameraSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	n := NewNormalizer(fs, "/work", 32)
	cam := NewCameraSource([]string{"capture", "--output", "{out}"}, n, "", zap.NewNop())

	var gotArgs []string
	cam.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return nil, afero.WriteFile(fs, args[1], testPNG(t, 40, 30), 0o600)
	}

	h, err := cam.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.NotContains(t, gotArgs[1], "{out}")

	exists, err := afero.Exists(fs, gotArgs[1])
	require.NoError(t, err)
	assert.False(t, exists, "raw capture is removed once normalized")
	entries, err := afero.ReadDir(fs, "/work")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, h.Remove())

	cam.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("capture: Permission denied"), errors.New("exit status 1")
	}
	_, err = cam.Acquire(context.Background())
	assert.True(t, errors.Is(err, ErrPermissionRequired))

	cam.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, nil
	}
	h, err = cam.Acquire(context.Background())
	require.NoError(t, err)
	assert.Nil(t, h, "no photo written means the user cancelled")
}

func TestCameraSourceIsPermissionDeniedExitCode(t *testing.T) {
	err := exec.Command("sh", "-c", "exit 126").Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Skip("sh not available")
	}
	assert.True(t, isPermissionDenied(err, nil))
}

type deniedFs struct {
	afero.Fs
}

func (d *deniedFs) Open(name string) (afero.File, error) {
	return nil, &iofs.PathError{Op: "open", Path: name, Err: iofs.ErrPermission}
}
