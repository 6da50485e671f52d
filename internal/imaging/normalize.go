package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder
)

// Classifier input shape.
const DefaultTargetSize = 224

const jpegQuality = 90

// Normalizer crops images to a centred square, scales them to the classifier input
// size and writes them as JPEG into WorkDir.
type Normalizer struct {
	fs         afero.Fs
	workDir    string
	targetSize int
	now        func() time.Time
}

// NewNormalizer returns a normalizer writing into workDir on fs.
func NewNormalizer(fs afero.Fs, workDir string, targetSize int) *Normalizer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	return &Normalizer{fs: fs, workDir: workDir, targetSize: targetSize, now: time.Now}
}

// Fs is the filesystem normalized handles live on.
func (n *Normalizer) Fs() afero.Fs {
	return n.fs
}

// Normalize decodes the image behind h and returns a handle to its normalized copy.
func (n *Normalizer) Normalize(h *Handle) (*Handle, error) {
	data, _, err := h.Payload()
	if err != nil {
		return nil, &ValidationError{Reason: ErrUnsupportedFormat, Path: h.Path}
	}
	return n.write(h.Name(), data)
}

// FromBytes normalizes an in-memory payload, such as an HTTP upload or a data URI.
func (n *Normalizer) FromBytes(name string, raw []byte) (*Handle, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Reason: ErrEmpty, Path: name}
	}
	data, _, ok, err := DecodeDataURI(raw)
	if err != nil {
		return nil, &ValidationError{Reason: ErrUnsupportedFormat, Path: name}
	}
	if !ok {
		data = raw
	}
	return n.write(name, data)
}

func (n *Normalizer) write(name string, data []byte) (*Handle, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ValidationError{Reason: ErrUnsupportedFormat, Path: name, Size: int64(len(data))}
	}

	dst := SquareResize(src, n.targetSize)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode normalized image: %w", err)
	}

	if err := n.fs.MkdirAll(n.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	out := filepath.Join(n.workDir, fmt.Sprintf("%s-%s.jpg", n.now().UTC().Format("20060102T150405"), uuid.NewString()[:8]))
	if err := afero.WriteFile(n.fs, out, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("write normalized image: %w", err)
	}
	return NewHandle(n.fs, out), nil
}

// SquareResize centre-crops src to 1:1 and scales it to size×size.
func SquareResize(src image.Image, size int) *image.RGBA {
	b := src.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}
