package assets

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
)

// Format names as reported to users.
const (
	FormatPNG  = "PNG"
	FormatJPEG = "JPEG"
	FormatGIF  = "GIF"
	FormatBMP  = "BMP"
	FormatWEBP = "WEBP"
	FormatTIFF = "TIFF"
)

// imageExtensions is the allow-list of asset extensions, lowercase with dot.
var imageExtensions = map[string]string{
	".png":  FormatPNG,
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".gif":  FormatGIF,
	".bmp":  FormatBMP,
	".webp": FormatWEBP,
}

// IsImageName reports whether name carries an allow-listed image extension.
// The comparison ignores case.
func IsImageName(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// FormatFromName maps a filename or bare extension to a format name.
func FormatFromName(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = "." + strings.ToLower(strings.TrimPrefix(name, "."))
	}
	format, ok := imageExtensions[ext]
	return format, ok
}

// ExtensionFor returns the canonical extension for a target format name.
func ExtensionFor(format string) (string, bool) {
	switch strings.ToUpper(format) {
	case FormatPNG:
		return ".png", true
	case FormatJPEG, "JPG":
		return ".jpg", true
	case FormatGIF:
		return ".gif", true
	case FormatBMP:
		return ".bmp", true
	case FormatWEBP:
		return ".webp", true
	default:
		return "", false
	}
}

// SupportsAlpha reports whether the encoder for format keeps transparency.
func SupportsAlpha(format string) bool {
	switch strings.ToUpper(format) {
	case FormatJPEG, "JPG", FormatBMP:
		return false
	default:
		return true
	}
}

// EncodeOptions carries encoder tuning.
type EncodeOptions struct {
	JPEGQuality    int
	PNGCompression png.CompressionLevel
}

// DefaultEncodeOptions mirror the transform defaults.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{JPEGQuality: 95, PNGCompression: png.DefaultCompression}
}

// CanEncode reports whether Encode supports format.
func CanEncode(format string) bool {
	switch strings.ToUpper(format) {
	case FormatPNG, FormatJPEG, "JPG", FormatGIF, FormatBMP, FormatTIFF:
		return true
	default:
		return false
	}
}

// Encode writes img to w in the named format.
func Encode(w io.Writer, img image.Image, format string, opts EncodeOptions) error {
	var target imaging.Format
	switch strings.ToUpper(format) {
	case FormatPNG:
		target = imaging.PNG
	case FormatJPEG, "JPG":
		target = imaging.JPEG
	case FormatGIF:
		target = imaging.GIF
	case FormatBMP:
		target = imaging.BMP
	case FormatTIFF:
		target = imaging.TIFF
	default:
		return siteerrors.NewFormatError("NO_ENCODER", fmt.Sprintf("no encoder available for %s", strings.ToUpper(format)))
	}

	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = 95
	}
	return imaging.Encode(w, img, target,
		imaging.JPEGQuality(quality),
		imaging.PNGCompressionLevel(opts.PNGCompression),
	)
}

// Decode reads the image at path. A missing file is NotFound; anything the
// registered decoders reject is DecodeFailed.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, siteerrors.NewNotFoundError("ASSET_NOT_FOUND", "asset not found").WithPath(filepath.Base(path))
		}
		return nil, siteerrors.NewIOError("ASSET_OPEN", "cannot open asset", err).WithPath(filepath.Base(path))
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, siteerrors.NewDecodeError("DECODE", "cannot decode image", err).WithPath(filepath.Base(path))
	}
	return img, nil
}

// ColorMode names the color model the way image tools commonly do: RGBA,
// RGB, L (grayscale), P (palette), CMYK.
func ColorMode(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	switch m {
	case color.NRGBAModel, color.RGBAModel, color.NRGBA64Model, color.RGBA64Model, color.NYCbCrAModel:
		return "RGBA"
	case color.YCbCrModel:
		return "RGB"
	case color.GrayModel, color.Gray16Model:
		return "L"
	case color.CMYKModel:
		return "CMYK"
	case color.AlphaModel, color.Alpha16Model:
		return "A"
	default:
		return "unknown"
	}
}

// IsOpaque reports whether every pixel of img is fully opaque.
func IsOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}
