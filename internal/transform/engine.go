package transform

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sitedesk/sitedesk/internal/assets"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
)

// Observer receives one call per finished transform.
type Observer interface {
	ObserveTransform(op string, duration time.Duration, err error)
}

// Options configures an Engine.
type Options struct {
	Encode   assets.EncodeOptions
	Observer Observer
}

// Engine runs transforms synchronously on the caller's goroutine. Requests
// on the same source are serialized; different sources run in parallel.
type Engine struct {
	store    *assets.Store
	encode   assets.EncodeOptions
	observer Observer
	locks    *keyedMutex
	logger   logging.Logger
}

// NewEngine creates an engine writing into store's asset directory.
func NewEngine(store *assets.Store, opts Options, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Encode.JPEGQuality <= 0 {
		opts.Encode.JPEGQuality = assets.DefaultEncodeOptions().JPEGQuality
	}
	return &Engine{
		store:    store,
		encode:   opts.Encode,
		observer: opts.Observer,
		locks:    newKeyedMutex(),
		logger:   logger.WithComponent("transform"),
	}
}

// Apply executes req. The returned Result is always populated; on failure
// Success is false, ErrorDetail holds the cause, and the error is returned
// as well.
func (e *Engine) Apply(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	result := Result{Operation: req.Operation, Source: req.Source}

	out, bounds, err := e.apply(ctx, req)

	if e.observer != nil {
		e.observer.ObserveTransform(string(req.Operation), time.Since(start), err)
	}
	if err != nil {
		result.ErrorDetail = siteerrors.Describe(err)
		e.logger.Warn(ctx, err, "Transform failed",
			"operation", req.Operation,
			"source", req.Source)
		return result, err
	}

	result.OutputFilename = out
	result.Success = true
	result.Width = bounds.Dx()
	result.Height = bounds.Dy()
	e.logger.Info(ctx, "Transform written",
		"operation", req.Operation,
		"source", req.Source,
		"output", out,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (e *Engine) apply(ctx context.Context, req Request) (string, image.Rectangle, error) {
	if err := validateParams(req.Operation, req.Params); err != nil {
		return "", image.Rectangle{}, err
	}

	srcPath, err := e.store.Path(req.Source)
	if err != nil {
		return "", image.Rectangle{}, err
	}

	outName, err := DerivedName(req.Source, req.Operation, req.Params)
	if err != nil {
		return "", image.Rectangle{}, err
	}
	outFormat, ok := assets.FormatFromName(outName)
	if !ok {
		return "", image.Rectangle{}, siteerrors.NewFormatError("UNKNOWN_FORMAT",
			fmt.Sprintf("cannot determine output format for %q", outName))
	}
	// Fail before decoding when nothing could encode the result.
	if !assets.CanEncode(outFormat) {
		return "", image.Rectangle{}, siteerrors.NewFormatError("NO_ENCODER",
			fmt.Sprintf("no encoder available for %s", outFormat)).WithPath(outName)
	}

	// Different sources can share an output, e.g. logo.png and logo.gif
	// both convert to logo_converted.jpg.
	unlock := e.locks.LockAll(req.Source, outName)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return "", image.Rectangle{}, err
	}

	src, err := assets.Decode(srcPath)
	if err != nil {
		return "", image.Rectangle{}, err
	}

	dst, err := compute(src, req.Operation, req.Params)
	if err != nil {
		return "", image.Rectangle{}, err
	}

	if !assets.SupportsAlpha(outFormat) && !assets.IsOpaque(dst) {
		dst = flatten(dst)
	}

	outPath := filepath.Join(e.store.Dir(), outName)
	perm := os.FileMode(0o644)
	if info, err := os.Stat(srcPath); err == nil {
		perm = info.Mode().Perm()
	}
	err = assets.WriteFileAtomic(outPath, perm, func(w io.Writer) error {
		return assets.Encode(w, dst, outFormat, e.encode)
	})
	if err != nil {
		if siteerrors.KindOf(err) != siteerrors.KindInternal {
			return "", image.Rectangle{}, err
		}
		return "", image.Rectangle{}, siteerrors.NewIOError("WRITE_OUTPUT", "cannot write output", err).WithPath(outName)
	}

	return outName, dst.Bounds(), nil
}

// validateParams checks everything that does not need the decoded image.
func validateParams(op Operation, p Params) error {
	switch op {
	case OpResize:
		if p.Width <= 0 || p.Height <= 0 {
			return siteerrors.NewBoundsError("RESIZE_BOUNDS",
				fmt.Sprintf("width and height must be positive, got %dx%d", p.Width, p.Height))
		}
	case OpBrightness, OpContrast:
		if p.Factor < 0 || math.IsNaN(p.Factor) || math.IsInf(p.Factor, 0) {
			return siteerrors.NewBoundsError("FACTOR_BOUNDS",
				fmt.Sprintf("factor must be >= 0, got %v", p.Factor))
		}
	case OpBlur:
		if p.Radius < 1 {
			return siteerrors.NewBoundsError("BLUR_RADIUS",
				fmt.Sprintf("radius must be >= 1, got %d", p.Radius))
		}
	case OpRotate:
		if math.IsNaN(p.Angle) || math.IsInf(p.Angle, 0) {
			return siteerrors.NewBoundsError("ROTATE_ANGLE", "angle must be a finite number")
		}
	case OpConvert:
		if strings.TrimSpace(p.Format) == "" {
			return siteerrors.NewFormatError("UNKNOWN_FORMAT", "target format is required")
		}
	case OpSharpen, OpCrop, OpFlipHorizontal, OpFlipVertical:
	default:
		return siteerrors.NewBoundsError("UNKNOWN_OPERATION", fmt.Sprintf("unknown operation %q", op))
	}
	return nil
}

// ValidateCrop checks crop bounds against the source size.
func ValidateCrop(p Params, width, height int) error {
	if p.Left < 0 || p.Top < 0 || p.Left >= p.Right || p.Top >= p.Bottom ||
		p.Right > width || p.Bottom > height {
		return siteerrors.NewBoundsError("CROP_BOUNDS",
			fmt.Sprintf("crop box (%d,%d,%d,%d) must satisfy 0 <= left < right <= %d and 0 <= top < bottom <= %d",
				p.Left, p.Top, p.Right, p.Bottom, width, height)).
			WithContext("width", width).
			WithContext("height", height)
	}
	return nil
}

func compute(src image.Image, op Operation, p Params) (image.Image, error) {
	switch op {
	case OpResize:
		return resize(src, p.Width, p.Height), nil
	case OpBrightness:
		return brightness(src, p.Factor), nil
	case OpContrast:
		return contrast(src, p.Factor), nil
	case OpBlur:
		return blur(src, p.Radius), nil
	case OpSharpen:
		return sharpen(src), nil
	case OpRotate:
		return rotate(src, p.Angle), nil
	case OpCrop:
		b := src.Bounds()
		if err := ValidateCrop(p, b.Dx(), b.Dy()); err != nil {
			return nil, err
		}
		return crop(src, p.Left, p.Top, p.Right, p.Bottom), nil
	case OpFlipHorizontal:
		return flipH(src), nil
	case OpFlipVertical:
		return flipV(src), nil
	case OpConvert:
		return src, nil
	default:
		return nil, siteerrors.NewBoundsError("UNKNOWN_OPERATION", fmt.Sprintf("unknown operation %q", op))
	}
}

// Resize scales source to exactly width×height.
func (e *Engine) Resize(ctx context.Context, source string, width, height int) (Result, error) {
	return e.Apply(ctx, Request{Source: source, Operation: OpResize, Params: Params{Width: width, Height: height}})
}

// ResizeKeepRatio scales source to width, deriving the height from the
// original asset's aspect ratio.
func (e *Engine) ResizeKeepRatio(ctx context.Context, source string, width int) (Result, error) {
	height, err := e.FitHeight(source, width)
	if err != nil {
		return Result{Operation: OpResize, Source: source, ErrorDetail: siteerrors.Describe(err)}, err
	}
	return e.Resize(ctx, source, width, height)
}

// FitHeight reads source from disk and returns the height matching width.
func (e *Engine) FitHeight(source string, width int) (int, error) {
	if width <= 0 {
		return 0, siteerrors.NewBoundsError("RESIZE_BOUNDS", fmt.Sprintf("width must be positive, got %d", width))
	}
	asset, err := e.store.Inspect(source)
	if err != nil {
		return 0, err
	}
	return FitHeight(width, asset.Width, asset.Height), nil
}

// Brightness scales brightness by factor.
func (e *Engine) Brightness(ctx context.Context, source string, factor float64) (Result, error) {
	return e.Apply(ctx, Request{Source: source, Operation: OpBrightness, Params: Params{Factor: factor}})
}

// Contrast scales contrast by factor.
func (e *Engine) Contrast(ctx context.Context, source string, factor float64) (Result, error) {
	return e.Apply(ctx, Request{Source: source, Operation: OpContrast, Params: Params{Factor: factor}})
}

// Blur applies a Gaussian blur of radius.
func (e *Engine) Blur(ctx context.Context, source string, radius int) (Result, error) {
	return e.Apply(ctx, Request{Source: source, Operation: OpBlur, Params: Params{Radius: radius}})
}

// Sharpen applies the sharpen filter.
func (e *Engine) Sharpen(ctx context.Context, source string) (Result, error) {
	return e.Apply(ctx, Request{Source: source, Operation: OpSharpen})
}

// Rotate turns source counter-clockwise by angle degrees.
func (e *Engine) Rotate(ctx context.Context, source string, angle float64) (Result, error) {
	return e.Apply(ctx, Request{Source: source, Operation: OpRotate, Params: Params{Angle: angle}})
}

// Crop keeps the box [left,right)×[top,bottom).
func (e *Engine) Crop(ctx context.Context, source string, left, top, right, bottom int) (Result, error) {
	return e.Apply(ctx, Request{Source: source, Operation: OpCrop,
		Params: Params{Left: left, Top: top, Right: right, Bottom: bottom}})
}

// Flip mirrors source along axis.
func (e *Engine) Flip(ctx context.Context, source string, axis Axis) (Result, error) {
	op, err := FlipOperation(axis)
	if err != nil {
		return Result{Source: source, ErrorDetail: siteerrors.Describe(err)}, err
	}
	return e.Apply(ctx, Request{Source: source, Operation: op})
}

// Convert re-encodes source as format.
func (e *Engine) Convert(ctx context.Context, source, format string) (Result, error) {
	return e.Apply(ctx, Request{Source: source, Operation: OpConvert, Params: Params{Format: format}})
}
