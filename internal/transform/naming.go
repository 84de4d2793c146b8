package transform

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sitedesk/sitedesk/internal/assets"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
)

// DerivedName returns the output filename for applying op with p to source.
func DerivedName(source string, op Operation, p Params) (string, error) {
	ext := filepath.Ext(source)
	stem := strings.TrimSuffix(source, ext)

	var tag string
	switch op {
	case OpResize:
		tag = fmt.Sprintf("_resized_%dx%d", p.Width, p.Height)
	case OpBrightness:
		tag = "_bright_" + formatFactor(p.Factor)
	case OpContrast:
		tag = "_contrast_" + formatFactor(p.Factor)
	case OpBlur:
		tag = fmt.Sprintf("_blur_%d", p.Radius)
	case OpSharpen:
		tag = "_sharp"
	case OpRotate:
		tag = "_rotated_" + formatAngle(p.Angle)
	case OpCrop:
		tag = "_cropped"
	case OpFlipHorizontal:
		tag = "_flipped_h"
	case OpFlipVertical:
		tag = "_flipped_v"
	case OpConvert:
		target, ok := assets.ExtensionFor(p.Format)
		if !ok {
			return "", siteerrors.NewFormatError("UNKNOWN_FORMAT", fmt.Sprintf("unknown target format %q", p.Format))
		}
		tag = "_converted"
		ext = target
	default:
		return "", siteerrors.NewBoundsError("UNKNOWN_OPERATION", fmt.Sprintf("unknown operation %q", op))
	}

	return stem + tag + ext, nil
}

// formatFactor renders a float the way the site's naming expects: shortest
// round-trip digits, always with a fractional part (1.5, 2.0, 0.75).
func formatFactor(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// formatAngle renders integral angles without a fraction (90, -45).
func formatAngle(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}

// FitHeight derives the height that keeps the original aspect ratio for a
// new width. The ratio comes from the original asset, never from a previous
// derived size, so repeated width changes do not drift.
func FitHeight(width, origWidth, origHeight int) int {
	if width <= 0 || origWidth <= 0 || origHeight <= 0 {
		return 0
	}
	ratio := float64(origWidth) / float64(origHeight)
	h := int(float64(width) / ratio)
	if h < 1 {
		h = 1
	}
	return h
}
