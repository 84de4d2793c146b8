// Package transform applies non-destructive edits to image assets.
//
// Every operation reads the source read-only, computes the result in memory,
// and writes it under a derived filename (stem + tag + extension) through a
// temp file and rename. The source is never modified. Identical requests
// overwrite their own previous output and nothing else.
package transform

import (
	"fmt"
	"strings"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
)

// Operation names an edit.
type Operation string

const (
	OpResize         Operation = "resize"
	OpBrightness     Operation = "brightness"
	OpContrast       Operation = "contrast"
	OpBlur           Operation = "blur"
	OpSharpen        Operation = "sharpen"
	OpRotate         Operation = "rotate"
	OpCrop           Operation = "crop"
	OpFlipHorizontal Operation = "flip_horizontal"
	OpFlipVertical   Operation = "flip_vertical"
	OpConvert        Operation = "convert"
)

// Operations lists every supported operation in display order.
var Operations = []Operation{
	OpResize, OpBrightness, OpContrast, OpBlur, OpSharpen,
	OpRotate, OpCrop, OpFlipHorizontal, OpFlipVertical, OpConvert,
}

// ParseOperation accepts canonical names plus a few short aliases.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "resize":
		return OpResize, nil
	case "brightness", "bright":
		return OpBrightness, nil
	case "contrast":
		return OpContrast, nil
	case "blur":
		return OpBlur, nil
	case "sharpen", "sharp":
		return OpSharpen, nil
	case "rotate":
		return OpRotate, nil
	case "crop":
		return OpCrop, nil
	case "flip_horizontal", "flip-horizontal", "fliph", "flip_h":
		return OpFlipHorizontal, nil
	case "flip_vertical", "flip-vertical", "flipv", "flip_v":
		return OpFlipVertical, nil
	case "convert", "convert_format", "convert-format":
		return OpConvert, nil
	default:
		return "", siteerrors.NewBoundsError("UNKNOWN_OPERATION", fmt.Sprintf("unknown operation %q", s))
	}
}

// Axis selects a flip direction.
type Axis string

const (
	AxisHorizontal Axis = "horizontal"
	AxisVertical   Axis = "vertical"
)

// FlipOperation maps an axis to its flip operation.
func FlipOperation(axis Axis) (Operation, error) {
	switch Axis(strings.ToLower(string(axis))) {
	case AxisHorizontal, "h":
		return OpFlipHorizontal, nil
	case AxisVertical, "v":
		return OpFlipVertical, nil
	default:
		return "", siteerrors.NewBoundsError("FLIP_AXIS", fmt.Sprintf("axis must be horizontal or vertical, got %q", axis))
	}
}

// Params holds operation-specific inputs. Only the fields of the requested
// operation are read.
type Params struct {
	Width  int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height int     `json:"height,omitempty" yaml:"height,omitempty"`
	Factor float64 `json:"factor,omitempty" yaml:"factor,omitempty"`
	Radius int     `json:"radius,omitempty" yaml:"radius,omitempty"`
	Angle  float64 `json:"angle,omitempty" yaml:"angle,omitempty"`
	Left   int     `json:"left,omitempty" yaml:"left,omitempty"`
	Top    int     `json:"top,omitempty" yaml:"top,omitempty"`
	Right  int     `json:"right,omitempty" yaml:"right,omitempty"`
	Bottom int     `json:"bottom,omitempty" yaml:"bottom,omitempty"`
	Format string  `json:"format,omitempty" yaml:"format,omitempty"`
}

// Request asks for one edit of one source asset.
type Request struct {
	Source    string    `json:"source" yaml:"source"`
	Operation Operation `json:"operation" yaml:"operation"`
	Params    Params    `json:"params" yaml:"params"`
}

// Result reports the outcome of a Request.
type Result struct {
	Operation      Operation `json:"operation" yaml:"operation"`
	Source         string    `json:"source" yaml:"source"`
	OutputFilename string    `json:"output_filename,omitempty" yaml:"output_filename,omitempty"`
	Success        bool      `json:"success" yaml:"success"`
	ErrorDetail    string    `json:"error_detail,omitempty" yaml:"error_detail,omitempty"`
	Width          int       `json:"width,omitempty" yaml:"width,omitempty"`
	Height         int       `json:"height,omitempty" yaml:"height,omitempty"`
}
