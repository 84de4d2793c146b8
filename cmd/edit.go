package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sitedesk/sitedesk/internal/transform"
)

var editCmd = &cobra.Command{
	Use:     "edit",
	Aliases: []string{"e"},
	Short:   "Write an edited copy of an image asset",
	Long: `Apply one edit to an asset and write the result next to it under a
derived name (logo.png -> logo_resized_150x100.png). The source file is never
modified, and repeating an identical edit overwrites its own earlier output.

Examples:
  sitedesk edit resize logo.png -W 150 -H 100
  sitedesk edit resize logo.png -W 150 --keep-ratio
  sitedesk edit brightness photo.jpg --factor 1.2
  sitedesk edit flip logo.png --axis v
  sitedesk edit convert logo.png --format jpeg`,
}

var (
	editFlags      *OutputFlags
	editWidth      int
	editHeight     int
	editKeepRatio  bool
	editBrightness float64
	editContrast   float64
	editRadius     int
	editAngle      float64
	editLeft       int
	editTop        int
	editRight      int
	editBottom     int
	editAxis       string
	editFormat     string
)

// editSubcommand builds one edit subcommand around an engine call.
func editSubcommand(use, short string, call func(ctx context.Context, e *transform.Engine, source string) (transform.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ASSET",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, args[0], call)
		},
	}
}

func init() {
	rootCmd.AddCommand(editCmd)
	editFlags = &OutputFlags{}
	editCmd.PersistentFlags().StringVarP(&editFlags.Format, "output", "o", "table", "Output format (table|json|yaml)")
	editCmd.PersistentFlags().BoolVarP(&editFlags.Quiet, "quiet", "q", false, "Suppress table output")

	resizeCmd := editSubcommand("resize", "Scale to an exact size", func(ctx context.Context, e *transform.Engine, src string) (transform.Result, error) {
		if editKeepRatio {
			return e.ResizeKeepRatio(ctx, src, editWidth)
		}
		return e.Resize(ctx, src, editWidth, editHeight)
	})
	resizeCmd.Flags().IntVarP(&editWidth, "width", "W", 0, "Target width in pixels")
	resizeCmd.Flags().IntVarP(&editHeight, "height", "H", 0, "Target height in pixels")
	resizeCmd.Flags().BoolVar(&editKeepRatio, "keep-ratio", false, "Derive the height from the width and the original aspect ratio")
	_ = resizeCmd.MarkFlagRequired("width")

	brightnessCmd := editSubcommand("brightness", "Scale brightness by a factor (1 = unchanged)", func(ctx context.Context, e *transform.Engine, src string) (transform.Result, error) {
		return e.Brightness(ctx, src, editBrightness)
	})
	brightnessCmd.Flags().Float64Var(&editBrightness, "factor", 1, "Brightness factor")

	contrastCmd := editSubcommand("contrast", "Scale contrast by a factor (1 = unchanged)", func(ctx context.Context, e *transform.Engine, src string) (transform.Result, error) {
		return e.Contrast(ctx, src, editContrast)
	})
	contrastCmd.Flags().Float64Var(&editContrast, "factor", 1, "Contrast factor")

	blurCmd := editSubcommand("blur", "Apply a Gaussian blur", func(ctx context.Context, e *transform.Engine, src string) (transform.Result, error) {
		return e.Blur(ctx, src, editRadius)
	})
	blurCmd.Flags().IntVar(&editRadius, "radius", 2, "Blur radius in pixels")

	sharpenCmd := editSubcommand("sharpen", "Apply a fixed sharpen filter", func(ctx context.Context, e *transform.Engine, src string) (transform.Result, error) {
		return e.Sharpen(ctx, src)
	})

	rotateCmd := editSubcommand("rotate", "Rotate counter-clockwise, expanding the canvas", func(ctx context.Context, e *transform.Engine, src string) (transform.Result, error) {
		return e.Rotate(ctx, src, editAngle)
	})
	rotateCmd.Flags().Float64Var(&editAngle, "angle", 90, "Angle in degrees")

	cropCmd := editSubcommand("crop", "Keep the box (left, top)-(right, bottom)", func(ctx context.Context, e *transform.Engine, src string) (transform.Result, error) {
		return e.Crop(ctx, src, editLeft, editTop, editRight, editBottom)
	})
	cropCmd.Flags().IntVar(&editLeft, "left", 0, "Left edge, inclusive")
	cropCmd.Flags().IntVar(&editTop, "top", 0, "Top edge, inclusive")
	cropCmd.Flags().IntVar(&editRight, "right", 0, "Right edge, exclusive")
	cropCmd.Flags().IntVar(&editBottom, "bottom", 0, "Bottom edge, exclusive")
	for _, name := range []string{"right", "bottom"} {
		_ = cropCmd.MarkFlagRequired(name)
	}

	flipCmd := editSubcommand("flip", "Mirror horizontally or vertically", func(ctx context.Context, e *transform.Engine, src string) (transform.Result, error) {
		return e.Flip(ctx, src, transform.Axis(editAxis))
	})
	flipCmd.Flags().StringVar(&editAxis, "axis", "h", "Flip axis (h|v)")

	convertCmd := editSubcommand("convert", "Re-encode in another format", func(ctx context.Context, e *transform.Engine, src string) (transform.Result, error) {
		return e.Convert(ctx, src, editFormat)
	})
	convertCmd.Flags().StringVar(&editFormat, "format", "", "Target format (png|jpeg|gif|bmp)")
	_ = convertCmd.MarkFlagRequired("format")

	editCmd.AddCommand(resizeCmd, brightnessCmd, contrastCmd, blurCmd, sharpenCmd,
		rotateCmd, cropCmd, flipCmd, convertCmd)
}

func runEdit(cmd *cobra.Command, source string, call func(ctx context.Context, e *transform.Engine, source string) (transform.Result, error)) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	result, err := call(cmd.Context(), engine, source)
	if !result.Success {
		if err == nil {
			err = fmt.Errorf("%s failed: %s", result.Operation, result.ErrorDetail)
		}
		return err
	}
	return render(cmd, editFlags, result, func(w io.Writer) {
		fmt.Fprintf(w, "Wrote\t%s\n", result.OutputFilename)
		fmt.Fprintf(w, "From\t%s (%s)\n", result.Source, result.Operation)
		fmt.Fprintf(w, "Size\t%dx%d\n", result.Width, result.Height)
	})
}
