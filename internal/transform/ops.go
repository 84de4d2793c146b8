package transform

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// sharpenKernel is the classic 3x3 sharpen filter; Normalize divides by its
// sum (16).
var sharpenKernel = [9]float64{
	-2, -2, -2,
	-2, 32, -2,
	-2, -2, -2,
}

func resize(img image.Image, w, h int) *image.NRGBA {
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// brightness scales RGB by factor. 0 is black, 1 is identity. Alpha is kept.
func brightness(img image.Image, factor float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clamp8(float64(c.R) * factor),
			G: clamp8(float64(c.G) * factor),
			B: clamp8(float64(c.B) * factor),
			A: c.A,
		}
	})
}

// contrast blends each pixel with the image's mean luminance. 0 is a flat
// gray at the mean, 1 is identity.
func contrast(img image.Image, factor float64) *image.NRGBA {
	mean := meanLuminance(img)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clamp8(mean + factor*(float64(c.R)-mean)),
			G: clamp8(mean + factor*(float64(c.G)-mean)),
			B: clamp8(mean + factor*(float64(c.B)-mean)),
			A: c.A,
		}
	})
}

// meanLuminance averages ITU-R 601 luma over all pixels, rounded to an
// integer level.
func meanLuminance(img image.Image) float64 {
	src := imaging.Clone(img)
	n := src.Bounds().Dx() * src.Bounds().Dy()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+3 < len(src.Pix); i += 4 {
		r, g, b := float64(src.Pix[i]), float64(src.Pix[i+1]), float64(src.Pix[i+2])
		sum += math.Floor((r*299 + g*587 + b*114) / 1000)
	}
	return math.Floor(sum/float64(n) + 0.5)
}

func blur(img image.Image, radius int) *image.NRGBA {
	return imaging.Blur(img, float64(radius))
}

func sharpen(img image.Image) *image.NRGBA {
	return imaging.Convolve3x3(img, sharpenKernel, &imaging.ConvolveOptions{Normalize: true})
}

// rotate turns counter-clockwise, growing the canvas to fit. Uncovered
// corners are transparent.
func rotate(img image.Image, angle float64) *image.NRGBA {
	return imaging.Rotate(img, angle, color.Transparent)
}

func crop(img image.Image, left, top, right, bottom int) *image.NRGBA {
	return imaging.Crop(img, image.Rect(left, top, right, bottom))
}

func flipH(img image.Image) *image.NRGBA {
	return imaging.FlipH(img)
}

func flipV(img image.Image) *image.NRGBA {
	return imaging.FlipV(img)
}

// flatten composites img onto an opaque white canvas.
func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
