package image

import (
	"context"
	"fmt"
	"math"

	"github.com/ironsheep/wandbridge/internal/color"
	"github.com/ironsheep/wandbridge/internal/magick"
)

// Resize scales to exactly width x height.
func (img *Image) Resize(ctx context.Context, width, height int, filter magick.Filter) error {
	return img.run(ctx, "resize", func(lib *magick.Library, w magick.Wand) bool {
		return lib.ResizeImage(w, width, height, filter)
	})
}

// Rescale scales by factor, keeping the aspect ratio.
func (img *Image) Rescale(ctx context.Context, factor float64, filter magick.Filter) error {
	if factor <= 0 {
		return fmt.Errorf("rescale factor must be positive, got %g", factor)
	}
	return img.run(ctx, "rescale", func(lib *magick.Library, w magick.Wand) bool {
		width := max(1, int(math.Round(float64(lib.GetImageWidth(w))*factor)))
		height := max(1, int(math.Round(float64(lib.GetImageHeight(w))*factor)))
		return lib.ResizeImage(w, width, height, filter)
	})
}

// Fit scales the image to fit within maxWidth x maxHeight, keeping the
// aspect ratio. Either bound may be 0 to leave it unconstrained.
func (img *Image) Fit(ctx context.Context, maxWidth, maxHeight int, filter magick.Filter) error {
	if maxWidth <= 0 && maxHeight <= 0 {
		return fmt.Errorf("fit needs at least one bound")
	}
	return img.run(ctx, "fit", func(lib *magick.Library, w magick.Wand) bool {
		width, height := float64(lib.GetImageWidth(w)), float64(lib.GetImageHeight(w))
		ratio := math.Inf(1)
		if maxWidth > 0 {
			ratio = float64(maxWidth) / width
		}
		if maxHeight > 0 {
			ratio = min(ratio, float64(maxHeight)/height)
		}
		return lib.ResizeImage(w,
			max(1, int(math.Round(width*ratio))),
			max(1, int(math.Round(height*ratio))),
			filter)
	})
}

// Crop keeps the width x height region whose top-left corner is (x, y).
func (img *Image) Crop(ctx context.Context, x, y, width, height int) error {
	return img.run(ctx, "crop", func(lib *magick.Library, w magick.Wand) bool {
		return lib.CropImage(w, width, height, x, y)
	})
}

// Flip mirrors top to bottom.
func (img *Image) Flip(ctx context.Context) error {
	return img.run(ctx, "flip", (*magick.Library).FlipImage)
}

// Flop mirrors left to right.
func (img *Image) Flop(ctx context.Context) error {
	return img.run(ctx, "flop", (*magick.Library).FlopImage)
}

func (img *Image) Transpose(ctx context.Context) error {
	return img.run(ctx, "transpose", (*magick.Library).TransposeImage)
}

func (img *Image) Transverse(ctx context.Context) error {
	return img.run(ctx, "transverse", (*magick.Library).TransverseImage)
}

// Rotate turns the image clockwise. Uncovered corners take background, or
// stay transparent when background is nil.
func (img *Image) Rotate(ctx context.Context, degrees float64, background *color.Color) error {
	return img.withColor(ctx, background, func(p magick.PixelWand) error {
		return img.run(ctx, "rotate", func(lib *magick.Library, w magick.Wand) bool {
			return lib.RotateImage(w, p, degrees)
		})
	})
}

func (img *Image) Blur(ctx context.Context, sigma float64) error {
	return img.run(ctx, "blur", func(lib *magick.Library, w magick.Wand) bool {
		return lib.BlurImage(w, sigma)
	})
}

func (img *Image) Sharpen(ctx context.Context, sigma float64) error {
	return img.run(ctx, "sharpen", func(lib *magick.Library, w magick.Wand) bool {
		return lib.SharpenImage(w, sigma)
	})
}

func (img *Image) Gamma(ctx context.Context, gamma float64) error {
	return img.run(ctx, "gamma", func(lib *magick.Library, w magick.Wand) bool {
		return lib.GammaImage(w, gamma)
	})
}

// Brightness shifts brightness by a percentage in -100..100.
func (img *Image) Brightness(ctx context.Context, percent float64) error {
	return img.run(ctx, "brightness", func(lib *magick.Library, w magick.Wand) bool {
		return lib.BrightnessContrastImage(w, percent, 0)
	})
}

// Contrast shifts contrast by a percentage in -100..100.
func (img *Image) Contrast(ctx context.Context, percent float64) error {
	return img.run(ctx, "contrast", func(lib *magick.Library, w magick.Wand) bool {
		return lib.BrightnessContrastImage(w, 0, percent)
	})
}

// Modulate scales brightness and saturation and rotates hue, as percentages
// where 100 leaves the channel unchanged.
func (img *Image) Modulate(ctx context.Context, brightness, saturation, hue float64) error {
	return img.run(ctx, "modulate", func(lib *magick.Library, w magick.Wand) bool {
		return lib.ModulateImage(w, brightness, saturation, hue)
	})
}

// Desaturate removes all color saturation.
func (img *Image) Desaturate(ctx context.Context) error {
	return img.Modulate(ctx, 100, 0, 100)
}

func (img *Image) Invert(ctx context.Context) error {
	return img.run(ctx, "invert", (*magick.Library).NegateImage)
}

func (img *Image) Grayscale(ctx context.Context) error {
	return img.run(ctx, "grayscale", (*magick.Library).GrayscaleImage)
}

func (img *Image) Sepia(ctx context.Context) error {
	return img.run(ctx, "sepia", (*magick.Library).SepiaImage)
}

func (img *Image) Emboss(ctx context.Context) error {
	return img.run(ctx, "emboss", (*magick.Library).EmbossImage)
}

func (img *Image) Edge(ctx context.Context, radius float64) error {
	return img.run(ctx, "edge", func(lib *magick.Library, w magick.Wand) bool {
		return lib.EdgeImage(w, radius)
	})
}

func (img *Image) Despeckle(ctx context.Context) error {
	return img.run(ctx, "despeckle", (*magick.Library).DespeckleImage)
}

func (img *Image) Dilate(ctx context.Context, radius float64) error {
	return img.run(ctx, "dilate", func(lib *magick.Library, w magick.Wand) bool {
		return lib.DilateImage(w, radius)
	})
}

func (img *Image) Erode(ctx context.Context, radius float64) error {
	return img.run(ctx, "erode", func(lib *magick.Library, w magick.Wand) bool {
		return lib.ErodeImage(w, radius)
	})
}

// Threshold turns the image black and white at factor (0..1) intensity.
func (img *Image) Threshold(ctx context.Context, factor float64) error {
	return img.run(ctx, "threshold", func(lib *magick.Library, w magick.Wand) bool {
		return lib.ThresholdImage(w, factor)
	})
}

// SetAlpha sets the opacity of every pixel.
func (img *Image) SetAlpha(ctx context.Context, alpha float64) error {
	return img.run(ctx, "set alpha", func(lib *magick.Library, w magick.Wand) bool {
		return lib.SetImageAlpha(w, alpha)
	})
}

// Overlay draws other on top of img with its top-left corner at (x, y).
func (img *Image) Overlay(ctx context.Context, other *Image, x, y int) error {
	return other.Use(func(src magick.Wand) error {
		return img.run(ctx, "overlay", func(lib *magick.Library, w magick.Wand) bool {
			return lib.CompositeImage(w, src, x, y)
		})
	})
}
