package magick

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
)

// Filter selects the resampling filter used by ResizeImage.
type Filter int

const (
	FilterLanczos Filter = iota
	FilterCatmullRom
	FilterMitchell
	FilterLinear
	FilterBox
	FilterNearest
	FilterGaussian
	FilterHermite
)

var filters = map[Filter]imaging.ResampleFilter{
	FilterLanczos:    imaging.Lanczos,
	FilterCatmullRom: imaging.CatmullRom,
	FilterMitchell:   imaging.MitchellNetravali,
	FilterLinear:     imaging.Linear,
	FilterBox:        imaging.Box,
	FilterNearest:    imaging.NearestNeighbor,
	FilterGaussian:   imaging.Gaussian,
	FilterHermite:    imaging.Hermite,
}

var filterNames = map[string]Filter{
	"lanczos":    FilterLanczos,
	"catmullrom": FilterCatmullRom,
	"mitchell":   FilterMitchell,
	"linear":     FilterLinear,
	"box":        FilterBox,
	"nearest":    FilterNearest,
	"gaussian":   FilterGaussian,
	"hermite":    FilterHermite,
}

// ParseFilter looks a filter up by name. The empty name is Lanczos.
func ParseFilter(name string) (Filter, error) {
	if name == "" {
		return FilterLanczos, nil
	}
	f, ok := filterNames[name]
	if !ok {
		return 0, fmt.Errorf("magick: unknown filter %q", name)
	}
	return f, nil
}

var errNoImage = errors.New("wand contains no image")

// do runs fn against the state of w, recording a failure as the wand's
// exception. It is the single entry point for wand operations.
func (l *Library) do(w Wand, needImage bool, fn func(st *wand) error) bool {
	defer l.enter()()

	st := l.wand(w)
	if st == nil {
		return false
	}
	if needImage && st.img == nil {
		st.exception = errNoImage.Error()
		return false
	}
	if err := fn(st); err != nil {
		st.exception = err.Error()
		return false
	}
	return true
}

// NewWand creates an empty wand. It returns 0 if the library is not
// instantiated.
func (l *Library) NewWand() Wand {
	defer l.enter()()
	return l.addWand(&wand{})
}

// CloneWand creates an independent copy of w, image included.
func (l *Library) CloneWand(w Wand) Wand {
	defer l.enter()()

	st := l.wand(w)
	if st == nil {
		return 0
	}
	dup := *st
	dup.exception = ""
	if st.img != nil {
		dup.img = imaging.Clone(st.img)
	}
	return l.addWand(&dup)
}

// DestroyWand removes w from the table. It reports false for unknown
// handles, which includes handles destroyed before.
func (l *Library) DestroyWand(w Wand) bool {
	defer l.enter()()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.wands[w]; !ok {
		return false
	}
	delete(l.wands, w)
	return true
}

// IsWand reports whether w is a live handle.
func (l *Library) IsWand(w Wand) bool {
	return l.wand(w) != nil
}

// ReadImage decodes the file at path into w, replacing any image it held.
func (l *Library) ReadImage(w Wand, path string) bool {
	return l.do(w, false, func(st *wand) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("unable to open image %q: %w", path, err)
		}
		img, format, err := l.decode(data)
		if err != nil {
			return fmt.Errorf("no decode delegate for %q: %w", path, err)
		}
		st.img, st.format = img, format
		return nil
	})
}

// ReadImageBlob decodes an in-memory image into w.
func (l *Library) ReadImageBlob(w Wand, blob []byte) bool {
	return l.do(w, false, func(st *wand) error {
		if len(blob) == 0 {
			return errors.New("zero-length blob not permitted")
		}
		img, format, err := l.decode(blob)
		if err != nil {
			return fmt.Errorf("no decode delegate for blob: %w", err)
		}
		st.img, st.format = img, format
		return nil
	})
}

// NewImage fills w with a blank width x height image of the given background.
func (l *Library) NewImage(w Wand, width, height int, background PixelWand) bool {
	bg, ok := l.pixelColor(background)
	return l.do(w, false, func(st *wand) error {
		if !ok {
			return fmt.Errorf("invalid background pixel wand %d", background)
		}
		if width <= 0 || height <= 0 {
			return fmt.Errorf("negative or zero image size %dx%d", width, height)
		}
		if err := l.checkArea(width, height); err != nil {
			return err
		}
		st.img = imaging.New(width, height, bg)
		if st.format == "" {
			st.format = FormatPNG
		}
		return nil
	})
}

// WriteImage encodes w to path. The file extension picks the format when it
// names a known one; otherwise the wand's format is used.
func (l *Library) WriteImage(w Wand, path string) bool {
	return l.do(w, true, func(st *wand) error {
		format := formatFromPath(path)
		if format == "" {
			format = st.format
		}
		data, err := encodeBytes(st.img, format, st.quality, st.depth)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("unable to write image %q: %w", path, err)
		}
		return nil
	})
}

// GetImageBlob encodes w in its current format. It returns nil on failure.
func (l *Library) GetImageBlob(w Wand) []byte {
	var out []byte
	l.do(w, true, func(st *wand) error {
		data, err := encodeBytes(st.img, st.format, st.quality, st.depth)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out
}

// GetImageWidth returns 0 for a wand without an image.
func (l *Library) GetImageWidth(w Wand) int {
	var width int
	l.do(w, true, func(st *wand) error {
		width = st.img.Bounds().Dx()
		return nil
	})
	return width
}

// GetImageHeight returns 0 for a wand without an image.
func (l *Library) GetImageHeight(w Wand) int {
	var height int
	l.do(w, true, func(st *wand) error {
		height = st.img.Bounds().Dy()
		return nil
	})
	return height
}

func (l *Library) GetImageFormat(w Wand) string {
	var format string
	l.do(w, false, func(st *wand) error {
		format = st.format
		return nil
	})
	return format
}

// SetImageFormat accepts any name NormalizeFormat knows. The empty name
// clears the format.
func (l *Library) SetImageFormat(w Wand, format string) bool {
	return l.do(w, false, func(st *wand) error {
		if format == "" {
			st.format = ""
			return nil
		}
		canonical := NormalizeFormat(format)
		if canonical == "" {
			return fmt.Errorf("unrecognized image format %q", format)
		}
		st.format = canonical
		return nil
	})
}

func (l *Library) GetImageCompressionQuality(w Wand) int {
	var q int
	l.do(w, false, func(st *wand) error {
		q = st.quality
		return nil
	})
	return q
}

// SetImageCompressionQuality takes 0..100, 0 meaning the encoder default.
func (l *Library) SetImageCompressionQuality(w Wand, quality int) bool {
	return l.do(w, false, func(st *wand) error {
		if quality < 0 || quality > 100 {
			return fmt.Errorf("quality %d out of range 0..100", quality)
		}
		st.quality = quality
		return nil
	})
}

// GetImageDepth reports bits per channel, 8 unless set otherwise.
func (l *Library) GetImageDepth(w Wand) int {
	depth := 8
	l.do(w, false, func(st *wand) error {
		if st.depth != 0 {
			depth = st.depth
		}
		return nil
	})
	return depth
}

func (l *Library) SetImageDepth(w Wand, depth int) bool {
	return l.do(w, false, func(st *wand) error {
		if depth != 8 && depth != 16 {
			return fmt.Errorf("unsupported image depth %d", depth)
		}
		st.depth = depth
		return nil
	})
}

// GetImagePixelColor copies the color at (x, y) into p.
func (l *Library) GetImagePixelColor(w Wand, x, y int, p PixelWand) bool {
	ps := l.pixel(p)
	return l.do(w, true, func(st *wand) error {
		if ps == nil {
			return fmt.Errorf("invalid pixel wand %d", p)
		}
		if !(image.Point{X: x, Y: y}).In(st.img.Bounds()) {
			return fmt.Errorf("pixel %d,%d outside image", x, y)
		}
		ps.set(st.img.NRGBAAt(x, y))
		return nil
	})
}

func (l *Library) ResizeImage(w Wand, width, height int, filter Filter) bool {
	return l.do(w, true, func(st *wand) error {
		if width <= 0 || height <= 0 {
			return fmt.Errorf("negative or zero image size %dx%d", width, height)
		}
		if err := l.checkArea(width, height); err != nil {
			return err
		}
		f, ok := filters[filter]
		if !ok {
			return fmt.Errorf("unknown filter %d", filter)
		}
		st.img = imaging.Resize(st.img, width, height, f)
		return nil
	})
}

// CropImage keeps the width x height region at (x, y), clipped to the image.
func (l *Library) CropImage(w Wand, width, height, x, y int) bool {
	return l.do(w, true, func(st *wand) error {
		rect := image.Rect(x, y, x+width, y+height).Intersect(st.img.Bounds())
		if rect.Empty() {
			return errors.New("geometry does not contain image")
		}
		st.img = imaging.Crop(st.img, rect)
		return nil
	})
}

// FlipImage mirrors vertically.
func (l *Library) FlipImage(w Wand) bool {
	return l.transform(w, imaging.FlipV)
}

// FlopImage mirrors horizontally.
func (l *Library) FlopImage(w Wand) bool {
	return l.transform(w, imaging.FlipH)
}

func (l *Library) TransposeImage(w Wand) bool {
	return l.transform(w, imaging.Transpose)
}

func (l *Library) TransverseImage(w Wand) bool {
	return l.transform(w, imaging.Transverse)
}

func (l *Library) NegateImage(w Wand) bool {
	return l.transform(w, imaging.Invert)
}

func (l *Library) GrayscaleImage(w Wand) bool {
	return l.transform(w, imaging.Grayscale)
}

func (l *Library) transform(w Wand, fn func(image.Image) *image.NRGBA) bool {
	return l.do(w, true, func(st *wand) error {
		st.img = fn(st.img)
		return nil
	})
}

// RotateImage rotates clockwise by degrees, filling uncovered corners with
// background.
func (l *Library) RotateImage(w Wand, background PixelWand, degrees float64) bool {
	bg, ok := l.pixelColor(background)
	return l.do(w, true, func(st *wand) error {
		if !ok {
			return fmt.Errorf("invalid background pixel wand %d", background)
		}
		if err := l.checkArea(rotatedSize(st.img.Bounds(), degrees)); err != nil {
			return err
		}
		st.img = imaging.Rotate(st.img, -degrees, bg)
		return nil
	})
}

// rotatedSize is the bounding box of r rotated by degrees.
func rotatedSize(r image.Rectangle, degrees float64) (int, int) {
	sin, cos := math.Sincos(degrees * math.Pi / 180)
	w, h := float64(r.Dx()), float64(r.Dy())
	return int(math.Ceil(math.Abs(w*cos) + math.Abs(h*sin))),
		int(math.Ceil(math.Abs(w*sin) + math.Abs(h*cos)))
}

func (l *Library) BlurImage(w Wand, sigma float64) bool {
	return l.do(w, true, func(st *wand) error {
		if sigma < 0 {
			return fmt.Errorf("negative blur sigma %g", sigma)
		}
		st.img = imaging.Blur(st.img, sigma)
		return nil
	})
}

func (l *Library) SharpenImage(w Wand, sigma float64) bool {
	return l.do(w, true, func(st *wand) error {
		if sigma < 0 {
			return fmt.Errorf("negative sharpen sigma %g", sigma)
		}
		st.img = imaging.Sharpen(st.img, sigma)
		return nil
	})
}

func (l *Library) GammaImage(w Wand, gamma float64) bool {
	return l.do(w, true, func(st *wand) error {
		if gamma <= 0 {
			return fmt.Errorf("gamma must be positive, got %g", gamma)
		}
		st.img = imaging.AdjustGamma(st.img, gamma)
		return nil
	})
}

// BrightnessContrastImage takes percentages in -100..100.
func (l *Library) BrightnessContrastImage(w Wand, brightness, contrast float64) bool {
	return l.do(w, true, func(st *wand) error {
		if brightness < -100 || brightness > 100 || contrast < -100 || contrast > 100 {
			return fmt.Errorf("brightness/contrast %g/%g out of range -100..100", brightness, contrast)
		}
		img := st.img
		if brightness != 0 {
			img = imaging.AdjustBrightness(img, brightness)
		}
		if contrast != 0 {
			img = imaging.AdjustContrast(img, contrast)
		}
		st.img = img
		return nil
	})
}

// ModulateImage scales brightness and saturation and rotates hue, all as
// percentages where 100 means unchanged. A hue of 0 or 200 is a half turn.
func (l *Library) ModulateImage(w Wand, brightness, saturation, hue float64) bool {
	return l.do(w, true, func(st *wand) error {
		if brightness < 0 || saturation < 0 || hue < 0 || hue > 200 {
			return fmt.Errorf("modulate %g,%g,%g out of range", brightness, saturation, hue)
		}
		img := st.img
		if brightness != 100 {
			img = imaging.AdjustBrightness(img, clampPercent(brightness-100))
		}
		if saturation != 100 {
			img = imaging.AdjustSaturation(img, clampPercent(saturation-100))
		}
		if hue != 100 {
			img = imaging.Clone(adjust.Hue(img, int((hue-100)*1.8)))
		}
		st.img = img
		return nil
	})
}

func clampPercent(v float64) float64 {
	return max(-100, min(100, v))
}

func (l *Library) SepiaImage(w Wand) bool {
	return l.do(w, true, func(st *wand) error {
		st.img = imaging.Clone(effect.Sepia(st.img))
		return nil
	})
}

func (l *Library) EmbossImage(w Wand) bool {
	return l.do(w, true, func(st *wand) error {
		st.img = imaging.Clone(effect.Emboss(st.img))
		return nil
	})
}

func (l *Library) EdgeImage(w Wand, radius float64) bool {
	return l.do(w, true, func(st *wand) error {
		if radius <= 0 {
			return fmt.Errorf("edge radius must be positive, got %g", radius)
		}
		st.img = imaging.Clone(effect.EdgeDetection(st.img, radius))
		return nil
	})
}

// DespeckleImage applies a small median filter.
func (l *Library) DespeckleImage(w Wand) bool {
	return l.do(w, true, func(st *wand) error {
		st.img = imaging.Clone(effect.Median(st.img, 1))
		return nil
	})
}

func (l *Library) DilateImage(w Wand, radius float64) bool {
	return l.do(w, true, func(st *wand) error {
		if radius <= 0 {
			return fmt.Errorf("dilate radius must be positive, got %g", radius)
		}
		st.img = imaging.Clone(effect.Dilate(st.img, radius))
		return nil
	})
}

func (l *Library) ErodeImage(w Wand, radius float64) bool {
	return l.do(w, true, func(st *wand) error {
		if radius <= 0 {
			return fmt.Errorf("erode radius must be positive, got %g", radius)
		}
		st.img = imaging.Clone(effect.Erode(st.img, radius))
		return nil
	})
}

// ThresholdImage turns the image black and white at factor (0..1) of the
// full intensity.
func (l *Library) ThresholdImage(w Wand, factor float64) bool {
	return l.do(w, true, func(st *wand) error {
		if factor < 0 || factor > 1 {
			return fmt.Errorf("threshold %g out of range 0..1", factor)
		}
		st.img = imaging.Clone(segment.Threshold(st.img, uint8(factor*255)))
		return nil
	})
}

func (l *Library) pixelColor(p PixelWand) (color.NRGBA, bool) {
	ps := l.pixel(p)
	if ps == nil {
		return color.NRGBA{}, false
	}
	return ps.nrgba(), true
}

// SetImageAlpha sets the alpha of every pixel to alpha (0..1).
func (l *Library) SetImageAlpha(w Wand, alpha float64) bool {
	return l.do(w, true, func(st *wand) error {
		if alpha < 0 || alpha > 1 {
			return fmt.Errorf("alpha %g out of range 0..1", alpha)
		}
		a := uint8(math.Round(alpha * 255))
		img := imaging.Clone(st.img)
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = a
		}
		st.img = img
		return nil
	})
}

// CompositeImage draws src over w with its top-left corner at (x, y).
func (l *Library) CompositeImage(w, src Wand, x, y int) bool {
	srcState := l.wand(src)
	return l.do(w, true, func(st *wand) error {
		if srcState == nil || srcState.img == nil {
			return fmt.Errorf("invalid source wand %d", src)
		}
		st.img = imaging.Overlay(st.img, srcState.img, image.Pt(x, y), 1)
		return nil
	})
}

// CompareImages reports the mean absolute channel difference between w and
// other, normalized to 0..1. Images of different sizes fail to compare.
func (l *Library) CompareImages(w, other Wand) (float64, bool) {
	otherState := l.wand(other)
	var distortion float64
	ok := l.do(w, true, func(st *wand) error {
		if otherState == nil || otherState.img == nil {
			return fmt.Errorf("invalid reference wand %d", other)
		}
		a, b := st.img, otherState.img
		if a.Bounds().Size() != b.Bounds().Size() {
			return errors.New("image widths or heights differ")
		}
		if len(a.Pix) == 0 {
			return nil
		}
		var sum float64
		for i := range a.Pix {
			sum += math.Abs(float64(a.Pix[i]) - float64(b.Pix[i]))
		}
		distortion = sum / float64(len(a.Pix)) / 255
		return nil
	})
	return distortion, ok
}
