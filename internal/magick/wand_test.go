package magick

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red  = color.NRGBA{R: 255, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

// quadPNG encodes a 2x2 image: red on the top-left, blue elsewhere.
func quadPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, red)
	img.SetNRGBA(1, 0, blue)
	img.SetNRGBA(0, 1, blue)
	img.SetNRGBA(1, 1, blue)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func readQuad(t *testing.T, lib *Library) Wand {
	t.Helper()
	w := lib.NewWand()
	require.NoError(t, lib.Check(w, "read", lib.ReadImageBlob(w, quadPNG(t))))
	return w
}

func blank(t *testing.T, lib *Library, width, height int, spec string) Wand {
	t.Helper()
	p := lib.NewPixelWand()
	defer lib.DestroyPixelWand(p)
	require.True(t, lib.PixelSetColor(p, spec))

	w := lib.NewWand()
	require.NoError(t, lib.Check(w, "new", lib.NewImage(w, width, height, p)))
	return w
}

func pixelAt(t *testing.T, lib *Library, w Wand, x, y int) color.NRGBA {
	t.Helper()
	p := lib.NewPixelWand()
	defer lib.DestroyPixelWand(p)
	require.NoError(t, lib.Check(w, "pixel", lib.GetImagePixelColor(w, x, y, p)))
	c, ok := lib.pixelColor(p)
	require.True(t, ok)
	return c
}

func TestReadBlob(t *testing.T) {
	lib := newTestLibrary(t)
	w := readQuad(t, lib)

	assert.Equal(t, 2, lib.GetImageWidth(w))
	assert.Equal(t, 2, lib.GetImageHeight(w))
	assert.Equal(t, FormatPNG, lib.GetImageFormat(w))
	assert.Equal(t, red, pixelAt(t, lib, w, 0, 0))

	assert.False(t, lib.ReadImageBlob(w, nil))
	assert.False(t, lib.ReadImageBlob(w, []byte("not an image")))
	assert.Contains(t, lib.GetException(w), "no decode delegate")
}

func TestNoImage(t *testing.T) {
	lib := newTestLibrary(t)
	w := lib.NewWand()

	assert.Zero(t, lib.GetImageWidth(w))
	assert.Nil(t, lib.GetImageBlob(w))
	assert.False(t, lib.ResizeImage(w, 1, 1, FilterLanczos))
	assert.Equal(t, "wand contains no image", lib.GetException(w))
}

func TestNewImage(t *testing.T) {
	lib := newTestLibrary(t)
	w := blank(t, lib, 5, 3, "#00ff00")

	assert.Equal(t, 5, lib.GetImageWidth(w))
	assert.Equal(t, 3, lib.GetImageHeight(w))
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, pixelAt(t, lib, w, 4, 2))

	p := lib.NewPixelWand()
	assert.False(t, lib.NewImage(w, 0, 3, p))
	assert.False(t, lib.NewImage(w, 3, 3, PixelWand(12345)))
}

func TestAreaLimit(t *testing.T) {
	lib := New(WithAreaLimit(100))
	require.NoError(t, lib.Genesis())
	t.Cleanup(func() { lib.Terminus() })
	assert.Equal(t, 100, lib.AreaLimit())
	assert.Equal(t, DefaultAreaLimit, New(WithAreaLimit(0)).AreaLimit())

	w := blank(t, lib, 10, 10, "white")
	p := lib.NewPixelWand()
	defer lib.DestroyPixelWand(p)

	assert.False(t, lib.NewImage(w, 200000, 200000, p))
	assert.Contains(t, lib.GetException(w), "exceeds area limit")
	assert.False(t, lib.NewImage(w, 11, 10, p))

	assert.False(t, lib.ResizeImage(w, 20, 20, FilterLanczos))
	assert.False(t, lib.RotateImage(w, p, 45))
	assert.Equal(t, 10, lib.GetImageWidth(w), "a rejected op leaves the image alone")

	big := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, big))
	assert.False(t, lib.ReadImageBlob(w, buf.Bytes()))
	assert.Contains(t, lib.GetException(w), "exceeds area limit")
	assert.Equal(t, 10, lib.GetImageHeight(w))
}

func TestCloneWandIsIndependent(t *testing.T) {
	lib := newTestLibrary(t)
	w := readQuad(t, lib)

	dup := lib.CloneWand(w)
	require.NotZero(t, dup)
	require.True(t, lib.NegateImage(dup))

	assert.Equal(t, red, pixelAt(t, lib, w, 0, 0))
	assert.Equal(t, color.NRGBA{G: 255, B: 255, A: 255}, pixelAt(t, lib, dup, 0, 0))
	assert.Zero(t, lib.CloneWand(Wand(4242)))
}

func TestGeometry(t *testing.T) {
	lib := newTestLibrary(t)
	w := blank(t, lib, 8, 4, "white")

	require.True(t, lib.ResizeImage(w, 16, 8, FilterCatmullRom))
	assert.Equal(t, 16, lib.GetImageWidth(w))

	require.True(t, lib.CropImage(w, 10, 4, 2, 2))
	assert.Equal(t, 10, lib.GetImageWidth(w))
	assert.Equal(t, 4, lib.GetImageHeight(w))

	require.True(t, lib.CropImage(w, 100, 100, 5, 0), "crop is clipped to the image")
	assert.Equal(t, 5, lib.GetImageWidth(w))

	assert.False(t, lib.CropImage(w, 2, 2, 50, 50))
	assert.Contains(t, lib.GetException(w), "geometry")

	bg := lib.NewPixelWand()
	require.True(t, lib.RotateImage(w, bg, 90))
	assert.Equal(t, 4, lib.GetImageWidth(w))
	assert.Equal(t, 5, lib.GetImageHeight(w))

	require.True(t, lib.TransposeImage(w))
	assert.Equal(t, 5, lib.GetImageWidth(w))
	require.True(t, lib.TransverseImage(w))
	assert.Equal(t, 4, lib.GetImageWidth(w))

	assert.False(t, lib.ResizeImage(w, 0, 10, FilterBox))
	assert.False(t, lib.ResizeImage(w, 10, 10, Filter(99)))
}

func TestMirror(t *testing.T) {
	lib := newTestLibrary(t)

	w := readQuad(t, lib)
	require.True(t, lib.FlopImage(w))
	assert.Equal(t, red, pixelAt(t, lib, w, 1, 0))
	assert.Equal(t, blue, pixelAt(t, lib, w, 0, 0))

	w = readQuad(t, lib)
	require.True(t, lib.FlipImage(w))
	assert.Equal(t, red, pixelAt(t, lib, w, 0, 1))
}

func TestRotateClockwise(t *testing.T) {
	lib := newTestLibrary(t)
	w := readQuad(t, lib)

	bg := lib.NewPixelWand()
	require.True(t, lib.RotateImage(w, bg, 90))
	assert.Equal(t, red, pixelAt(t, lib, w, 1, 0), "top-left moves to top-right")
}

func TestColorOps(t *testing.T) {
	lib := newTestLibrary(t)

	w := blank(t, lib, 2, 2, "red")
	require.True(t, lib.NegateImage(w))
	assert.Equal(t, color.NRGBA{G: 255, B: 255, A: 255}, pixelAt(t, lib, w, 0, 0))

	w = blank(t, lib, 2, 2, "orange")
	require.True(t, lib.GrayscaleImage(w))
	c := pixelAt(t, lib, w, 0, 0)
	assert.Equal(t, c.R, c.G)
	assert.Equal(t, c.G, c.B)

	w = blank(t, lib, 2, 2, "gray")
	before := pixelAt(t, lib, w, 0, 0)
	require.True(t, lib.BrightnessContrastImage(w, 20, 0))
	assert.Greater(t, pixelAt(t, lib, w, 0, 0).R, before.R)
	assert.False(t, lib.BrightnessContrastImage(w, 150, 0))

	w = blank(t, lib, 2, 2, "gray")
	require.True(t, lib.GammaImage(w, 2))
	assert.Greater(t, pixelAt(t, lib, w, 0, 0).R, before.R)
	assert.False(t, lib.GammaImage(w, 0))

	w = blank(t, lib, 2, 2, "red")
	require.True(t, lib.ModulateImage(w, 100, 100, 100))
	assert.Equal(t, red, pixelAt(t, lib, w, 0, 0))
	require.True(t, lib.ModulateImage(w, 100, 100, 200))
	c = pixelAt(t, lib, w, 0, 0)
	assert.Greater(t, c.G, c.R, "half a hue turn takes red towards cyan")
	assert.False(t, lib.ModulateImage(w, 100, 100, 300))
}

func TestFilters(t *testing.T) {
	lib := newTestLibrary(t)

	ops := map[string]func(Wand) bool{
		"blur":      func(w Wand) bool { return lib.BlurImage(w, 1.5) },
		"sharpen":   func(w Wand) bool { return lib.SharpenImage(w, 1) },
		"sepia":     lib.SepiaImage,
		"emboss":    lib.EmbossImage,
		"edge":      func(w Wand) bool { return lib.EdgeImage(w, 1) },
		"despeckle": lib.DespeckleImage,
		"dilate":    func(w Wand) bool { return lib.DilateImage(w, 1) },
		"erode":     func(w Wand) bool { return lib.ErodeImage(w, 1) },
		"threshold": func(w Wand) bool { return lib.ThresholdImage(w, 0.5) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			w := blank(t, lib, 6, 4, "teal")
			require.NoError(t, lib.Check(w, name, op(w)))
			assert.Equal(t, 6, lib.GetImageWidth(w))
			assert.Equal(t, 4, lib.GetImageHeight(w))
		})
	}

	w := blank(t, lib, 2, 2, "#c0c0c0")
	require.True(t, lib.ThresholdImage(w, 0.5))
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, pixelAt(t, lib, w, 0, 0))
	assert.False(t, lib.ThresholdImage(w, 2))
	assert.False(t, lib.BlurImage(w, -1))
	assert.False(t, lib.EdgeImage(w, 0))
}

func TestProperties(t *testing.T) {
	lib := newTestLibrary(t)
	w := lib.NewWand()

	assert.Equal(t, "", lib.GetImageFormat(w))
	require.True(t, lib.SetImageFormat(w, "jpg"))
	assert.Equal(t, FormatJPEG, lib.GetImageFormat(w))
	assert.False(t, lib.SetImageFormat(w, "xyz"))
	assert.Contains(t, lib.GetException(w), "xyz")
	require.True(t, lib.SetImageFormat(w, ""))
	assert.Equal(t, "", lib.GetImageFormat(w))

	require.True(t, lib.SetImageCompressionQuality(w, 75))
	assert.Equal(t, 75, lib.GetImageCompressionQuality(w))
	assert.False(t, lib.SetImageCompressionQuality(w, 101))

	assert.Equal(t, 8, lib.GetImageDepth(w))
	require.True(t, lib.SetImageDepth(w, 16))
	assert.Equal(t, 16, lib.GetImageDepth(w))
	assert.False(t, lib.SetImageDepth(w, 12))
}

func TestBlobFormats(t *testing.T) {
	lib := newTestLibrary(t)
	w := blank(t, lib, 4, 4, "navy")

	for _, format := range []string{"png", "jpeg", "gif", "tiff", "bmp"} {
		t.Run(format, func(t *testing.T) {
			require.True(t, lib.SetImageFormat(w, format))
			blob := lib.GetImageBlob(w)
			require.NotNil(t, blob)

			_, decoded, err := image.DecodeConfig(bytes.NewReader(blob))
			require.NoError(t, err)
			assert.Equal(t, format, decoded)
		})
	}

	require.True(t, lib.SetImageFormat(w, "webp"))
	assert.Nil(t, lib.GetImageBlob(w))
	assert.Contains(t, lib.GetException(w), "no encoder")
}

func TestDepth16PNG(t *testing.T) {
	lib := newTestLibrary(t)
	w := blank(t, lib, 3, 3, "white")
	require.True(t, lib.SetImageDepth(w, 16))

	blob := lib.GetImageBlob(w)
	require.NotNil(t, blob)
	cfg, err := png.DecodeConfig(bytes.NewReader(blob))
	require.NoError(t, err)
	assert.Contains(t, []color.Model{color.RGBA64Model, color.NRGBA64Model}, cfg.ColorModel)
}

func TestJPEGQuality(t *testing.T) {
	lib := newTestLibrary(t)
	w := readQuad(t, lib)
	require.True(t, lib.ResizeImage(w, 64, 64, FilterNearest))
	require.True(t, lib.SetImageFormat(w, "jpeg"))

	require.True(t, lib.SetImageCompressionQuality(w, 10))
	low := lib.GetImageBlob(w)
	require.True(t, lib.SetImageCompressionQuality(w, 95))
	high := lib.GetImageBlob(w)
	assert.Less(t, len(low), len(high))
}

func TestWriteAndReadFile(t *testing.T) {
	lib := newTestLibrary(t)
	w := readQuad(t, lib)
	dir := t.TempDir()

	path := filepath.Join(dir, "out.bmp")
	require.NoError(t, lib.Check(w, "write", lib.WriteImage(w, path)))

	r := lib.NewWand()
	require.NoError(t, lib.Check(r, "read", lib.ReadImage(r, path)))
	assert.Equal(t, FormatBMP, lib.GetImageFormat(r))
	assert.Equal(t, red, pixelAt(t, lib, r, 0, 0))

	noext := filepath.Join(dir, "out")
	require.True(t, lib.WriteImage(w, noext), "wand format is used without an extension")
	require.True(t, lib.ReadImage(r, noext))
	assert.Equal(t, FormatPNG, lib.GetImageFormat(r))

	assert.False(t, lib.WriteImage(w, filepath.Join(dir, "missing", "x.png")))
	assert.Contains(t, lib.GetException(w), "unable to write")
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterLanczos, f)

	f, err = ParseFilter("box")
	require.NoError(t, err)
	assert.Equal(t, FilterBox, f)

	_, err = ParseFilter("bicubic-ish")
	assert.Error(t, err)
}

func TestNormalizeFormat(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"png", FormatPNG},
		{".JPG", FormatJPEG},
		{"Tif", FormatTIFF},
		{"webp", FormatWEBP},
		{"svg", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeFormat(tt.in))
		})
	}
}

func TestSetImageAlpha(t *testing.T) {
	lib := newTestLibrary(t)
	w := blank(t, lib, 3, 3, "red")

	require.True(t, lib.SetImageAlpha(w, 0.5))
	assert.Equal(t, uint8(128), pixelAt(t, lib, w, 2, 2).A)
	assert.False(t, lib.SetImageAlpha(w, 1.5))
}

func TestCompositeImage(t *testing.T) {
	lib := newTestLibrary(t)
	dst := blank(t, lib, 10, 10, "white")
	src := blank(t, lib, 2, 2, "blue")

	require.True(t, lib.CompositeImage(dst, src, 5, 5))
	assert.Equal(t, blue, pixelAt(t, lib, dst, 6, 6))
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, pixelAt(t, lib, dst, 4, 4))
	assert.False(t, lib.CompositeImage(dst, Wand(8888), 0, 0))
}

func TestCompareImages(t *testing.T) {
	lib := newTestLibrary(t)
	a := blank(t, lib, 2, 2, "gray")
	b := lib.CloneWand(a)

	d, ok := lib.CompareImages(a, b)
	require.True(t, ok)
	assert.Zero(t, d)

	require.True(t, lib.GammaImage(b, 2))
	d, ok = lib.CompareImages(a, b)
	require.True(t, ok)
	assert.Positive(t, d)

	small := blank(t, lib, 1, 1, "red")
	_, ok = lib.CompareImages(a, small)
	assert.False(t, ok)
	assert.Contains(t, lib.GetException(a), "differ")
}
