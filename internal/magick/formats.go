package magick

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	// Decoders beyond what imaging registers.
	_ "golang.org/x/image/webp"
)

// Canonical format names, as reported by GetImageFormat.
const (
	FormatPNG  = "PNG"
	FormatJPEG = "JPEG"
	FormatGIF  = "GIF"
	FormatTIFF = "TIFF"
	FormatBMP  = "BMP"
	FormatWEBP = "WEBP"
)

var formatAliases = map[string]string{
	"png":  FormatPNG,
	"jpg":  FormatJPEG,
	"jpeg": FormatJPEG,
	"gif":  FormatGIF,
	"tif":  FormatTIFF,
	"tiff": FormatTIFF,
	"bmp":  FormatBMP,
	"webp": FormatWEBP,
}

var encoders = map[string]imaging.Format{
	FormatPNG:  imaging.PNG,
	FormatJPEG: imaging.JPEG,
	FormatGIF:  imaging.GIF,
	FormatTIFF: imaging.TIFF,
	FormatBMP:  imaging.BMP,
}

// NormalizeFormat maps a format name or file extension to its canonical
// name. It returns "" for unknown formats.
func NormalizeFormat(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, "."))
	return formatAliases[name]
}

func formatFromPath(path string) string {
	return NormalizeFormat(filepath.Ext(path))
}

// decode reads an image and reports its canonical format. The header is
// checked against the area limit before any pixels are decoded.
func (l *Library) decode(data []byte) (*image.NRGBA, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if err := l.checkArea(cfg.Width, cfg.Height); err != nil {
		return nil, "", err
	}
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	format := NormalizeFormat(name)
	if format == "" {
		format = strings.ToUpper(name)
	}
	return imaging.Clone(img), format, nil
}

// encode writes img in format honoring quality and depth the way the wand
// properties describe them.
func encode(w io.Writer, img *image.NRGBA, format string, quality, depth int) error {
	f, ok := encoders[format]
	if !ok {
		return fmt.Errorf("no encoder for format %q", format)
	}

	if f == imaging.PNG && depth == 16 {
		wide := image.NewNRGBA64(img.Bounds())
		draw.Draw(wide, wide.Bounds(), img, img.Bounds().Min, draw.Src)
		enc := png.Encoder{CompressionLevel: pngCompression(quality)}
		return enc.Encode(w, wide)
	}

	var opts []imaging.EncodeOption
	switch f {
	case imaging.JPEG:
		if quality > 0 {
			opts = append(opts, imaging.JPEGQuality(quality))
		}
	case imaging.PNG:
		opts = append(opts, imaging.PNGCompressionLevel(pngCompression(quality)))
	}
	return imaging.Encode(w, img, f, opts...)
}

// pngCompression maps a 0..100 quality to a zlib level; the tens digit
// selects the level, 0 keeps the default.
func pngCompression(quality int) png.CompressionLevel {
	switch level := quality / 10; {
	case quality <= 0:
		return png.DefaultCompression
	case level == 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func encodeBytes(img *image.NRGBA, format string, quality, depth int) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, img, format, quality, depth); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
