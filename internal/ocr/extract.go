package ocr

import (
	"context"
	"fmt"
	stdimage "image"

	"github.com/otiai10/gosseract/v2"

	"github.com/ironsheep/wandbridge/internal/image"
	"github.com/ironsheep/wandbridge/internal/resource"
)

// Bounds represents a rectangular bounding box in pixel coordinates.
type Bounds struct {
	X1 int `json:"x1"` // Left edge
	Y1 int `json:"y1"` // Top edge
	X2 int `json:"x2"` // Right edge
	Y2 int `json:"y2"` // Bottom edge
}

func boundsOf(r stdimage.Rectangle, offset stdimage.Point) Bounds {
	r = r.Add(offset)
	return Bounds{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// TextRegion represents a word with its location and OCR confidence.
type TextRegion struct {
	// Text is the recognized text content.
	Text string `json:"text"`

	// Confidence is the OCR confidence score (0.0 to 1.0).
	Confidence float64 `json:"confidence"`

	// Bounds is the bounding box around this text in the image.
	Bounds Bounds `json:"bounds"`
}

// OCRResult contains the complete results of text extraction from an image.
type OCRResult struct {
	// FullText is all recognized text with original spacing and newlines.
	FullText string `json:"full_text"`

	// Regions contains individual words with their bounding boxes. It may be
	// empty if bounding box extraction fails; the text is still in FullText.
	Regions []TextRegion `json:"regions"`
}

// DetectTextRegionsResult contains text region locations without the text.
type DetectTextRegionsResult struct {
	Regions []TextRegionBox `json:"regions"`
	Count   int             `json:"count"`
}

// TextRegionBox is a detected text block's location without its content.
type TextRegionBox struct {
	Bounds     Bounds  `json:"bounds"`
	Confidence float64 `json:"confidence"`
}

// Options apply to a single recognition call.
type Options struct {
	// Language overrides the engine language, e.g. "deu" or "eng+fra".
	Language string
	// PageSegMode overrides the page segmentation mode when non-nil.
	PageSegMode *gosseract.PageSegMode
	// Region limits recognition to part of the image. The zero rectangle
	// means the whole image.
	Region stdimage.Rectangle
}

func (o Options) properties() []resource.Property {
	props := []resource.Property{resource.Opt(PropPageSegMode, o.PageSegMode)}
	if o.Language != "" {
		props = append(props, resource.Set(PropLanguage, o.Language))
	}
	return props
}

// prepare encodes img, or the part of it Options.Region selects, as PNG and
// returns the offset of the encoded pixels within img.
func prepare(ctx context.Context, img *image.Image, region stdimage.Rectangle) ([]byte, stdimage.Point, error) {
	if region.Empty() {
		blob, err := img.Blob(ctx, image.Format("png"))
		return blob, stdimage.Point{}, err
	}

	w, h, err := img.Size(ctx)
	if err != nil {
		return nil, stdimage.Point{}, err
	}
	region = region.Intersect(stdimage.Rect(0, 0, w, h))
	if region.Empty() {
		return nil, stdimage.Point{}, fmt.Errorf("ocr: region outside image")
	}

	crop, err := img.Copy()
	if err != nil {
		return nil, stdimage.Point{}, err
	}
	defer crop.Close()

	if err := crop.Crop(ctx, region.Min.X, region.Min.Y, region.Dx(), region.Dy()); err != nil {
		return nil, stdimage.Point{}, err
	}
	blob, err := crop.Blob(ctx, image.Format("png"))
	return blob, region.Min, err
}

// ExtractText recognizes the text in img.
//
// Word regions use Tesseract's word iterator level. Bounds are in the
// coordinates of img even when Options.Region selects a part of it.
func (e *Engine) ExtractText(ctx context.Context, img *image.Image, opts Options) (*OCRResult, error) {
	blob, offset, err := prepare(ctx, img, opts.Region)
	if err != nil {
		return nil, err
	}

	var result *OCRResult
	err = resource.WithState(ctx, e, opts.properties(), func() error {
		return e.run(ctx, func(c *gosseract.Client) error {
			if err := c.SetImageFromBytes(blob); err != nil {
				return fmt.Errorf("failed to set image: %w", err)
			}
			text, err := c.Text()
			if err != nil {
				return fmt.Errorf("OCR failed: %w", err)
			}
			result = &OCRResult{FullText: text, Regions: []TextRegion{}}

			boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
			if err != nil {
				// Keep the text when boxes are unavailable.
				return nil
			}
			for _, box := range boxes {
				if box.Word == "" {
					continue
				}
				result.Regions = append(result.Regions, TextRegion{
					Text:       box.Word,
					Confidence: float64(box.Confidence) / 100.0,
					Bounds:     boundsOf(box.Box, offset),
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DetectTextRegions finds text blocks in img without returning their text.
// Blocks with a confidence below minConfidence (0..1) are dropped.
func (e *Engine) DetectTextRegions(ctx context.Context, img *image.Image, minConfidence float64, opts Options) (*DetectTextRegionsResult, error) {
	blob, offset, err := prepare(ctx, img, opts.Region)
	if err != nil {
		return nil, err
	}

	result := &DetectTextRegionsResult{Regions: []TextRegionBox{}}
	err = resource.WithState(ctx, e, opts.properties(), func() error {
		return e.run(ctx, func(c *gosseract.Client) error {
			if err := c.SetImageFromBytes(blob); err != nil {
				return fmt.Errorf("failed to set image: %w", err)
			}
			boxes, err := c.GetBoundingBoxes(gosseract.RIL_BLOCK)
			if err != nil {
				return fmt.Errorf("failed to get text regions: %w", err)
			}
			for _, box := range boxes {
				confidence := float64(box.Confidence) / 100.0
				if confidence < minConfidence {
					continue
				}
				result.Regions = append(result.Regions, TextRegionBox{
					Bounds:     boundsOf(box.Box, offset),
					Confidence: confidence,
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	result.Count = len(result.Regions)
	return result, nil
}

// OCRInfo describes the OCR subsystem.
type OCRInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Language  string `json:"language,omitempty"`
	Error     string `json:"error,omitempty"`
	Backend   string `json:"backend"`
}

// Info reports the engine's Tesseract version and language.
func (e *Engine) Info(ctx context.Context) OCRInfo {
	info := OCRInfo{Backend: "gosseract"}
	version, err := e.Version(ctx)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Available = true
	info.Version = version
	info.Language, _ = e.Language(ctx)
	return info
}
