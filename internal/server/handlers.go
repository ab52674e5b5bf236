package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	stdimage "image"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"github.com/ironsheep/wandbridge/internal/color"
	"github.com/ironsheep/wandbridge/internal/image"
	"github.com/ironsheep/wandbridge/internal/magick"
	"github.com/ironsheep/wandbridge/internal/ocr"
	"github.com/ironsheep/wandbridge/internal/resource"
	"github.com/ironsheep/wandbridge/internal/wand"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_open", "image_transform").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage("{}")
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Info("tool call failed", zap.String("tool", params.Name), zap.Error(err))
		return s.errorResponse(req.ID, codeToolFailed, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Image lifecycle
	case "image_open":
		return s.handleImageOpen(ctx, args)
	case "image_blank":
		return s.handleImageBlank(ctx, args)
	case "image_info":
		return s.handleImageInfo(ctx, args)
	case "image_copy":
		return s.handleImageCopy(ctx, args)
	case "image_close":
		return s.handleImageClose(args)
	case "image_list":
		return map[string]interface{}{"ids": s.session.IDs()}, nil

	// Processing
	case "image_transform":
		return s.handleImageTransform(ctx, args)
	case "image_overlay":
		return s.handleImageOverlay(ctx, args)
	case "image_compare":
		return s.handleImageCompare(ctx, args)
	case "image_pixel":
		return s.handleImagePixel(ctx, args)

	// Output
	case "image_write":
		return s.handleImageWrite(ctx, args)
	case "image_encode":
		return s.handleImageEncode(ctx, args)

	// Color
	case "color_parse":
		return s.handleColorParse(ctx, args)

	// OCR
	case "ocr_text":
		return s.handleOCRText(ctx, args)
	case "ocr_regions":
		return s.handleOCRRegions(ctx, args)
	case "ocr_info":
		return s.handleOCRInfo(ctx)

	case "runtime_stats":
		return s.handleRuntimeStats(), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	resp := &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
		},
	}
	if data != "" {
		resp.Error.Data = data
	}
	return resp
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// === Image lifecycle handlers ===

// ImageInfo describes an open image.
type ImageInfo struct {
	ID      string `json:"id"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	Quality int    `json:"quality,omitempty"`
	Depth   int    `json:"depth"`
}

func describe(ctx context.Context, id string, img *image.Image) (*ImageInfo, error) {
	w, h, err := img.Size(ctx)
	if err != nil {
		return nil, err
	}
	format, err := img.ImageFormat(ctx)
	if err != nil {
		return nil, err
	}
	quality, err := img.Quality(ctx)
	if err != nil {
		return nil, err
	}
	depth, err := img.Depth(ctx)
	if err != nil {
		return nil, err
	}
	return &ImageInfo{ID: id, Width: w, Height: h, Format: format, Quality: quality, Depth: depth}, nil
}

// keep stores img in the session and describes it.
func (s *Server) keep(ctx context.Context, img *image.Image) (*ImageInfo, error) {
	id, err := s.session.Add(img)
	if err != nil {
		return nil, err
	}
	return describe(ctx, id, img)
}

type idArgs struct {
	ID string `json:"id"`
}

func (s *Server) lookup(args json.RawMessage) (string, *image.Image, error) {
	var a idArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", nil, err
	}
	img, err := s.session.Get(a.ID)
	return a.ID, img, err
}

type imageOpenArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageOpen(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageOpenArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	img, err := image.Read(ctx, s.rt, a.Path)
	if err != nil {
		return nil, err
	}
	return s.keep(ctx, img)
}

type imageBlankArgs struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Background string `json:"background"`
}

func (s *Server) handleImageBlank(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageBlankArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	bg, err := s.optionalColor(ctx, a.Background)
	if err != nil {
		return nil, err
	}
	if bg != nil {
		defer bg.Close()
	}
	img, err := image.Blank(ctx, s.rt, a.Width, a.Height, bg)
	if err != nil {
		return nil, err
	}
	return s.keep(ctx, img)
}

// optionalColor parses spec, or returns nil for an empty spec. The caller
// closes a non-nil result.
func (s *Server) optionalColor(ctx context.Context, spec string) (*color.Color, error) {
	if spec == "" {
		return nil, nil
	}
	return color.Parse(ctx, s.rt, spec)
}

func (s *Server) handleImageInfo(ctx context.Context, args json.RawMessage) (interface{}, error) {
	id, img, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	return describe(ctx, id, img)
}

func (s *Server) handleImageCopy(ctx context.Context, args json.RawMessage) (interface{}, error) {
	_, img, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	dup, err := img.Copy()
	if err != nil {
		return nil, err
	}
	return s.keep(ctx, dup)
}

func (s *Server) handleImageClose(args json.RawMessage) (interface{}, error) {
	var a idArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := s.session.Remove(a.ID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": a.ID, "closed": true}, nil
}

// === Processing handlers ===

type imageTransformArgs struct {
	ID         string   `json:"id"`
	Operation  string   `json:"operation"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	X          int      `json:"x"`
	Y          int      `json:"y"`
	Value      *float64 `json:"value"`
	Saturation *float64 `json:"saturation"`
	Hue        *float64 `json:"hue"`
	Filter     string   `json:"filter"`
	Background string   `json:"background"`
}

// value returns the value argument, or def when it was omitted.
func (a *imageTransformArgs) value(def float64) float64 {
	if a.Value == nil {
		return def
	}
	return *a.Value
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func (s *Server) handleImageTransform(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageTransformArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.session.Get(a.ID)
	if err != nil {
		return nil, err
	}
	if err := s.transform(ctx, img, &a); err != nil {
		return nil, err
	}
	return describe(ctx, a.ID, img)
}

func (s *Server) transform(ctx context.Context, img *image.Image, a *imageTransformArgs) error {
	filter, err := magick.ParseFilter(a.Filter)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.Operation) {
	case "resize":
		return img.Resize(ctx, a.Width, a.Height, filter)
	case "rescale":
		if a.Value == nil {
			return fmt.Errorf("rescale needs value")
		}
		return img.Rescale(ctx, *a.Value, filter)
	case "fit":
		return img.Fit(ctx, a.Width, a.Height, filter)
	case "crop":
		return img.Crop(ctx, a.X, a.Y, a.Width, a.Height)
	case "flip":
		return img.Flip(ctx)
	case "flop":
		return img.Flop(ctx)
	case "transpose":
		return img.Transpose(ctx)
	case "transverse":
		return img.Transverse(ctx)
	case "rotate":
		bg, err := s.optionalColor(ctx, a.Background)
		if err != nil {
			return err
		}
		if bg != nil {
			defer bg.Close()
		}
		return img.Rotate(ctx, a.value(90), bg)
	case "blur":
		return img.Blur(ctx, a.value(1))
	case "sharpen":
		return img.Sharpen(ctx, a.value(1))
	case "gamma":
		return img.Gamma(ctx, a.value(1))
	case "brightness":
		return img.Brightness(ctx, a.value(0))
	case "contrast":
		return img.Contrast(ctx, a.value(0))
	case "modulate":
		return img.Modulate(ctx, a.value(100), orDefault(a.Saturation, 100), orDefault(a.Hue, 100))
	case "desaturate":
		return img.Desaturate(ctx)
	case "invert":
		return img.Invert(ctx)
	case "grayscale":
		return img.Grayscale(ctx)
	case "sepia":
		return img.Sepia(ctx)
	case "emboss":
		return img.Emboss(ctx)
	case "edge":
		return img.Edge(ctx, a.value(1))
	case "despeckle":
		return img.Despeckle(ctx)
	case "dilate":
		return img.Dilate(ctx, a.value(1))
	case "erode":
		return img.Erode(ctx, a.value(1))
	case "threshold":
		return img.Threshold(ctx, a.value(0.5))
	case "alpha":
		if a.Value == nil {
			return fmt.Errorf("alpha needs value")
		}
		return img.SetAlpha(ctx, *a.Value)
	default:
		return fmt.Errorf("unknown operation: %q", a.Operation)
	}
}

type imageOverlayArgs struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

func (s *Server) handleImageOverlay(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageOverlayArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	dst, err := s.session.Get(a.ID)
	if err != nil {
		return nil, err
	}
	src, err := s.session.Get(a.Source)
	if err != nil {
		return nil, err
	}
	if err := dst.Overlay(ctx, src, a.X, a.Y); err != nil {
		return nil, err
	}
	return describe(ctx, a.ID, dst)
}

type imageCompareArgs struct {
	ID    string `json:"id"`
	Other string `json:"other"`
}

// CompareResult reports how far apart two images are.
type CompareResult struct {
	Difference float64 `json:"difference"`
	Same       bool    `json:"same"`
}

func (s *Server) handleImageCompare(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageCompareArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.session.Get(a.ID)
	if err != nil {
		return nil, err
	}
	other, err := s.session.Get(a.Other)
	if err != nil {
		return nil, err
	}
	d, err := img.Compare(ctx, other)
	if err != nil {
		return nil, err
	}
	return &CompareResult{Difference: d, Same: d == 0}, nil
}

type imagePixelArgs struct {
	ID string `json:"id"`
	X  int    `json:"x"`
	Y  int    `json:"y"`
}

func (s *Server) handleImagePixel(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imagePixelArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.session.Get(a.ID)
	if err != nil {
		return nil, err
	}
	c, err := img.Pixel(ctx, a.X, a.Y)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	info, err := describeColor(ctx, c)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"x": a.X, "y": a.Y, "color": info}, nil
}

// === Output handlers ===

type imageOutputArgs struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Format  string `json:"format"`
	Quality *int   `json:"quality"`
}

func (a *imageOutputArgs) properties() []resource.Property {
	var props []resource.Property
	if a.Format != "" {
		props = append(props, image.Format(a.Format))
	}
	if a.Quality != nil {
		props = append(props, image.Quality(*a.Quality))
	}
	return props
}

func (s *Server) handleImageWrite(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageOutputArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	img, err := s.session.Get(a.ID)
	if err != nil {
		return nil, err
	}
	if err := img.Write(ctx, a.Path, a.properties()...); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": a.ID, "path": a.Path}, nil
}

// EncodeResult carries an encoded image.
type EncodeResult struct {
	Format   string `json:"format"`
	Bytes    int    `json:"bytes"`
	ImageB64 string `json:"image_base64"`
}

func (s *Server) handleImageEncode(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageOutputArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Format == "" {
		a.Format = magick.FormatPNG
	}
	img, err := s.session.Get(a.ID)
	if err != nil {
		return nil, err
	}
	blob, err := img.Blob(ctx, a.properties()...)
	if err != nil {
		return nil, err
	}
	return &EncodeResult{
		Format:   magick.NormalizeFormat(a.Format),
		Bytes:    len(blob),
		ImageB64: base64.StdEncoding.EncodeToString(blob),
	}, nil
}

// === Color handlers ===

// ColorInfo describes a color.
type ColorInfo struct {
	Text       string  `json:"text"`
	Hex        string  `json:"hex"`
	Red        float64 `json:"red"`
	Green      float64 `json:"green"`
	Blue       float64 `json:"blue"`
	Alpha      float64 `json:"alpha"`
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Lightness  float64 `json:"lightness"`
}

func describeColor(ctx context.Context, c *color.Color) (*ColorInfo, error) {
	var info ColorInfo
	var err error
	if info.Red, info.Green, info.Blue, info.Alpha, err = c.RGBA(ctx); err != nil {
		return nil, err
	}
	if info.Hue, info.Saturation, info.Lightness, err = c.HSL(ctx); err != nil {
		return nil, err
	}
	if info.Text, err = c.Text(ctx); err != nil {
		return nil, err
	}
	if info.Hex, err = c.Hex(ctx); err != nil {
		return nil, err
	}
	return &info, nil
}

type colorParseArgs struct {
	Color string `json:"color"`
}

func (s *Server) handleColorParse(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a colorParseArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	c, err := color.Parse(ctx, s.rt, a.Color)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return describeColor(ctx, c)
}

// === OCR handlers ===

type regionArgs struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

type ocrArgs struct {
	ID            string      `json:"id"`
	Language      string      `json:"language"`
	PageSegMode   *int        `json:"page_seg_mode"`
	Region        *regionArgs `json:"region"`
	MinConfidence *float64    `json:"min_confidence"`
}

func (a *ocrArgs) options() ocr.Options {
	opts := ocr.Options{Language: a.Language}
	if a.PageSegMode != nil {
		mode := gosseract.PageSegMode(*a.PageSegMode)
		opts.PageSegMode = &mode
	}
	if a.Region != nil {
		opts.Region = stdimage.Rect(a.Region.X1, a.Region.Y1, a.Region.X2, a.Region.Y2)
	}
	return opts
}

func (s *Server) ocrTarget(args json.RawMessage) (*ocrArgs, *image.Image, *ocr.Engine, error) {
	var a ocrArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, nil, nil, err
	}
	img, err := s.session.Get(a.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	e, err := s.ocrEngine()
	if err != nil {
		return nil, nil, nil, err
	}
	return &a, img, e, nil
}

func (s *Server) handleOCRText(ctx context.Context, args json.RawMessage) (interface{}, error) {
	a, img, e, err := s.ocrTarget(args)
	if err != nil {
		return nil, err
	}
	return e.ExtractText(ctx, img, a.options())
}

func (s *Server) handleOCRRegions(ctx context.Context, args json.RawMessage) (interface{}, error) {
	a, img, e, err := s.ocrTarget(args)
	if err != nil {
		return nil, err
	}
	return e.DetectTextRegions(ctx, img, orDefault(a.MinConfidence, 0.5), a.options())
}

func (s *Server) handleOCRInfo(ctx context.Context) (interface{}, error) {
	e, err := s.ocrEngine()
	if err != nil {
		return &ocr.OCRInfo{Backend: "gosseract", Error: err.Error()}, nil
	}
	return e.Info(ctx), nil
}

// === Runtime handlers ===

// RuntimeStats is the runtime snapshot plus the session size.
type RuntimeStats struct {
	wand.Stats
	OpenImages int `json:"open_images"`
}

func (s *Server) handleRuntimeStats() *RuntimeStats {
	return &RuntimeStats{Stats: s.rt.Stats(), OpenImages: s.session.Len()}
}
