package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var idProperty = map[string]interface{}{
	"type":        "string",
	"description": "Image id returned by image_open, image_blank or image_copy",
}

var regionProperty = map[string]interface{}{
	"type":        "object",
	"description": "Optional region to restrict OCR to, in image coordinates (x2/y2 exclusive)",
	"properties": map[string]interface{}{
		"x1": map[string]interface{}{"type": "integer"},
		"y1": map[string]interface{}{"type": "integer"},
		"x2": map[string]interface{}{"type": "integer"},
		"y2": map[string]interface{}{"type": "integer"},
	},
	"required": []string{"x1", "y1", "x2", "y2"},
}

// Operations accepted by image_transform.
var transformOperations = []string{
	"resize", "rescale", "fit", "crop", "flip", "flop", "transpose", "transverse",
	"rotate", "blur", "sharpen", "gamma", "brightness", "contrast", "modulate",
	"desaturate", "invert", "grayscale", "sepia", "emboss", "edge", "despeckle",
	"dilate", "erode", "threshold", "alpha",
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Image lifecycle
		{
			Name:        "image_open",
			Description: "Read an image file and keep it open. Returns an id used by the other image tools, plus the image size and format.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_blank",
			Description: "Create a new image of the given size filled with a background color (transparent by default).",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Width in pixels",
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Height in pixels",
					},
					"background": map[string]interface{}{
						"type":        "string",
						"description": "Background color: a name, #rrggbb, #rrggbbaa or rgb()/rgba() form",
					},
				},
				"required": []string{"width", "height"},
			},
		},
		{
			Name:        "image_info",
			Description: "Get the size, format, quality and depth of an open image.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "image_copy",
			Description: "Duplicate an open image. The copy is independent and gets its own id.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "image_close",
			Description: "Close an open image and release it.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "image_list",
			Description: "List the ids of every open image.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},

		// Processing
		{
			Name:        "image_transform",
			Description: "Apply one operation to an open image in place and return its new size.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
					"operation": map[string]interface{}{
						"type":        "string",
						"enum":        transformOperations,
						"description": "Operation to apply",
					},
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Target or maximum width (resize, fit, crop)",
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Target or maximum height (resize, fit, crop)",
					},
					"x": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge (crop)",
					},
					"y": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge (crop)",
					},
					"value": map[string]interface{}{
						"type":        "number",
						"description": "Amount: factor (rescale), degrees (rotate), sigma (blur, sharpen), gamma, percent (brightness, contrast, modulate brightness), radius (edge, dilate, erode), threshold factor or alpha",
					},
					"saturation": map[string]interface{}{
						"type":        "number",
						"description": "Saturation percent for modulate. Default 100",
					},
					"hue": map[string]interface{}{
						"type":        "number",
						"description": "Hue percent for modulate. Default 100",
					},
					"filter": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"lanczos", "catmullrom", "mitchell", "linear", "box", "nearest", "gaussian", "hermite"},
						"description": "Resampling filter (resize, rescale, fit). Default lanczos",
					},
					"background": map[string]interface{}{
						"type":        "string",
						"description": "Color for corners uncovered by rotate. Default transparent",
					},
				},
				"required": []string{"id", "operation"},
			},
		},
		{
			Name:        "image_overlay",
			Description: "Draw one open image over another at the given offset.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
					"source": map[string]interface{}{
						"type":        "string",
						"description": "Id of the image drawn on top",
					},
					"x": map[string]interface{}{"type": "integer", "description": "Left offset"},
					"y": map[string]interface{}{"type": "integer", "description": "Top offset"},
				},
				"required": []string{"id", "source"},
			},
		},
		{
			Name:        "image_compare",
			Description: "Compare two open images. Returns the mean channel difference in 0..1 and whether they are identical.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
					"other": map[string]interface{}{
						"type":        "string",
						"description": "Id of the image to compare against",
					},
				},
				"required": []string{"id", "other"},
			},
		},
		{
			Name:        "image_pixel",
			Description: "Get the color of the pixel at (x, y).",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
					"x":  map[string]interface{}{"type": "integer", "description": "X coordinate (0-based, from left)"},
					"y":  map[string]interface{}{"type": "integer", "description": "Y coordinate (0-based, from top)"},
				},
				"required": []string{"id", "x", "y"},
			},
		},

		// Output
		{
			Name:        "image_write",
			Description: "Write an open image to a file. The extension chooses the format unless format is given.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute output path",
					},
					"format": map[string]interface{}{
						"type":        "string",
						"description": "Optional format override (png, jpeg, gif, tiff, bmp)",
					},
					"quality": map[string]interface{}{
						"type":        "integer",
						"description": "Optional encoder quality 1-100",
					},
				},
				"required": []string{"id", "path"},
			},
		},
		{
			Name:        "image_encode",
			Description: "Encode an open image and return it as base64. Default format is PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
					"format": map[string]interface{}{
						"type":        "string",
						"description": "Optional format (png, jpeg, gif, tiff, bmp)",
					},
					"quality": map[string]interface{}{
						"type":        "integer",
						"description": "Optional encoder quality 1-100",
					},
				},
				"required": []string{"id"},
			},
		},

		// Color
		{
			Name:        "color_parse",
			Description: "Parse a color specification and return its channels, HSL and canonical forms.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"color": map[string]interface{}{
						"type":        "string",
						"description": "A name, #rrggbb, #rrggbbaa or rgb()/rgba() form",
					},
				},
				"required": []string{"color"},
			},
		},

		// OCR
		{
			Name:        "ocr_text",
			Description: "Extract text from an open image with Tesseract. Word boxes are in image coordinates.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
					"language": map[string]interface{}{
						"type":        "string",
						"description": "Tesseract language for this call, e.g. eng or eng+deu",
					},
					"page_seg_mode": map[string]interface{}{
						"type":        "integer",
						"description": "Tesseract page segmentation mode for this call (0-13)",
					},
					"region": regionProperty,
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "ocr_regions",
			Description: "Find text blocks in an open image with Tesseract.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
					"min_confidence": map[string]interface{}{
						"type":        "number",
						"description": "Minimum confidence 0-1. Default 0.5",
						"default":     0.5,
					},
					"language": map[string]interface{}{
						"type":        "string",
						"description": "Tesseract language for this call",
					},
					"region": regionProperty,
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "ocr_info",
			Description: "Report whether Tesseract is available and its version.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},

		// Runtime
		{
			Name:        "runtime_stats",
			Description: "Report tracked resources, native handles and worker counters of the runtime.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}
