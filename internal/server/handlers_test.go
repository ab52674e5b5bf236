package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImageFile writes a solid width x height PNG and returns its path.
func createTestImageFile(t *testing.T, width, height int, c color.Color) string {
	t.Helper()

	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	path := filepath.Join(t.TempDir(), "test.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

// callTool runs a tools/call request and decodes the JSON text content.
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	resp := toolResponse(t, s, name, args)
	require.Nil(t, resp.Error, "tool %s failed: %+v", name, resp.Error)

	content := resp.Result.(map[string]interface{})["content"].([]map[string]interface{})
	require.Len(t, content, 1)
	assert.Equal(t, "text", content[0]["type"])

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(content[0]["text"].(string)), &out))
	return out
}

// callToolErr runs a tools/call request that must fail and returns the error
// detail.
func callToolErr(t *testing.T, s *Server, name string, args map[string]interface{}) string {
	t.Helper()
	resp := toolResponse(t, s, name, args)
	require.NotNil(t, resp.Error, "tool %s should fail", name)
	assert.Equal(t, -32000, resp.Error.Code)
	return resp.Error.Data.(string)
}

func toolResponse(t *testing.T, s *Server, name string, args map[string]interface{}) *MCPResponse {
	t.Helper()
	params, err := json.Marshal(map[string]interface{}{"name": name, "arguments": args})
	require.NoError(t, err)
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  params,
	})
	require.NotNil(t, resp)
	return resp
}

func openFile(t *testing.T, s *Server, width, height int, c color.Color) string {
	t.Helper()
	path := createTestImageFile(t, width, height, c)
	out := callTool(t, s, "image_open", map[string]interface{}{"path": path})
	return out["id"].(string)
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  json.RawMessage(`[1,2]`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

func TestHandleImageOpen(t *testing.T) {
	s := newTestServer(t)
	path := createTestImageFile(t, 100, 80, color.RGBA{255, 0, 0, 255})

	out := callTool(t, s, "image_open", map[string]interface{}{"path": path})
	assert.NotEmpty(t, out["id"])
	assert.Equal(t, float64(100), out["width"])
	assert.Equal(t, float64(80), out["height"])
	assert.Equal(t, "PNG", out["format"])
	assert.Equal(t, 1, s.Session().Len())

	detail := callToolErr(t, s, "image_open", map[string]interface{}{"path": "/nonexistent/image.png"})
	assert.NotEmpty(t, detail)
	callToolErr(t, s, "image_open", map[string]interface{}{})
	assert.Equal(t, 1, s.Session().Len())
}

func TestHandleImageBlank(t *testing.T) {
	s := newTestServer(t)
	out := callTool(t, s, "image_blank", map[string]interface{}{"width": 10, "height": 5, "background": "blue"})
	id := out["id"].(string)
	assert.Equal(t, float64(10), out["width"])

	px := callTool(t, s, "image_pixel", map[string]interface{}{"id": id, "x": 3, "y": 2})
	c := px["color"].(map[string]interface{})
	assert.Equal(t, "#0000ff", c["hex"])
	assert.Equal(t, float64(1), c["alpha"])

	clear := callTool(t, s, "image_blank", map[string]interface{}{"width": 2, "height": 2})
	px = callTool(t, s, "image_pixel", map[string]interface{}{"id": clear["id"], "x": 0, "y": 0})
	assert.Equal(t, float64(0), px["color"].(map[string]interface{})["alpha"])

	callToolErr(t, s, "image_blank", map[string]interface{}{"width": 2, "height": 2, "background": "no-such-color"})
	detail := callToolErr(t, s, "image_blank", map[string]interface{}{"width": 200000, "height": 200000})
	assert.Contains(t, detail, "exceeds area limit")
	callToolErr(t, s, "image_pixel", map[string]interface{}{"id": id, "x": 30, "y": 2})
}

func TestHandleImageInfoCopyClose(t *testing.T) {
	s := newTestServer(t)
	id := openFile(t, s, 20, 10, color.White)

	info := callTool(t, s, "image_info", map[string]interface{}{"id": id})
	assert.Equal(t, id, info["id"])
	assert.Equal(t, float64(8), info["depth"])

	dup := callTool(t, s, "image_copy", map[string]interface{}{"id": id})
	dupID := dup["id"].(string)
	assert.NotEqual(t, id, dupID)
	assert.Equal(t, float64(20), dup["width"])

	list := callTool(t, s, "image_list", nil)
	assert.ElementsMatch(t, []interface{}{id, dupID}, list["ids"])

	closed := callTool(t, s, "image_close", map[string]interface{}{"id": id})
	assert.Equal(t, true, closed["closed"])
	detail := callToolErr(t, s, "image_info", map[string]interface{}{"id": id})
	assert.Contains(t, detail, "unknown image id")
	callToolErr(t, s, "image_close", map[string]interface{}{"id": id})

	info = callTool(t, s, "image_info", map[string]interface{}{"id": dupID})
	assert.Equal(t, float64(20), info["width"], "copy survives the original")
}

func TestHandleImageTransform(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		args          map[string]interface{}
		width, height float64
	}{
		{map[string]interface{}{"operation": "resize", "width": 30, "height": 15, "filter": "box"}, 30, 15},
		{map[string]interface{}{"operation": "rescale", "value": 0.5}, 10, 5},
		{map[string]interface{}{"operation": "fit", "width": 10, "height": 10}, 10, 5},
		{map[string]interface{}{"operation": "crop", "x": 5, "y": 0, "width": 10, "height": 4}, 10, 4},
		{map[string]interface{}{"operation": "transpose"}, 10, 20},
		{map[string]interface{}{"operation": "rotate"}, 10, 20},
		{map[string]interface{}{"operation": "blur", "value": 2}, 20, 10},
		{map[string]interface{}{"operation": "modulate", "value": 120, "saturation": 50}, 20, 10},
		{map[string]interface{}{"operation": "threshold"}, 20, 10},
		{map[string]interface{}{"operation": "alpha", "value": 0.5}, 20, 10},
		{map[string]interface{}{"operation": "SEPIA"}, 20, 10},
	}
	for _, tt := range tests {
		t.Run(tt.args["operation"].(string), func(t *testing.T) {
			id := openFile(t, s, 20, 10, color.RGBA{0, 128, 255, 255})
			tt.args["id"] = id
			out := callTool(t, s, "image_transform", tt.args)
			assert.Equal(t, tt.width, out["width"])
			assert.Equal(t, tt.height, out["height"])
		})
	}
}

func TestHandleImageTransformErrors(t *testing.T) {
	s := newTestServer(t)
	id := openFile(t, s, 20, 10, color.White)

	for _, args := range []map[string]interface{}{
		{"id": id, "operation": "explode"},
		{"id": id, "operation": "resize", "width": 10, "height": 10, "filter": "wobbly"},
		{"id": id, "operation": "rescale"},
		{"id": id, "operation": "alpha"},
		{"id": id, "operation": "resize", "width": 0, "height": 10},
		{"id": id, "operation": "resize", "width": 200000, "height": 200000},
		{"id": "missing", "operation": "flip"},
	} {
		callToolErr(t, s, "image_transform", args)
	}

	info := callTool(t, s, "image_info", map[string]interface{}{"id": id})
	assert.Equal(t, float64(20), info["width"], "failed operations leave the image as it was")
}

func TestHandleImageOverlayAndCompare(t *testing.T) {
	s := newTestServer(t)
	base := openFile(t, s, 8, 8, color.White)
	twin := openFile(t, s, 8, 8, color.White)
	dot := callTool(t, s, "image_blank", map[string]interface{}{"width": 2, "height": 2, "background": "red"})["id"]

	cmp := callTool(t, s, "image_compare", map[string]interface{}{"id": base, "other": twin})
	assert.Equal(t, true, cmp["same"])
	assert.Equal(t, float64(0), cmp["difference"])

	callTool(t, s, "image_overlay", map[string]interface{}{"id": base, "source": dot, "x": 3, "y": 3})
	px := callTool(t, s, "image_pixel", map[string]interface{}{"id": base, "x": 4, "y": 4})
	assert.Equal(t, "#ff0000", px["color"].(map[string]interface{})["hex"])

	cmp = callTool(t, s, "image_compare", map[string]interface{}{"id": base, "other": twin})
	assert.Equal(t, false, cmp["same"])
	assert.Greater(t, cmp["difference"], float64(0))

	callToolErr(t, s, "image_compare", map[string]interface{}{"id": base, "other": dot})
	callToolErr(t, s, "image_overlay", map[string]interface{}{"id": base, "source": "missing"})
}

func TestHandleImageWriteAndEncode(t *testing.T) {
	s := newTestServer(t)
	id := openFile(t, s, 12, 6, color.RGBA{10, 200, 30, 255})

	out := filepath.Join(t.TempDir(), "out.png")
	callTool(t, s, "image_write", map[string]interface{}{"id": id, "path": out, "format": "jpeg", "quality": 80})
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2], "format overrides the extension")

	enc := callTool(t, s, "image_encode", map[string]interface{}{"id": id})
	assert.Equal(t, "PNG", enc["format"])
	blob, err := base64.StdEncoding.DecodeString(enc["image_base64"].(string))
	require.NoError(t, err)
	assert.Equal(t, float64(len(blob)), enc["bytes"])
	decoded, err := png.Decode(bytes.NewReader(blob))
	require.NoError(t, err)
	assert.Equal(t, 12, decoded.Bounds().Dx())

	info := callTool(t, s, "image_info", map[string]interface{}{"id": id})
	assert.Equal(t, "PNG", info["format"], "output options apply to one call only")

	callToolErr(t, s, "image_write", map[string]interface{}{"id": id})
	callToolErr(t, s, "image_encode", map[string]interface{}{"id": id, "format": "xcf"})
}

func TestHandleColorParse(t *testing.T) {
	s := newTestServer(t)
	rt := s.rt

	out := callTool(t, s, "color_parse", map[string]interface{}{"color": "#00ff0080"})
	assert.Equal(t, "#00ff00", out["hex"])
	assert.Equal(t, float64(1), out["green"])
	assert.InDelta(t, 0.502, out["alpha"], 0.001)
	assert.InDelta(t, 0.3333, out["hue"], 0.0001)

	callToolErr(t, s, "color_parse", map[string]interface{}{"color": "chartreuse-ish"})
	assert.Equal(t, 0, rt.Registry().Len(), "parsed colors are released")
}

func TestHandleRuntimeStats(t *testing.T) {
	s := newTestServer(t)
	openFile(t, s, 4, 4, color.White)

	out := callTool(t, s, "runtime_stats", nil)
	assert.Equal(t, float64(1), out["open_images"])
	assert.Equal(t, float64(1), out["tracked"])
	assert.Equal(t, float64(0), out["violations"])
	workers := out["workers"].([]interface{})
	require.NotEmpty(t, workers)
	assert.Equal(t, "magick", workers[0].(map[string]interface{})["name"])
}

func TestSessionLimit(t *testing.T) {
	s := newTestServer(t, WithMaxImages(2))
	callTool(t, s, "image_blank", map[string]interface{}{"width": 1, "height": 1})
	callTool(t, s, "image_blank", map[string]interface{}{"width": 1, "height": 1})

	detail := callToolErr(t, s, "image_blank", map[string]interface{}{"width": 1, "height": 1})
	assert.Contains(t, detail, "too many open images")
	assert.Equal(t, 2, s.rt.Registry().Len(), "the rejected image was released")
}

func TestHandleOCRInfo(t *testing.T) {
	s := newTestServer(t)
	out := callTool(t, s, "ocr_info", nil)
	assert.Equal(t, "gosseract", out["backend"])
}

func TestHandleOCRUnknownImage(t *testing.T) {
	s := newTestServer(t)
	detail := callToolErr(t, s, "ocr_text", map[string]interface{}{"id": "missing"})
	assert.Contains(t, detail, "unknown image id")
}
