// Package server implements the MCP (Model Context Protocol) server for the
// wand runtime.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Tools
//
// Image lifecycle:
//   - image_open, image_blank: Create an image and return its id
//   - image_info, image_list: Describe open images
//   - image_copy: Duplicate an image under a new id
//   - image_close: Release an image
//
// Processing:
//   - image_transform: Apply one operation (resize, crop, rotate, blur, ...)
//   - image_overlay, image_compare, image_pixel
//
// Output:
//   - image_write: Write to a file
//   - image_encode: Return base64-encoded bytes
//
// Color and OCR:
//   - color_parse: Channels, HSL and canonical forms of a color
//   - ocr_text, ocr_regions, ocr_info: Tesseract text extraction
//
// Runtime:
//   - runtime_stats: Tracked resources, native handles and worker counters
//
// # Sessions
//
// Images are native resources. An image stays open in the server's Session
// until the client closes it or the server shuts down, and each one counts
// against the configured limit. Server.Close releases every image and the
// OCR engine but leaves the runtime to its owner, which must close it
// afterwards.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
package server
