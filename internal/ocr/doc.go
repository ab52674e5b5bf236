// Package ocr provides Optical Character Recognition (OCR) over wand images
// using Tesseract.
//
// An Engine owns one gosseract client. Tesseract clients are not safe for
// concurrent use, so every call on the client runs on the runtime's
// tesseract worker, separate from the magick worker that encodes the image.
// Engines are tracked by the runtime's registry like images and colors, and
// an engine that is never closed is released when the runtime closes.
//
// # Prerequisites
//
// Tesseract and its language data must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// Config.TessdataPrefix points at a non-standard tessdata directory.
//
// # Properties
//
// Engine implements resource.Stateful over "language" (Tesseract codes
// joined with "+", e.g. "eng+deu") and "page_seg_mode". Options passed to
// ExtractText and DetectTextRegions are applied for that call only and
// restored afterwards.
//
// # Coordinates
//
// When Options.Region is set only that part of the image is recognized,
// and the returned bounds are translated back to the coordinates of the
// full image.
package ocr
