// Package magick is a handle-based imaging library with a MagickWand-shaped
// API, implemented on top of disintegration/imaging, anthonynsimon/bild and
// lucasb-eyer/go-colorful.
//
// It deliberately behaves like the C library it is modeled on, and callers
// must treat it the same way:
//
//   - Objects live in a handle table and are addressed by Wand and PixelWand
//     handles. The zero handle is null. Every handle must be destroyed
//     exactly once.
//   - Operations report success with a bool. On failure the reason is left
//     in the wand's exception slot; Check turns it into an *Error.
//   - The library must be set up with Genesis and torn down with Terminus.
//     Terminus destroys whatever is still in the table.
//   - It is NOT safe for concurrent use. Overlapping calls are counted in
//     Violations; route every call through a single bridge worker.
//
// # Formats
//
// PNG, JPEG, GIF, TIFF and BMP are read and written. WebP is read only.
package magick
