package image

import (
	"context"
	"fmt"

	"github.com/ironsheep/wandbridge/internal/magick"
	"github.com/ironsheep/wandbridge/internal/resource"
)

// Property names understood by State and SetState.
const (
	PropFormat  = "format"
	PropQuality = "quality"
	PropDepth   = "depth"
)

// Format overrides the encoding format, e.g. "png" or "jpeg".
func Format(name string) resource.Property { return resource.Set(PropFormat, name) }

// Quality overrides the compression quality, 1..100.
func Quality(q int) resource.Property { return resource.Set(PropQuality, q) }

// Depth overrides the bits per channel, 8 or 16.
func Depth(bits int) resource.Property { return resource.Set(PropDepth, bits) }

func hasProperty(props []resource.Property, name string) bool {
	for _, p := range props {
		if p.Name == name && p.Value != nil {
			if s, ok := p.Value.(string); ok && s == "" {
				continue
			}
			return true
		}
	}
	return false
}

// ImageFormat returns the canonical format name, e.g. "PNG".
func (img *Image) ImageFormat(ctx context.Context) (string, error) {
	var format string
	err := img.run(ctx, "get format", func(lib *magick.Library, w magick.Wand) bool {
		format = lib.GetImageFormat(w)
		return true
	})
	return format, err
}

func (img *Image) SetFormat(ctx context.Context, format string) error {
	return img.run(ctx, "set format", func(lib *magick.Library, w magick.Wand) bool {
		return lib.SetImageFormat(w, format)
	})
}

func (img *Image) Quality(ctx context.Context) (int, error) {
	var q int
	err := img.run(ctx, "get quality", func(lib *magick.Library, w magick.Wand) bool {
		q = lib.GetImageCompressionQuality(w)
		return true
	})
	return q, err
}

func (img *Image) SetQuality(ctx context.Context, quality int) error {
	return img.run(ctx, "set quality", func(lib *magick.Library, w magick.Wand) bool {
		return lib.SetImageCompressionQuality(w, quality)
	})
}

func (img *Image) Depth(ctx context.Context) (int, error) {
	var d int
	err := img.run(ctx, "get depth", func(lib *magick.Library, w magick.Wand) bool {
		d = lib.GetImageDepth(w)
		return true
	})
	return d, err
}

func (img *Image) SetDepth(ctx context.Context, depth int) error {
	return img.run(ctx, "set depth", func(lib *magick.Library, w magick.Wand) bool {
		return lib.SetImageDepth(w, depth)
	})
}

// State implements resource.Stateful.
func (img *Image) State(ctx context.Context, name string) (any, error) {
	switch name {
	case PropFormat:
		return img.ImageFormat(ctx)
	case PropQuality:
		return img.Quality(ctx)
	case PropDepth:
		return img.Depth(ctx)
	}
	return nil, fmt.Errorf("image: %w %q", resource.ErrUnknownProperty, name)
}

// SetState implements resource.Stateful. An empty format clears it again.
func (img *Image) SetState(ctx context.Context, name string, value any) error {
	switch name {
	case PropFormat:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("image: property %q wants string, got %T", name, value)
		}
		return img.SetFormat(ctx, s)
	case PropQuality, PropDepth:
		n, ok := value.(int)
		if !ok {
			return fmt.Errorf("image: property %q wants int, got %T", name, value)
		}
		if name == PropQuality {
			return img.SetQuality(ctx, n)
		}
		return img.SetDepth(ctx, n)
	}
	return fmt.Errorf("image: %w %q", resource.ErrUnknownProperty, name)
}

var _ resource.Stateful = (*Image)(nil)
