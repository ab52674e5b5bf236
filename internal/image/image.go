// Package image provides Image, a wand resource owned by a wand Runtime.
//
// Every operation runs on the runtime's magick worker. Errors reported by the
// library surface as *magick.Error; operations on a closed image fail with
// resource.ErrClosed.
package image

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ironsheep/wandbridge/internal/bridge"
	"github.com/ironsheep/wandbridge/internal/color"
	"github.com/ironsheep/wandbridge/internal/magick"
	"github.com/ironsheep/wandbridge/internal/resource"
	"github.com/ironsheep/wandbridge/internal/wand"
)

// Kind names images in the resource registry.
const Kind = "image"

// Image owns one magick wand.
type Image struct {
	*resource.Base[magick.Wand]
	rt   *wand.Runtime
	lib  *magick.Library
	exec bridge.Executor
}

type wandOps struct {
	lib  *magick.Library
	exec bridge.Executor
}

func (o wandOps) Alloc() (magick.Wand, error) {
	return bridge.Call(context.Background(), o.exec, func(context.Context) (magick.Wand, error) {
		return o.lib.NewWand(), nil
	})
}

func (o wandOps) Free(w magick.Wand) error {
	ok, err := bridge.Call(context.Background(), o.exec, func(context.Context) (bool, error) {
		return o.lib.DestroyWand(w), nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("destroy wand %d: %w", w, magick.ErrUnknownHandle)
	}
	return nil
}

func (o wandOps) Clone(w magick.Wand) (magick.Wand, error) {
	return bridge.Call(context.Background(), o.exec, func(context.Context) (magick.Wand, error) {
		return o.lib.CloneWand(w), nil
	})
}

// New allocates an image with no pixels. Most callers want Read, ReadBlob
// or Blank.
func New(rt *wand.Runtime) (*Image, error) {
	ops := wandOps{lib: rt.Library(), exec: rt.Executor()}
	base, err := wand.NewResource[magick.Wand](rt, Kind, ops)
	if err != nil {
		return nil, err
	}
	return &Image{Base: base, rt: rt, lib: ops.lib, exec: ops.exec}, nil
}

func build(rt *wand.Runtime, init func(img *Image) error) (*Image, error) {
	img, err := New(rt)
	if err != nil {
		return nil, err
	}
	if err := init(img); err != nil {
		_ = img.Close()
		return nil, err
	}
	return img, nil
}

// Read decodes the image file at path.
func Read(ctx context.Context, rt *wand.Runtime, path string) (*Image, error) {
	return build(rt, func(img *Image) error {
		return img.run(ctx, "read", func(lib *magick.Library, w magick.Wand) bool {
			return lib.ReadImage(w, path)
		})
	})
}

// ReadBlob decodes an in-memory image.
func ReadBlob(ctx context.Context, rt *wand.Runtime, blob []byte) (*Image, error) {
	return build(rt, func(img *Image) error {
		return img.run(ctx, "read blob", func(lib *magick.Library, w magick.Wand) bool {
			return lib.ReadImageBlob(w, blob)
		})
	})
}

// Blank creates a width x height image filled with background, or fully
// transparent when background is nil.
func Blank(ctx context.Context, rt *wand.Runtime, width, height int, background *color.Color) (*Image, error) {
	return build(rt, func(img *Image) error {
		return img.withColor(ctx, background, func(p magick.PixelWand) error {
			return img.run(ctx, "blank", func(lib *magick.Library, w magick.Wand) bool {
				return lib.NewImage(w, width, height, p)
			})
		})
	})
}

// withColor runs fn with the pixel wand of c, or of a temporary transparent
// color when c is nil.
func (img *Image) withColor(ctx context.Context, c *color.Color, fn func(p magick.PixelWand) error) error {
	if c == nil {
		tmp, err := color.Parse(ctx, img.rt, "transparent")
		if err != nil {
			return err
		}
		defer tmp.Close()
		c = tmp
	}
	return c.Use(fn)
}

// run executes fn on the worker against the owned wand and turns a false
// result into the wand's exception.
func (img *Image) run(ctx context.Context, op string, fn func(lib *magick.Library, w magick.Wand) bool) error {
	err := img.Use(func(w magick.Wand) error {
		return bridge.Exec(ctx, img.exec, func(context.Context) error {
			return img.lib.Check(w, op, fn(img.lib, w))
		})
	})
	if errors.Is(err, magick.ErrUnknownHandle) {
		// Closed by another goroutine after the handle was read.
		return fmt.Errorf("%w: %w", resource.ErrClosed, err)
	}
	return err
}

// Size returns the width and height in pixels.
func (img *Image) Size(ctx context.Context) (width, height int, err error) {
	err = img.run(ctx, "size", func(lib *magick.Library, w magick.Wand) bool {
		width, height = lib.GetImageWidth(w), lib.GetImageHeight(w)
		return width > 0
	})
	return width, height, err
}

// Copy returns an independent image with the same pixels and properties.
func (img *Image) Copy() (*Image, error) {
	base, err := img.Base.Copy()
	if err != nil {
		return nil, err
	}
	return &Image{Base: base, rt: img.rt, lib: img.lib, exec: img.exec}, nil
}

// ReplaceWith takes over the wand of other, which is closed afterwards.
func (img *Image) ReplaceWith(other *Image) error {
	if other == nil {
		return img.Base.ReplaceWith(nil)
	}
	return img.Base.ReplaceWith(other.Base)
}

// Pixel returns the color at (x, y) as a new Color the caller must close.
func (img *Image) Pixel(ctx context.Context, x, y int) (*color.Color, error) {
	c, err := color.New(img.rt)
	if err != nil {
		return nil, err
	}
	err = c.Use(func(p magick.PixelWand) error {
		return img.run(ctx, "get pixel", func(lib *magick.Library, w magick.Wand) bool {
			return lib.GetImagePixelColor(w, x, y, p)
		})
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Blob encodes the image. Properties such as Format and Quality apply to
// this encoding only.
func (img *Image) Blob(ctx context.Context, props ...resource.Property) ([]byte, error) {
	var blob []byte
	err := resource.WithState(ctx, img, props, func() error {
		return img.run(ctx, "blob", func(lib *magick.Library, w magick.Wand) bool {
			blob = lib.GetImageBlob(w)
			return blob != nil
		})
	})
	return blob, err
}

// Write encodes the image to path. The file extension chooses the format
// unless a Format property is given; Quality and Depth apply to this write
// only.
func (img *Image) Write(ctx context.Context, path string, props ...resource.Property) error {
	if hasProperty(props, PropFormat) {
		blob, err := img.Blob(ctx, props...)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, blob, 0o644); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		return nil
	}
	return resource.WithState(ctx, img, props, func() error {
		return img.run(ctx, "write", func(lib *magick.Library, w magick.Wand) bool {
			return lib.WriteImage(w, path)
		})
	})
}

// Compare returns the mean channel difference to other in 0..1. Images of
// different sizes fail to compare.
func (img *Image) Compare(ctx context.Context, other *Image) (float64, error) {
	var distortion float64
	err := other.Use(func(ow magick.Wand) error {
		return img.run(ctx, "compare", func(lib *magick.Library, w magick.Wand) bool {
			var ok bool
			distortion, ok = lib.CompareImages(w, ow)
			return ok
		})
	})
	return distortion, err
}

// Same reports whether other has the same size and pixels.
func (img *Image) Same(ctx context.Context, other *Image) (bool, error) {
	d, err := img.Compare(ctx, other)
	if err != nil {
		var merr *magick.Error
		if errors.As(err, &merr) && merr.Err == nil {
			return false, nil
		}
		return false, err
	}
	return d == 0, nil
}
