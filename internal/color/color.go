// Package color provides Color, a pixel wand resource owned by a wand
// Runtime.
//
// Channel values are floats in 0..1. Getters round them to four decimal
// places, except that exact 0 and 1 are returned unchanged.
package color

import (
	"context"
	"fmt"
	"math"

	"github.com/ironsheep/wandbridge/internal/bridge"
	"github.com/ironsheep/wandbridge/internal/magick"
	"github.com/ironsheep/wandbridge/internal/resource"
	"github.com/ironsheep/wandbridge/internal/wand"
)

// Kind names colors in the resource registry.
const Kind = "color"

// Color owns one pixel wand.
type Color struct {
	*resource.Base[magick.PixelWand]
	lib  *magick.Library
	exec bridge.Executor
}

type pixelOps struct {
	lib  *magick.Library
	exec bridge.Executor
}

func (o pixelOps) Alloc() (magick.PixelWand, error) {
	return bridge.Call(context.Background(), o.exec, func(context.Context) (magick.PixelWand, error) {
		return o.lib.NewPixelWand(), nil
	})
}

func (o pixelOps) Free(p magick.PixelWand) error {
	ok, err := bridge.Call(context.Background(), o.exec, func(context.Context) (bool, error) {
		return o.lib.DestroyPixelWand(p), nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("destroy pixel wand %d: %w", p, magick.ErrUnknownHandle)
	}
	return nil
}

func (o pixelOps) Clone(p magick.PixelWand) (magick.PixelWand, error) {
	return bridge.Call(context.Background(), o.exec, func(context.Context) (magick.PixelWand, error) {
		return o.lib.ClonePixelWand(p), nil
	})
}

// New allocates an opaque black color.
func New(rt *wand.Runtime) (*Color, error) {
	ops := pixelOps{lib: rt.Library(), exec: rt.Executor()}
	base, err := wand.NewResource[magick.PixelWand](rt, Kind, ops)
	if err != nil {
		return nil, err
	}
	return &Color{Base: base, lib: ops.lib, exec: ops.exec}, nil
}

// build allocates a color and applies init to it, closing it again if init
// fails.
func build(rt *wand.Runtime, init func(c *Color) error) (*Color, error) {
	c, err := New(rt)
	if err != nil {
		return nil, err
	}
	if err := init(c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Parse creates a color from a specification such as "red", "#ff000080" or
// "rgba(255,0,0,0.5)".
func Parse(ctx context.Context, rt *wand.Runtime, spec string) (*Color, error) {
	return build(rt, func(c *Color) error {
		return c.run(ctx, "set color", func(p magick.PixelWand) bool {
			return c.lib.PixelSetColor(p, spec)
		})
	})
}

// FromRGB creates an opaque color from channels in 0..1.
func FromRGB(ctx context.Context, rt *wand.Runtime, r, g, b float64) (*Color, error) {
	return FromRGBA(ctx, rt, r, g, b, 1)
}

// FromRGBA creates a color from channels in 0..1.
func FromRGBA(ctx context.Context, rt *wand.Runtime, r, g, b, a float64) (*Color, error) {
	return build(rt, func(c *Color) error {
		return c.run(ctx, "set rgba", func(p magick.PixelWand) bool {
			return c.lib.PixelSetRed(p, r) &&
				c.lib.PixelSetGreen(p, g) &&
				c.lib.PixelSetBlue(p, b) &&
				c.lib.PixelSetAlpha(p, a)
		})
	})
}

// FromHSL creates an opaque color from hue, saturation and lightness in 0..1.
func FromHSL(ctx context.Context, rt *wand.Runtime, h, s, l float64) (*Color, error) {
	return build(rt, func(c *Color) error {
		return c.SetHSL(ctx, h, s, l)
	})
}

// run executes fn on the worker against the owned pixel wand.
func (c *Color) run(ctx context.Context, op string, fn func(p magick.PixelWand) bool) error {
	return c.Use(func(p magick.PixelWand) error {
		return bridge.Exec(ctx, c.exec, func(context.Context) error {
			return c.lib.CheckPixel(p, op, fn(p))
		})
	})
}

func (c *Color) get(ctx context.Context, fn func(p magick.PixelWand) float64) (float64, error) {
	var v float64
	err := c.run(ctx, "get", func(p magick.PixelWand) bool {
		v = fn(p)
		return true
	})
	return saturate(v), err
}

func saturate(v float64) float64 {
	switch v {
	case 0, 1:
		return v
	default:
		return math.Round(v*1e4) / 1e4
	}
}

func (c *Color) Red(ctx context.Context) (float64, error)   { return c.get(ctx, c.lib.PixelGetRed) }
func (c *Color) Green(ctx context.Context) (float64, error) { return c.get(ctx, c.lib.PixelGetGreen) }
func (c *Color) Blue(ctx context.Context) (float64, error)  { return c.get(ctx, c.lib.PixelGetBlue) }
func (c *Color) Alpha(ctx context.Context) (float64, error) { return c.get(ctx, c.lib.PixelGetAlpha) }

func (c *Color) SetRed(ctx context.Context, v float64) error {
	return c.run(ctx, "set red", func(p magick.PixelWand) bool { return c.lib.PixelSetRed(p, v) })
}

func (c *Color) SetGreen(ctx context.Context, v float64) error {
	return c.run(ctx, "set green", func(p magick.PixelWand) bool { return c.lib.PixelSetGreen(p, v) })
}

func (c *Color) SetBlue(ctx context.Context, v float64) error {
	return c.run(ctx, "set blue", func(p magick.PixelWand) bool { return c.lib.PixelSetBlue(p, v) })
}

func (c *Color) SetAlpha(ctx context.Context, v float64) error {
	return c.run(ctx, "set alpha", func(p magick.PixelWand) bool { return c.lib.PixelSetAlpha(p, v) })
}

// Set replaces the color with a parsed specification.
func (c *Color) Set(ctx context.Context, spec string) error {
	return c.run(ctx, "set color", func(p magick.PixelWand) bool { return c.lib.PixelSetColor(p, spec) })
}

// RGBA returns all four channels.
func (c *Color) RGBA(ctx context.Context) (r, g, b, a float64, err error) {
	err = c.run(ctx, "get rgba", func(p magick.PixelWand) bool {
		r, g, b, a = c.lib.PixelGetRed(p), c.lib.PixelGetGreen(p), c.lib.PixelGetBlue(p), c.lib.PixelGetAlpha(p)
		return true
	})
	return saturate(r), saturate(g), saturate(b), saturate(a), err
}

// HSL returns hue, saturation and lightness in 0..1.
func (c *Color) HSL(ctx context.Context) (h, s, l float64, err error) {
	err = c.run(ctx, "get hsl", func(p magick.PixelWand) bool {
		h, s, l = c.lib.PixelGetHSL(p)
		return true
	})
	return saturate(h), saturate(s), saturate(l), err
}

func (c *Color) SetHSL(ctx context.Context, h, s, l float64) error {
	return c.run(ctx, "set hsl", func(p magick.PixelWand) bool { return c.lib.PixelSetHSL(p, h, s, l) })
}

// Text renders the color as rgb(...) or rgba(...).
func (c *Color) Text(ctx context.Context) (string, error) {
	var s string
	err := c.run(ctx, "get string", func(p magick.PixelWand) bool {
		s = c.lib.PixelGetColorAsString(p)
		return true
	})
	return s, err
}

// Hex renders the color as #rrggbb, ignoring alpha.
func (c *Color) Hex(ctx context.Context) (string, error) {
	var s string
	err := c.run(ctx, "get hex", func(p magick.PixelWand) bool {
		s = c.lib.PixelGetColorAsHex(p)
		return true
	})
	return s, err
}

func (c *Color) String() string {
	s, err := c.Text(context.Background())
	if err != nil {
		return "<closed color>"
	}
	return s
}

// Equal compares the rounded channels of c and other.
func (c *Color) Equal(ctx context.Context, other *Color) (bool, error) {
	r1, g1, b1, a1, err := c.RGBA(ctx)
	if err != nil {
		return false, err
	}
	r2, g2, b2, a2, err := other.RGBA(ctx)
	if err != nil {
		return false, err
	}
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2, nil
}

// Copy returns an independent color with the same channels.
func (c *Color) Copy() (*Color, error) {
	base, err := c.Base.Copy()
	if err != nil {
		return nil, err
	}
	return &Color{Base: base, lib: c.lib, exec: c.exec}, nil
}

// State implements resource.Stateful over red, green, blue and alpha.
func (c *Color) State(ctx context.Context, name string) (any, error) {
	switch name {
	case "red":
		return c.Red(ctx)
	case "green":
		return c.Green(ctx)
	case "blue":
		return c.Blue(ctx)
	case "alpha":
		return c.Alpha(ctx)
	}
	return nil, fmt.Errorf("color: %w %q", resource.ErrUnknownProperty, name)
}

func (c *Color) SetState(ctx context.Context, name string, value any) error {
	v, ok := value.(float64)
	if !ok {
		return fmt.Errorf("color: property %q wants float64, got %T", name, value)
	}
	switch name {
	case "red":
		return c.SetRed(ctx, v)
	case "green":
		return c.SetGreen(ctx, v)
	case "blue":
		return c.SetBlue(ctx, v)
	case "alpha":
		return c.SetAlpha(ctx, v)
	}
	return fmt.Errorf("color: %w %q", resource.ErrUnknownProperty, name)
}

var _ resource.Stateful = (*Color)(nil)
