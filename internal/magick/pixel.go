package magick

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// namedColors is the subset of the SVG color keywords the parser accepts.
var namedColors = map[string]string{
	"black":   "#000000",
	"white":   "#ffffff",
	"red":     "#ff0000",
	"lime":    "#00ff00",
	"green":   "#008000",
	"blue":    "#0000ff",
	"yellow":  "#ffff00",
	"cyan":    "#00ffff",
	"aqua":    "#00ffff",
	"magenta": "#ff00ff",
	"fuchsia": "#ff00ff",
	"gray":    "#808080",
	"grey":    "#808080",
	"silver":  "#c0c0c0",
	"maroon":  "#800000",
	"olive":   "#808000",
	"navy":    "#000080",
	"purple":  "#800080",
	"teal":    "#008080",
	"orange":  "#ffa500",
	"brown":   "#a52a2a",
	"pink":    "#ffc0cb",
	"gold":    "#ffd700",
	"indigo":  "#4b0082",
	"violet":  "#ee82ee",
}

func (p *pixel) set(c color.NRGBA) {
	p.c = colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
	p.alpha = float64(c.A) / 255
}

func (p *pixel) nrgba() color.NRGBA {
	c := p.c.Clamped()
	return color.NRGBA{
		R: to8(c.R),
		G: to8(c.G),
		B: to8(c.B),
		A: to8(p.alpha),
	}
}

func to8(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

// parseColor understands #rgb, #rrggbb, #rrggbbaa, rgb(), rgba() and the
// keywords in namedColors, plus "transparent" and "none".
func parseColor(s string) (colorful.Color, float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return colorful.Color{}, 0, fmt.Errorf("empty color specification")
	case "transparent", "none":
		return colorful.Color{}, 0, nil
	}
	if hex, ok := namedColors[s]; ok {
		s = hex
	}

	if strings.HasPrefix(s, "#") {
		alpha := 1.0
		if len(s) == 9 {
			a, err := strconv.ParseUint(s[7:], 16, 8)
			if err != nil {
				return colorful.Color{}, 0, fmt.Errorf("unrecognized color %q", s)
			}
			alpha = float64(a) / 255
			s = s[:7]
		}
		c, err := colorful.Hex(s)
		if err != nil {
			return colorful.Color{}, 0, fmt.Errorf("unrecognized color %q", s)
		}
		return c, alpha, nil
	}

	for _, prefix := range []string{"srgba(", "srgb(", "rgba(", "rgb("} {
		if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, ")") {
			continue
		}
		parts := strings.Split(s[len(prefix):len(s)-1], ",")
		withAlpha := strings.Contains(prefix, "a(")
		if (withAlpha && len(parts) != 4) || (!withAlpha && len(parts) != 3) {
			return colorful.Color{}, 0, fmt.Errorf("unrecognized color %q", s)
		}
		var ch [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
			if err != nil || v < 0 || v > 255 {
				return colorful.Color{}, 0, fmt.Errorf("unrecognized color %q", s)
			}
			ch[i] = v / 255
		}
		alpha := 1.0
		if withAlpha {
			a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
			if err != nil || a < 0 || a > 1 {
				return colorful.Color{}, 0, fmt.Errorf("unrecognized color %q", s)
			}
			alpha = a
		}
		return colorful.Color{R: ch[0], G: ch[1], B: ch[2]}, alpha, nil
	}
	return colorful.Color{}, 0, fmt.Errorf("unrecognized color %q", s)
}

func (l *Library) doPixel(p PixelWand, fn func(ps *pixel) error) bool {
	defer l.enter()()

	ps := l.pixel(p)
	if ps == nil {
		return false
	}
	if err := fn(ps); err != nil {
		ps.exception = err.Error()
		return false
	}
	return true
}

// NewPixelWand creates an opaque black color.
func (l *Library) NewPixelWand() PixelWand {
	defer l.enter()()
	return l.addPixel(&pixel{alpha: 1})
}

func (l *Library) ClonePixelWand(p PixelWand) PixelWand {
	defer l.enter()()

	ps := l.pixel(p)
	if ps == nil {
		return 0
	}
	dup := *ps
	dup.exception = ""
	return l.addPixel(&dup)
}

func (l *Library) DestroyPixelWand(p PixelWand) bool {
	defer l.enter()()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pixels[p]; !ok {
		return false
	}
	delete(l.pixels, p)
	return true
}

func (l *Library) IsPixelWand(p PixelWand) bool {
	return l.pixel(p) != nil
}

// PixelSetColor parses spec into p.
func (l *Library) PixelSetColor(p PixelWand, spec string) bool {
	return l.doPixel(p, func(ps *pixel) error {
		c, alpha, err := parseColor(spec)
		if err != nil {
			return err
		}
		ps.c, ps.alpha = c, alpha
		return nil
	})
}

// PixelGetColorAsString renders p as rgb(r,g,b), or rgba(r,g,b,a) when it is
// not fully opaque.
func (l *Library) PixelGetColorAsString(p PixelWand) string {
	var s string
	l.doPixel(p, func(ps *pixel) error {
		c := ps.nrgba()
		if c.A == 255 {
			s = fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
		} else {
			s = fmt.Sprintf("rgba(%d,%d,%d,%s)", c.R, c.G, c.B,
				strconv.FormatFloat(math.Round(ps.alpha*1e4)/1e4, 'f', -1, 64))
		}
		return nil
	})
	return s
}

// PixelGetColorAsHex renders p as #rrggbb.
func (l *Library) PixelGetColorAsHex(p PixelWand) string {
	var s string
	l.doPixel(p, func(ps *pixel) error {
		s = ps.c.Clamped().Hex()
		return nil
	})
	return s
}

type channel int

const (
	channelRed channel = iota
	channelGreen
	channelBlue
	channelAlpha
)

func (l *Library) getChannel(p PixelWand, ch channel) float64 {
	var v float64
	l.doPixel(p, func(ps *pixel) error {
		switch ch {
		case channelRed:
			v = ps.c.R
		case channelGreen:
			v = ps.c.G
		case channelBlue:
			v = ps.c.B
		case channelAlpha:
			v = ps.alpha
		}
		return nil
	})
	return v
}

func (l *Library) setChannel(p PixelWand, ch channel, v float64) bool {
	v = clamp01(v)
	return l.doPixel(p, func(ps *pixel) error {
		switch ch {
		case channelRed:
			ps.c.R = v
		case channelGreen:
			ps.c.G = v
		case channelBlue:
			ps.c.B = v
		case channelAlpha:
			ps.alpha = v
		}
		return nil
	})
}

// Channel values are in 0..1. Setters clamp.

func (l *Library) PixelGetRed(p PixelWand) float64   { return l.getChannel(p, channelRed) }
func (l *Library) PixelGetGreen(p PixelWand) float64 { return l.getChannel(p, channelGreen) }
func (l *Library) PixelGetBlue(p PixelWand) float64  { return l.getChannel(p, channelBlue) }
func (l *Library) PixelGetAlpha(p PixelWand) float64 { return l.getChannel(p, channelAlpha) }

func (l *Library) PixelSetRed(p PixelWand, v float64) bool   { return l.setChannel(p, channelRed, v) }
func (l *Library) PixelSetGreen(p PixelWand, v float64) bool { return l.setChannel(p, channelGreen, v) }
func (l *Library) PixelSetBlue(p PixelWand, v float64) bool  { return l.setChannel(p, channelBlue, v) }
func (l *Library) PixelSetAlpha(p PixelWand, v float64) bool { return l.setChannel(p, channelAlpha, v) }

// PixelGetHSL returns hue, saturation and lightness, each in 0..1.
func (l *Library) PixelGetHSL(p PixelWand) (hue, saturation, lightness float64) {
	l.doPixel(p, func(ps *pixel) error {
		h, s, li := ps.c.Clamped().Hsl()
		hue, saturation, lightness = h/360, s, li
		return nil
	})
	return hue, saturation, lightness
}

// PixelSetHSL sets the color from hue, saturation and lightness in 0..1,
// keeping alpha.
func (l *Library) PixelSetHSL(p PixelWand, hue, saturation, lightness float64) bool {
	return l.doPixel(p, func(ps *pixel) error {
		if hue < 0 || hue > 1 || saturation < 0 || saturation > 1 || lightness < 0 || lightness > 1 {
			return fmt.Errorf("hsl %g,%g,%g out of range 0..1", hue, saturation, lightness)
		}
		ps.c = colorful.Hsl(hue*360, saturation, lightness).Clamped()
		return nil
	})
}
