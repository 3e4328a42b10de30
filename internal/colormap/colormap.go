// Package colormap turns scalar raster values into colours along a palette.
package colormap

import (
	"fmt"
	"math"
	"strings"

	colors "gopkg.in/go-playground/colors.v1"
)

type RGB struct {
	R, G, B uint8
}

func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Palette is an ordered colour ramp. It must hold at least one colour.
type Palette []RGB

// NormalizeHex returns s with a leading '#'.
func NormalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		return s
	}
	return "#" + s
}

func ParseColor(s string) (RGB, error) {
	hex, err := colors.ParseHEX(NormalizeHex(s))
	if err != nil {
		return RGB{}, fmt.Errorf("parse colour %q: %w", s, err)
	}
	c := hex.ToRGB()
	return RGB{R: c.R, G: c.G, B: c.B}, nil
}

func ParsePalette(hexes []string) (Palette, error) {
	if len(hexes) == 0 {
		return nil, fmt.Errorf("palette needs at least one colour")
	}
	p := make(Palette, 0, len(hexes))
	for i, h := range hexes {
		c, err := ParseColor(h)
		if err != nil {
			return nil, fmt.Errorf("palette[%d]: %w", i, err)
		}
		p = append(p, c)
	}
	return p, nil
}

type Mapper struct {
	Min, Max          float64
	Palette           Palette
	ZeroAsTransparent bool
}

// Color maps v onto the palette. ok is false when the sample must be left
// transparent: NaN, zero when ZeroAsTransparent is set, or a value outside
// [Min, Max]. Out-of-range values are not clamped.
func (m *Mapper) Color(v float64) (c RGB, ok bool) {
	if math.IsNaN(v) || len(m.Palette) == 0 {
		return RGB{}, false
	}
	if m.ZeroAsTransparent && v == 0 {
		return RGB{}, false
	}
	if m.Max == m.Min {
		return m.Palette[0], true
	}
	t := (v - m.Min) / (m.Max - m.Min)
	if t < 0 || t > 1 || math.IsNaN(t) {
		return RGB{}, false
	}
	n := len(m.Palette)
	if n == 1 {
		return m.Palette[0], true
	}

	pos := t * float64(n-1)
	i := int(math.Floor(pos))
	if i >= n-1 {
		return m.Palette[n-1], true
	}
	f := pos - float64(i)
	a, b := m.Palette[i], m.Palette[i+1]
	return RGB{
		R: lerp(a.R, b.R, f),
		G: lerp(a.G, b.G, f),
		B: lerp(a.B, b.B, f),
	}, true
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

type Stop struct {
	Color string  `json:"color"`
	Value float64 `json:"value"`
}

// Stops spreads the palette evenly across [min, max] for legend display.
// Colours are returned as given, with a leading '#'.
func Stops(min, max float64, palette []string) []Stop {
	n := len(palette)
	if n == 0 {
		return nil
	}
	den := float64(n - 1)
	if den < 1 {
		den = 1
	}
	out := make([]Stop, n)
	for i, c := range palette {
		out[i] = Stop{
			Color: NormalizeHex(c),
			Value: min + float64(i)/den*(max-min),
		}
	}
	return out
}
