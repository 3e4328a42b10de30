package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/colormap"
)

// Rendering is one colour-mapped pass over a grid. It is what gets attached
// to the surface; a layer swaps renderings as the resolution changes.
type Rendering struct {
	ID         string
	Resolution int
	Opacity    float64
	Bounds     orb.Bound
	Image      *image.NRGBA
}

func (r *Rendering) LayerID() string { return r.ID }

// EncodePNG writes the rendering as a PNG.
func (r *Rendering) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, r.Image); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// Render samples g on a res x res lattice, taking the grid cell under each
// output pixel's centre, and maps the samples through m. Transparent samples
// stay fully transparent; the rest carry opacity as alpha.
func Render(id string, g *Grid, m *colormap.Mapper, res int, opacity float64) *Rendering {
	if res < 1 {
		res = 1
	}
	alpha := uint8(math.Round(math.Max(0, math.Min(1, opacity)) * 255))
	img := image.NewNRGBA(image.Rect(0, 0, res, res))

	if g != nil && g.Width > 0 && g.Height > 0 {
		sx := float64(g.Width) / float64(res)
		sy := float64(g.Height) / float64(res)
		for y := range res {
			row := int((float64(y) + 0.5) * sy)
			for x := range res {
				col := int((float64(x) + 0.5) * sx)
				c, ok := m.Color(g.Value(col, row))
				if !ok {
					continue
				}
				img.SetNRGBA(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: alpha})
			}
		}
	}

	r := &Rendering{ID: id, Resolution: res, Opacity: opacity, Image: img}
	if g != nil {
		r.Bounds = g.Bounds
	}
	return r
}
