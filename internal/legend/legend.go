// Package legend describes the visible layers for display next to the map.
package legend

import (
	"strings"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/colormap"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/raster"
)

const defaultIcon = "📌"

type Swatch struct {
	Color       string  `json:"color"`
	FillOpacity float64 `json:"fillOpacity,omitempty"`
}

type Entry struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        model.LayerKind `json:"kind"`
	Icon        string          `json:"icon"`
	Swatch      *Swatch         `json:"swatch,omitempty"`
	Gradient    string          `json:"gradient,omitempty"`
	Stops       []colormap.Stop `json:"stops,omitempty"`
	Attribution string          `json:"attribution,omitempty"`
}

// Build returns one entry per visible layer, in store order.
func Build(layers []model.Descriptor) []Entry {
	out := []Entry{}
	for _, d := range layers {
		if !d.Visible {
			continue
		}
		e := Entry{ID: d.ID, Name: d.Name, Kind: d.Kind, Icon: d.Icon}
		if e.Icon == "" {
			e.Icon = defaultIcon
		}
		switch d.Kind {
		case model.KindGeoJSON:
			st := d.EffectiveStyle()
			c := st.FillColor
			if c == "" {
				c = st.Color
			}
			if c == "" {
				c = "#ccc"
			}
			e.Swatch = &Swatch{Color: c, FillOpacity: st.FillOpacity}
		case model.KindGeoTIFF:
			pal := d.Options.Palette
			if len(pal) == 0 {
				pal = raster.DefaultPalette
			}
			lo, hi := raster.DefaultMin, raster.DefaultMax
			if d.Options.Min != nil {
				lo = *d.Options.Min
			}
			if d.Options.Max != nil {
				hi = *d.Options.Max
			}
			e.Gradient = Gradient(pal)
			e.Stops = colormap.Stops(lo, hi, pal)
		case model.KindTiles:
			if d.Options.Attribution != nil {
				e.Attribution = *d.Options.Attribution
			}
		}
		out = append(out, e)
	}
	return out
}

// Gradient is the CSS background for a palette: a flat colour for a single
// entry, a left-to-right linear gradient otherwise.
func Gradient(palette []string) string {
	switch len(palette) {
	case 0:
		return ""
	case 1:
		return colormap.NormalizeHex(palette[0])
	}
	cs := make([]string, len(palette))
	for i, c := range palette {
		cs[i] = colormap.NormalizeHex(c)
	}
	return "linear-gradient(90deg, " + strings.Join(cs, ", ") + ")"
}
