// Package model defines the layer descriptors shared by the store, the viewer
// and the HTTP API.
package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type LayerKind string

const (
	KindGeoJSON LayerKind = "GeoJSON"
	KindGeoTIFF LayerKind = "GeoTIFF"
	KindTiles   LayerKind = "TILES"
)

var ErrUnknownKind = errors.New("unknown layer kind")

// ParseKind accepts the kind names case-insensitively. Empty means GeoJSON.
func ParseKind(s string) (LayerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "geojson":
		return KindGeoJSON, nil
	case "geotiff", "tiff", "tif":
		return KindGeoTIFF, nil
	case "tiles", "tile", "xyz":
		return KindTiles, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

type VectorStyle struct {
	Color       string  `json:"color" toml:"color"`
	Weight      float64 `json:"weight" toml:"weight"`
	FillColor   string  `json:"fillColor" toml:"fill_color"`
	FillOpacity float64 `json:"fillOpacity" toml:"fill_opacity"`
}

// DefaultVectorStyle is applied to GeoJSON layers that carry no style.
var DefaultVectorStyle = VectorStyle{
	Color:       "#2b6cb0",
	Weight:      0.6,
	FillColor:   "#90cdf4",
	FillOpacity: 0.35,
}

// LayerOptions holds the kind-dependent rendering knobs. Nil fields are unset
// and fall back to the renderer's defaults.
type LayerOptions struct {
	Opacity           *float64 `json:"opacity,omitempty" toml:"opacity"`
	Min               *float64 `json:"min,omitempty" toml:"min"`
	Max               *float64 `json:"max,omitempty" toml:"max"`
	Palette           []string `json:"palette,omitempty" toml:"palette"`
	ZeroAsTransparent *bool    `json:"zeroAsTransparent,omitempty" toml:"zero_as_transparent"`
	Resolution        *int     `json:"resolution,omitempty" toml:"resolution"`
	InitialResolution *int     `json:"initialResolution,omitempty" toml:"initial_resolution"`
	ResponsiveByZoom  *bool    `json:"responsiveByZoom,omitempty" toml:"responsive_by_zoom"`
	FitBounds         *bool    `json:"fitBounds,omitempty" toml:"fit_bounds"`
	MinZoom           *int     `json:"minZoom,omitempty" toml:"min_zoom"`
	MaxZoom           *int     `json:"maxZoom,omitempty" toml:"max_zoom"`
	Attribution       *string  `json:"attribution,omitempty" toml:"attribution"`
}

// Merge returns o with every field set in patch overriding it.
func (o LayerOptions) Merge(patch LayerOptions) LayerOptions {
	out := o.Clone()
	if patch.Opacity != nil {
		out.Opacity = Ptr(*patch.Opacity)
	}
	if patch.Min != nil {
		out.Min = Ptr(*patch.Min)
	}
	if patch.Max != nil {
		out.Max = Ptr(*patch.Max)
	}
	if patch.Palette != nil {
		out.Palette = slices.Clone(patch.Palette)
	}
	if patch.ZeroAsTransparent != nil {
		out.ZeroAsTransparent = Ptr(*patch.ZeroAsTransparent)
	}
	if patch.Resolution != nil {
		out.Resolution = Ptr(*patch.Resolution)
	}
	if patch.InitialResolution != nil {
		out.InitialResolution = Ptr(*patch.InitialResolution)
	}
	if patch.ResponsiveByZoom != nil {
		out.ResponsiveByZoom = Ptr(*patch.ResponsiveByZoom)
	}
	if patch.FitBounds != nil {
		out.FitBounds = Ptr(*patch.FitBounds)
	}
	if patch.MinZoom != nil {
		out.MinZoom = Ptr(*patch.MinZoom)
	}
	if patch.MaxZoom != nil {
		out.MaxZoom = Ptr(*patch.MaxZoom)
	}
	if patch.Attribution != nil {
		out.Attribution = Ptr(*patch.Attribution)
	}
	return out
}

func (o LayerOptions) Clone() LayerOptions {
	out := LayerOptions{Palette: slices.Clone(o.Palette)}
	out.Opacity = clonePtr(o.Opacity)
	out.Min = clonePtr(o.Min)
	out.Max = clonePtr(o.Max)
	out.ZeroAsTransparent = clonePtr(o.ZeroAsTransparent)
	out.Resolution = clonePtr(o.Resolution)
	out.InitialResolution = clonePtr(o.InitialResolution)
	out.ResponsiveByZoom = clonePtr(o.ResponsiveByZoom)
	out.FitBounds = clonePtr(o.FitBounds)
	out.MinZoom = clonePtr(o.MinZoom)
	out.MaxZoom = clonePtr(o.MaxZoom)
	out.Attribution = clonePtr(o.Attribution)
	return out
}

// Equal compares option values, not pointer identity.
func (o LayerOptions) Equal(p LayerOptions) bool {
	return eqPtr(o.Opacity, p.Opacity) &&
		eqPtr(o.Min, p.Min) &&
		eqPtr(o.Max, p.Max) &&
		slices.Equal(o.Palette, p.Palette) &&
		eqPtr(o.ZeroAsTransparent, p.ZeroAsTransparent) &&
		eqPtr(o.Resolution, p.Resolution) &&
		eqPtr(o.InitialResolution, p.InitialResolution) &&
		eqPtr(o.ResponsiveByZoom, p.ResponsiveByZoom) &&
		eqPtr(o.FitBounds, p.FitBounds) &&
		eqPtr(o.MinZoom, p.MinZoom) &&
		eqPtr(o.MaxZoom, p.MaxZoom) &&
		eqPtr(o.Attribution, p.Attribution)
}

// Descriptor is the declarative description of one layer, the only contract
// between the store and whatever presents it.
type Descriptor struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Kind        LayerKind    `json:"kind"`
	Icon        string       `json:"icon,omitempty"`
	URL         string       `json:"url"`
	Visible     bool         `json:"visible"`
	Style       *VectorStyle `json:"style,omitempty"`
	Options     LayerOptions `json:"options"`
}

func (d Descriptor) Clone() Descriptor {
	out := d
	if d.Style != nil {
		s := *d.Style
		out.Style = &s
	}
	out.Options = d.Options.Clone()
	return out
}

// EffectiveStyle returns the layer style or the default vector style.
func (d Descriptor) EffectiveStyle() VectorStyle {
	if d.Style != nil {
		return *d.Style
	}
	return DefaultVectorStyle
}

// LayerSpec is the input form of a descriptor: everything is optional and
// defaults are filled in by the store.
type LayerSpec struct {
	ID          string       `json:"id" toml:"id"`
	Name        string       `json:"name" toml:"name"`
	Description string       `json:"description" toml:"description"`
	Kind        string       `json:"kind" toml:"kind"`
	Icon        string       `json:"icon" toml:"icon"`
	URL         string       `json:"url" toml:"url"`
	Visible     *bool        `json:"visible" toml:"visible"`
	Style       *VectorStyle `json:"style" toml:"style"`
	Options     LayerOptions `json:"options" toml:"options"`
}

// Normalize fills defaults for the layer at position index.
func (s LayerSpec) Normalize(index int) (Descriptor, error) {
	kind, err := ParseKind(s.Kind)
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{
		ID:          strings.TrimSpace(s.ID),
		Name:        strings.TrimSpace(s.Name),
		Description: s.Description,
		Kind:        kind,
		Icon:        s.Icon,
		URL:         strings.TrimSpace(s.URL),
		Visible:     true,
		Options:     s.Options.Clone(),
	}
	if d.ID == "" {
		d.ID = fmt.Sprintf("layer-%d", index)
	}
	if d.Name == "" {
		d.Name = fmt.Sprintf("Layer %d", index+1)
	}
	if s.Visible != nil {
		d.Visible = *s.Visible
	}
	if s.Style != nil {
		st := *s.Style
		d.Style = &st
	}
	return d, nil
}

// Ptr returns a pointer to v, for building options literals.
func Ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// LayerStatus is a snapshot of a mounted layer controller.
type LayerStatus struct {
	ID         string    `json:"id"`
	Kind       LayerKind `json:"kind"`
	State      string    `json:"state"`
	Resolution int       `json:"resolution,omitempty"`
	Features   int       `json:"features,omitempty"`
	Error      string    `json:"error,omitempty"`
}
