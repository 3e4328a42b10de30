package popup

import "github.com/paulmach/orb"

// Popup is an opened popup anchored at a map position.
type Popup struct {
	LayerID   string    `json:"layerId"`
	Position  orb.Point `json:"position"`
	HTML      string    `json:"html"`
	MaxWidth  int       `json:"maxWidth"`
	MaxHeight int       `json:"maxHeight"`
}

func New(layerID string, pt orb.Point, content string, cfg Config) Popup {
	return Popup{
		LayerID:   layerID,
		Position:  pt,
		HTML:      content,
		MaxWidth:  cfg.MaxWidth,
		MaxHeight: cfg.MaxHeight,
	}
}
