// Package hotness tracks how often map cells are clicked, with scores that
// fade over time.
package hotness

type Interface interface {
	Inc(cell string)
	Score(cell string) float64
	Reset(cells ...string)
	Top(n int) []CellScore
}

type CellScore struct {
	Cell  string  `json:"cell"`
	Score float64 `json:"score"`
}
