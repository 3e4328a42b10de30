// Package metricswrap wraps a hotness tracker with the hot-cell gauge and
// sampled logging of cells that cross a score threshold.
package metricswrap

import (
	"fmt"
	"io"

	xx "github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/observability"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hotness"
)

type Sizer interface{ Size() int }

type Options struct {
	// HotThreshold enables threshold logging when > 0.
	HotThreshold float64
	// LogSample is the fraction of cells (by hash) that are logged, 0..1.
	LogSample float64
}

type WithMetrics struct {
	inner  hotness.Interface
	opts   Options
	logger zerolog.Logger
}

var _ hotness.Interface = (*WithMetrics)(nil)

func New(inner hotness.Interface, opts Options, log *zerolog.Logger) *WithMetrics {
	l := zerolog.New(io.Discard)
	if log != nil {
		l = *log
	}
	return &WithMetrics{inner: inner, opts: opts, logger: l}
}

func (w *WithMetrics) Inc(cell string) {
	w.inner.Inc(cell)
	if w.opts.HotThreshold > 0 {
		score := w.inner.Score(cell)
		if score >= w.opts.HotThreshold && shouldLog(w.opts.LogSample, cell) {
			w.logger.Info().
				Str("event", "hotness_threshold").
				Str("cell", cell).
				Float64("score", score).
				Str("cell_hash", fmt.Sprintf("%08x", xx.Sum64String(cell))).
				Msg("hot cell above threshold")
		}
	}
	w.publishSize()
}

func (w *WithMetrics) Score(cell string) float64 {
	return w.inner.Score(cell)
}

func (w *WithMetrics) Reset(cells ...string) {
	w.inner.Reset(cells...)
	w.publishSize()
}

func (w *WithMetrics) Top(n int) []hotness.CellScore {
	return w.inner.Top(n)
}

func (w *WithMetrics) publishSize() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotCells(s.Size())
	}
}

func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000 // 0.01 => 100/10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	return xx.Sum64String(key)%denom < threshold
}
