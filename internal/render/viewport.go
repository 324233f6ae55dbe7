package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HeightPadding is added below the measured content height.
const HeightPadding = 40

// Viewport is the clip rectangle captured into the artifact.
type Viewport struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
	Scale  float64
}

// UserCardViewport is the initial capture area of a user card. Height is a
// placeholder until the content is measured.
var UserCardViewport = Viewport{Width: 510, Height: 360, Scale: 1}

// OGImageViewport is the fixed capture area of a social preview card.
var OGImageViewport = Viewport{Width: 1280, Height: 720, Scale: 1}

// RecomputeViewport returns base with its height replaced by the measured
// height plus HeightPadding. Width is never changed. When measuredHeight is
// not a finite non-negative number base is returned with the parse error.
func RecomputeViewport(base Viewport, measuredHeight string) (Viewport, error) {
	h, err := strconv.ParseFloat(strings.TrimSpace(measuredHeight), 64)
	if err != nil {
		return base, fmt.Errorf("parse height %q: %w", measuredHeight, err)
	}
	if math.IsNaN(h) || math.IsInf(h, 0) || h < 0 {
		return base, fmt.Errorf("parse height %q: not a usable number", measuredHeight)
	}
	out := base
	out.Height = h + HeightPadding
	return out, nil
}
