package gaze

import (
	"errors"
	"math"
)

// Configuration errors reported by the coordinate transforms. These are
// synchronous: the operation aborts and no partial state is committed.
var (
	// ErrGeometryRequired is returned when a current-tab transform is asked to
	// run without a browsing-surface geometry snapshot.
	ErrGeometryRequired = errors.New("gaze: geometry snapshot required for current-tab mode")

	// ErrDisplayExtentsRequired is returned when normalized input is supplied
	// without the display extents needed to scale it, or when a normalized
	// output is requested without a denominator extent.
	ErrDisplayExtentsRequired = errors.New("gaze: display extents required")
)

// RawInput is a raw positional input to the transform engine. Coordinates are
// absolute display pixels unless Normalized is set, in which case they are
// 0-1 fractions of the display and DisplayW/DisplayH must be supplied.
type RawInput struct {
	X, Y       float64
	Normalized bool
	DisplayW   float64
	DisplayH   float64
}

// displayPoint resolves the input to absolute display coordinates.
func (in RawInput) displayPoint() (Point, error) {
	if !in.Normalized {
		return Point{X: in.X, Y: in.Y}, nil
	}
	if in.DisplayW <= 0 || in.DisplayH <= 0 {
		return Point{}, ErrDisplayExtentsRequired
	}
	return Point{X: in.X * in.DisplayW, Y: in.Y * in.DisplayH}, nil
}

// ToContent converts raw input to content coordinates: position relative to
// the captured video frame's own origin.
//
// Convention: in full-screen mode the captured frame is the display itself,
// so content coordinates equal display coordinates. In current-tab mode
// content = display - surface position, which requires a geometry snapshot.
func ToContent(in RawInput, mode RecordingMode, geom *Geometry) (Point, error) {
	disp, err := in.displayPoint()
	if err != nil {
		return Point{}, err
	}
	switch mode {
	case ModeCurrentTab:
		if geom == nil {
			return Point{}, ErrGeometryRequired
		}
		return Point{X: disp.X - geom.ScreenX, Y: disp.Y - geom.ScreenY}, nil
	default:
		return disp, nil
	}
}

// ToPage converts raw input to page coordinates: content plus scroll offsets.
// Page coordinates are only defined for current-tab mode; for full-screen the
// second return is false and the point is zero.
func ToPage(in RawInput, mode RecordingMode, geom *Geometry) (Point, bool, error) {
	if mode != ModeCurrentTab {
		return Point{}, false, nil
	}
	content, err := ToContent(in, mode, geom)
	if err != nil {
		return Point{}, false, err
	}
	return Point{X: content.X + geom.ScrollX, Y: content.Y + geom.ScrollY}, true, nil
}

// ToNormalized converts raw input to normalized 0-1 coordinates over the
// active extent: the viewport for current-tab, the display for full-screen.
// The result is clamped to [0,1] even for out-of-range inputs.
func ToNormalized(in RawInput, mode RecordingMode, geom *Geometry) (Point, error) {
	content, err := ToContent(in, mode, geom)
	if err != nil {
		return Point{}, err
	}

	var w, h float64
	if mode == ModeCurrentTab {
		w, h = geom.InnerWidth, geom.InnerHeight
	} else {
		w, h = in.DisplayW, in.DisplayH
	}
	if w <= 0 || h <= 0 {
		return Point{}, ErrDisplayExtentsRequired
	}

	return Point{
		X: clamp01(content.X / w),
		Y: clamp01(content.Y / h),
	}, nil
}

// WithinBounds reports whether the input falls inside the captured region.
// Always true for full-screen; for current-tab, true iff the content point is
// inside [0,innerWidth] x [0,innerHeight].
func WithinBounds(in RawInput, mode RecordingMode, geom *Geometry) (bool, error) {
	if mode != ModeCurrentTab {
		return true, nil
	}
	content, err := ToContent(in, mode, geom)
	if err != nil {
		return false, err
	}
	return content.X >= 0 && content.X <= geom.InnerWidth &&
		content.Y >= 0 && content.Y <= geom.InnerHeight, nil
}

// Transform is the aggregate result of all coordinate conversions for one
// raw input.
type Transform struct {
	Content  Point
	Page     *Point
	Norm     Point
	InBounds bool
}

// TransformAll runs every conversion for one raw input. It is applied once
// per ingested sample, and independently for each eye sub-record.
func TransformAll(in RawInput, mode RecordingMode, geom *Geometry) (Transform, error) {
	content, err := ToContent(in, mode, geom)
	if err != nil {
		return Transform{}, err
	}
	page, hasPage, err := ToPage(in, mode, geom)
	if err != nil {
		return Transform{}, err
	}
	norm, err := ToNormalized(in, mode, geom)
	if err != nil {
		return Transform{}, err
	}
	inBounds, err := WithinBounds(in, mode, geom)
	if err != nil {
		return Transform{}, err
	}

	out := Transform{Content: content, Norm: norm, InBounds: inBounds}
	if hasPage {
		out.Page = &page
	}
	return out, nil
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
