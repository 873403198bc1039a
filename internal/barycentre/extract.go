package barycentre

import (
	"image"
)

// Result describes the point chosen for one mask.
type Result struct {
	// Point is on or inside Contour.
	Point image.Point
	// Raw is the moment centroid before any correction.
	Raw       image.Point
	Corrected bool
	Area      float64
	Contour   Contour
}

// Options tunes extraction. The zero value disables denoising.
type Options struct {
	MinArea    float64
	OpenSize   int
	MedianSize int
	// Marker, when set, is called with every found result.
	Marker func(Result)
}

// DefaultOptions returns the stock 3x3 opening and 5x5 median with minArea.
func DefaultOptions(minArea float64) Options {
	return Options{MinArea: minArea, OpenSize: 3, MedianSize: 5}
}

// Extract denoises m with the default filters and returns a point on or inside
// its largest region. found is false when no region survives the area filter.
func Extract(m *Mask, minArea float64) (image.Point, bool, error) {
	r, found, err := ExtractWith(m, DefaultOptions(minArea))
	return r.Point, found, err
}

// ExtractWith is Extract with explicit options and the full result.
func ExtractWith(m *Mask, opts Options) (Result, bool, error) {
	if err := m.validate(); err != nil {
		return Result{}, false, err
	}
	r, found := LocateDenoised(Denoise(m, opts.OpenSize, opts.MedianSize), m, opts.MinArea)
	if found && opts.Marker != nil {
		opts.Marker(r)
	}
	return r, found, nil
}

// Denoise applies a morphological opening followed by a median filter. A size
// of 0 or 1 skips that step.
func Denoise(m *Mask, openSize, medianSize int) *Mask {
	return Median(Open(m, openSize), medianSize)
}

// Locate runs the contour stage on an already cleaned mask.
func Locate(m *Mask, minArea float64) (Result, bool) {
	return LocateDenoised(m, m, minArea)
}

// LocateDenoised picks the largest external contour of cleaned with area
// above minArea; the first one in scan order wins equal areas. When the
// centroid is not a foreground pixel of both that region and original, it is
// replaced by the nearest pixel on the region's boundary that is foreground
// in original.
func LocateDenoised(cleaned, original *Mask, minArea float64) (Result, bool) {
	if cleaned.validate() != nil || original.validate() != nil ||
		cleaned.Width != original.Width || cleaned.Height != original.Height {
		return Result{}, false
	}
	contours := FindExternalContours(cleaned)
	best := -1
	var bestArea float64
	for i, c := range contours {
		a := ContourArea(c)
		if a <= minArea {
			continue
		}
		if best < 0 || a > bestArea {
			best, bestArea = i, a
		}
	}
	if best < 0 {
		return Result{}, false
	}
	c := contours[best]
	raw, ok := ContourMoments(c).Centroid()
	if !ok {
		return Result{}, false
	}
	r := Result{Point: raw, Raw: raw, Area: bestArea, Contour: c}
	if !original.At(raw.X, raw.Y) || !PixelInside(c, raw) {
		if p, ok := Nearest(foreground(original, BoundaryPixels(c)), raw); ok {
			r.Point = p
			r.Corrected = true
		}
	}
	return r, true
}

// foreground keeps the points set in m, or all of ps when none are.
func foreground(m *Mask, ps []image.Point) []image.Point {
	out := make([]image.Point, 0, len(ps))
	for _, p := range ps {
		if m.At(p.X, p.Y) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return ps
	}
	return out
}

// Extractor turns a decoded mask image into a result.
type Extractor interface {
	ExtractImage(img image.Image) (Result, bool, error)
}

// NativeExtractor is the pure Go implementation.
type NativeExtractor struct {
	Options Options
}

// ExtractImage thresholds img and extracts with e.Options.
func (e NativeExtractor) ExtractImage(img image.Image) (Result, bool, error) {
	return ExtractWith(FromImage(img), e.Options)
}
