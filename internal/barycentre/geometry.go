package barycentre

import "image"

// Moments holds the spatial moments of a filled polygon.
type Moments struct {
	M00, M10, M01 float64
}

// ContourMoments integrates over the polygon interior with Green's theorem.
// The sign follows the winding; an outer contour from FindExternalContours
// has positive M00.
func ContourMoments(c Contour) Moments {
	n := len(c)
	if n < 3 {
		return Moments{}
	}
	var a00, a10, a01 int64
	for i := 0; i < n; i++ {
		p, q := c[i], c[(i+1)%n]
		cross := int64(p.X)*int64(q.Y) - int64(q.X)*int64(p.Y)
		a00 += cross
		a10 += int64(p.X+q.X) * cross
		a01 += int64(p.Y+q.Y) * cross
	}
	return Moments{
		M00: float64(a00) / 2,
		M10: float64(a10) / 6,
		M01: float64(a01) / 6,
	}
}

// ContourArea is the absolute shoelace area of c.
func ContourArea(c Contour) float64 {
	a := ContourMoments(c).M00
	if a < 0 {
		return -a
	}
	return a
}

// Centroid returns (M10/M00, M01/M00) truncated toward zero. ok is false for
// a zero-area polygon.
func (m Moments) Centroid() (p image.Point, ok bool) {
	if m.M00 == 0 {
		return image.Point{}, false
	}
	return image.Pt(int(m.M10/m.M00), int(m.M01/m.M00)), true
}

// PointPolygonTest reports +1 when p is strictly inside c, 0 when it lies on
// an edge or vertex and -1 when it is outside.
func PointPolygonTest(c Contour, p image.Point) int {
	n := len(c)
	if n == 0 {
		return -1
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := c[j], c[i]
		if onSegment(a, b, p) {
			return 0
		}
		if (a.Y > p.Y) == (b.Y > p.Y) {
			continue
		}
		// p.X < crossing x, scaled by dy to stay in integers
		dy := int64(b.Y - a.Y)
		lhs := int64(p.X-a.X) * dy
		rhs := int64(p.Y-a.Y) * int64(b.X-a.X)
		if dy < 0 {
			lhs, rhs = -lhs, -rhs
		}
		if lhs < rhs {
			inside = !inside
		}
	}
	if inside {
		return 1
	}
	return -1
}

func onSegment(a, b, p image.Point) bool {
	cross := int64(b.X-a.X)*int64(p.Y-a.Y) - int64(b.Y-a.Y)*int64(p.X-a.X)
	if cross != 0 {
		return false
	}
	return p.X >= min(a.X, b.X) && p.X <= max(a.X, b.X) &&
		p.Y >= min(a.Y, b.Y) && p.Y <= max(a.Y, b.Y)
}

// PixelInside reports whether the centre of pixel p lies inside the crack
// polygon c.
func PixelInside(c Contour, p image.Point) bool {
	scaled := make(Contour, len(c))
	for i, q := range c {
		scaled[i] = image.Pt(2*q.X, 2*q.Y)
	}
	// centres sit on odd coordinates, so they are never on an edge
	return PointPolygonTest(scaled, image.Pt(2*p.X+1, 2*p.Y+1)) > 0
}

// BoundaryPixels lists the pixels lying just inside each edge of an outer
// contour, in trace order. Outer contours keep the region on the right of
// every edge, so each listed pixel belongs to the region.
func BoundaryPixels(c Contour) []image.Point {
	var out []image.Point
	n := len(c)
	for i := 0; i < n; i++ {
		p, q := c[i], c[(i+1)%n]
		switch {
		case q.X > p.X: // east, region below
			for x := p.X; x < q.X; x++ {
				out = appendPixel(out, image.Pt(x, p.Y))
			}
		case q.Y > p.Y: // south, region to the west
			for y := p.Y; y < q.Y; y++ {
				out = appendPixel(out, image.Pt(p.X-1, y))
			}
		case q.X < p.X: // west, region above
			for x := p.X - 1; x >= q.X; x-- {
				out = appendPixel(out, image.Pt(x, p.Y-1))
			}
		case q.Y < p.Y: // north, region to the east
			for y := p.Y - 1; y >= q.Y; y-- {
				out = appendPixel(out, image.Pt(p.X, y))
			}
		}
	}
	return out
}

func appendPixel(ps []image.Point, p image.Point) []image.Point {
	if len(ps) > 0 && ps[len(ps)-1] == p {
		return ps
	}
	return append(ps, p)
}

// Nearest returns the point of c closest to p. Equal distances keep the
// earliest point.
func Nearest(c Contour, p image.Point) (image.Point, bool) {
	if len(c) == 0 {
		return image.Point{}, false
	}
	best := c[0]
	bestDist := sqDist(best, p)
	for _, q := range c[1:] {
		if d := sqDist(q, p); d < bestDist {
			best, bestDist = q, d
		}
	}
	return best, true
}

func sqDist(a, b image.Point) int64 {
	dx := int64(a.X - b.X)
	dy := int64(a.Y - b.Y)
	return dx*dx + dy*dy
}
