package barycentre

import "image"

// Contour is a closed polygon on the pixel-corner lattice. Vertex (x, y) is the
// top-left corner of pixel (x, y), so a contour hugs the outside edges of the
// pixels it encloses. Only vertices where the boundary changes direction are kept.
type Contour []image.Point

type direction int

const (
	east direction = iota
	south
	west
	north
)

var steps = [4]image.Point{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

// FindExternalContours traces the outer boundary of every 8-connected
// foreground component that is not nested inside a hole of another component.
// Holes are ignored. Contours are returned in raster order of each
// component's first pixel and run clockwise on screen.
func FindExternalContours(m *Mask) []Contour {
	if m == nil || m.Width == 0 || m.Height == 0 {
		return nil
	}
	w, h := m.Width, m.Height
	outside := outsideBackground(m)
	labels := make([]int32, w*h)
	var next int32
	var contours []Contour
	var queue []int

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !m.Pix[i] || labels[i] != 0 {
				continue
			}
			next++
			queue = labelComponent(m, labels, i, next, queue[:0])

			// The pixel above a component's first pixel is background; the
			// component is external only when that background reaches the border.
			if y > 0 && !outside[i-w] {
				continue
			}
			contours = append(contours, traceOuter(m, image.Pt(x, y)))
		}
	}
	return contours
}

// labelComponent flood-fills the 8-connected component containing seed.
func labelComponent(m *Mask, labels []int32, seed int, label int32, queue []int) []int {
	w, h := m.Width, m.Height
	labels[seed] = label
	queue = append(queue, seed)
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if m.Pix[j] && labels[j] == 0 {
					labels[j] = label
					queue = append(queue, j)
				}
			}
		}
	}
	return queue
}

// outsideBackground marks background pixels 4-connected to the image border.
func outsideBackground(m *Mask) []bool {
	w, h := m.Width, m.Height
	seen := make([]bool, w*h)
	var stack []int
	push := func(x, y int) {
		i := y*w + x
		if m.Pix[i] || seen[i] {
			return
		}
		seen[i] = true
		stack = append(stack, i)
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}
	return seen
}

// traceOuter walks the crack boundary starting at the top-left corner of the
// component's first pixel, heading east with the region on the right.
func traceOuter(m *Mask, start image.Point) Contour {
	pts := Contour{start}
	v, d := start, east
	limit := 4*(m.Width+1)*(m.Height+1) + 4
	for i := 0; i < limit; i++ {
		v = v.Add(steps[d])
		nd := turn(m, v, d)
		if v == start && nd == east {
			break
		}
		if nd != d {
			pts = append(pts, v)
		}
		d = nd
	}
	return pts
}

// turn picks the next direction at vertex v after arriving along d. A
// foreground pixel ahead-left means the region continues that way (diagonal
// neighbours are connected), a foreground pixel ahead-right means the edge
// runs straight on, otherwise the boundary bends right.
func turn(m *Mask, v image.Point, d direction) direction {
	var left, right image.Point
	switch d {
	case east:
		left, right = image.Pt(v.X, v.Y-1), image.Pt(v.X, v.Y)
	case south:
		left, right = image.Pt(v.X, v.Y), image.Pt(v.X-1, v.Y)
	case west:
		left, right = image.Pt(v.X-1, v.Y), image.Pt(v.X-1, v.Y-1)
	case north:
		left, right = image.Pt(v.X-1, v.Y-1), image.Pt(v.X, v.Y-1)
	}
	switch {
	case m.At(left.X, left.Y):
		return (d + 3) % 4
	case m.At(right.X, right.Y):
		return d
	default:
		return (d + 1) % 4
	}
}
