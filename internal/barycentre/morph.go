package barycentre

import "github.com/up-zero/gotool/imageutil"

// Erode shrinks the foreground with a size x size rectangle. Border pixels are
// replicated, which for a min filter equals OpenCV's default morphology border.
func Erode(m *Mask, size int) *Mask {
	if size <= 1 {
		return m.clone()
	}
	return FromImage(imageutil.Erode(m.Gray(), imageutil.NewRectKernel(size, size)))
}

// Dilate grows the foreground with a size x size rectangle.
func Dilate(m *Mask, size int) *Mask {
	if size <= 1 {
		return m.clone()
	}
	return FromImage(imageutil.Dilate(m.Gray(), imageutil.NewRectKernel(size, size)))
}

// Open removes specks smaller than the structuring element (erode, then dilate).
func Open(m *Mask, size int) *Mask {
	return Dilate(Erode(m, size), size)
}

// Median replaces each pixel by the median of its size x size neighbourhood,
// replicating edge pixels past the border. On a binary grid the median is
// foreground exactly when more than half of the window is foreground.
func Median(m *Mask, size int) *Mask {
	if size <= 1 {
		return m.clone()
	}
	r := size / 2
	need := size*size/2 + 1
	w, h := m.Width, m.Height

	// horizontal window counts with replicated borders
	counts := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dx := -r; dx <= r; dx++ {
				if m.Pix[y*w+clamp(x+dx, w)] {
					n++
				}
			}
			counts[y*w+x] = n
		}
	}

	out := NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -r; dy <= r; dy++ {
				n += counts[clamp(y+dy, h)*w+x]
			}
			out.Pix[y*w+x] = n >= need
		}
	}
	return out
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

func (m *Mask) clone() *Mask {
	out := NewMask(m.Width, m.Height)
	copy(out.Pix, m.Pix)
	return out
}
