package barycentre

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrInvalidInput reports an empty, nil or inconsistent mask.
var ErrInvalidInput = errors.New("invalid input")

// Mask is a binary foreground grid stored row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

// NewMask allocates an all-background mask.
func NewMask(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{Width: width, Height: height, Pix: make([]bool, width*height)}
}

// FromImage thresholds img so that every non-zero luminance pixel is foreground.
// A nil image yields a nil mask.
func FromImage(img image.Image) *Mask {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < m.Height; y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			row := g.Pix[off : off+m.Width]
			for x, v := range row {
				m.Pix[y*m.Width+x] = v > 0
			}
		}
		return m
	}

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Pix[y*m.Width+x] = c.Y > 0
		}
	}
	return m
}

// Gray renders the mask as 0/255 pixels.
func (m *Mask) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v {
			g.Pix[i] = 255
		}
	}
	return g
}

// At reports whether (x, y) is foreground. Out of bounds reads as background.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x]
}

// Set writes (x, y); out-of-bounds writes are dropped.
func (m *Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// FillRect marks r as foreground, clipped to the mask.
func (m *Mask) FillRect(r image.Rectangle) {
	r = r.Intersect(image.Rect(0, 0, m.Width, m.Height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Pix[y*m.Width+x] = true
		}
	}
}

// Count returns the number of foreground pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

func (m *Mask) validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil mask", ErrInvalidInput)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: empty mask", ErrInvalidInput)
	}
	if len(m.Pix) != m.Width*m.Height {
		return fmt.Errorf("%w: mask buffer does not match %dx%d", ErrInvalidInput, m.Width, m.Height)
	}
	return nil
}
