// Package annotate draws extracted points onto a copy of the source frame.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/up-zero/gotool/imageutil"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DefaultFileName is written next to the source image.
const DefaultFileName = "barycentres_annotated.jpg"

// Marker is one point to draw.
type Marker struct {
	Point     image.Point
	Label     string
	Corrected bool
}

// Annotator draws filled circles with optional labels.
type Annotator struct {
	Radius    int
	Color     color.RGBA
	Corrected color.RGBA
	face      font.Face
	closeFace bool
}

// New returns an annotator that labels with the built-in bitmap face. A
// non-empty fontPath loads a TrueType/OpenType face at fontSize instead.
func New(radius int, fontPath string, fontSize float64) (*Annotator, error) {
	a := &Annotator{
		Radius:    radius,
		Color:     color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Corrected: color.RGBA{R: 255, G: 64, B: 64, A: 255},
		face:      basicfont.Face7x13,
	}
	if fontPath == "" {
		return a, nil
	}
	data, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	if fontSize <= 0 {
		fontSize = 12
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: fontSize, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, err
	}
	a.face, a.closeFace = face, true
	return a, nil
}

// Close releases a loaded font face.
func (a *Annotator) Close() {
	if a.closeFace {
		a.face.Close()
	}
}

// Draw returns a copy of src with every marker drawn on it.
func (a *Annotator) Draw(src image.Image, markers []Marker) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	for _, m := range markers {
		c := a.Color
		if m.Corrected {
			c = a.Corrected
		}
		imageutil.DrawFilledCircle(dst, m.Point, a.Radius, c)
		if m.Label != "" {
			a.drawText(dst, m.Label, m.Point.X+a.Radius+2, m.Point.Y+a.Radius, c)
		}
	}
	return dst
}

func (a *Annotator) drawText(dst draw.Image, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: a.face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// SaveJPEG writes img to path via a temporary file in the same directory, so a
// reader never sees a partial image.
func SaveJPEG(path string, img image.Image, quality int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".*.jpg")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := imageutil.Save(name, img, quality); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.Rename(name, path)
}
