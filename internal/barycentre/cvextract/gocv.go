//go:build gocv

package cvextract

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"nerfmark/internal/barycentre"
)

// Extractor denoises masks with OpenCV and hands the cleaned mask to the
// shared contour stage, so both backends agree on every point.
type Extractor struct {
	opts barycentre.Options
}

// New returns an OpenCV-backed extractor.
func New(opts barycentre.Options) (*Extractor, error) {
	return &Extractor{opts: opts}, nil
}

// ExtractImage implements barycentre.Extractor.
func (e *Extractor) ExtractImage(img image.Image) (barycentre.Result, bool, error) {
	if img == nil || img.Bounds().Empty() {
		return barycentre.Result{}, false, fmt.Errorf("%w: empty mask image", barycentre.ErrInvalidInput)
	}
	// Threshold to 0/255 first so intensity never leaks into the median.
	original := barycentre.FromImage(img)

	src, err := gocv.ImageGrayToMatGray(original.Gray())
	if err != nil {
		return barycentre.Result{}, false, fmt.Errorf("%w: %v", barycentre.ErrInvalidInput, err)
	}
	defer src.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	if e.opts.OpenSize > 1 {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(e.opts.OpenSize, e.opts.OpenSize))
		defer kernel.Close()
		gocv.MorphologyEx(src, &opened, gocv.MorphOpen, kernel)
	} else {
		src.CopyTo(&opened)
	}

	cleaned := gocv.NewMat()
	defer cleaned.Close()
	if e.opts.MedianSize > 1 {
		gocv.MedianBlur(opened, &cleaned, e.opts.MedianSize)
	} else {
		opened.CopyTo(&cleaned)
	}

	out, err := cleaned.ToImage()
	if err != nil {
		return barycentre.Result{}, false, fmt.Errorf("read back cleaned mask: %w", err)
	}
	r, found := barycentre.LocateDenoised(barycentre.FromImage(out), original, e.opts.MinArea)
	if found && e.opts.Marker != nil {
		e.opts.Marker(r)
	}
	return r, found, nil
}
