//go:build !gocv

package cvextract

import (
	"image"

	"nerfmark/internal/barycentre"
)

// Extractor is a placeholder when OpenCV is not linked.
type Extractor struct{}

// New always fails without the gocv build tag.
func New(barycentre.Options) (*Extractor, error) {
	return nil, ErrUnavailable
}

// ExtractImage implements barycentre.Extractor.
func (e *Extractor) ExtractImage(image.Image) (barycentre.Result, bool, error) {
	return barycentre.Result{}, false, ErrUnavailable
}
