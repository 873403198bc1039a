// Package cvextract runs the centroid extraction through OpenCV. It is only
// compiled with the gocv build tag; without it New reports ErrUnavailable.
package cvextract

import "errors"

// ErrUnavailable is returned when the binary was built without OpenCV.
var ErrUnavailable = errors.New("opencv backend not compiled in (build with -tags gocv)")
