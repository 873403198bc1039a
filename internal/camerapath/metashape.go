// Package camerapath converts Metashape camera poses into a NeRF camera path.
package camerapath

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrMalformedTransform reports a transform with the wrong number of values or
// an unparsable number.
var ErrMalformedTransform = errors.New("malformed transform")

// Camera is one aligned camera from a Metashape export.
type Camera struct {
	ID        string
	Label     string
	Transform *mat.Dense // 4x4 camera to chunk
}

type metashapeCamera struct {
	ID        string  `xml:"id,attr"`
	Label     string  `xml:"label,attr"`
	Transform *string `xml:"transform"`
}

// ParseMetashape returns every camera that carries a transform, in document
// order. Cameras without a transform were not aligned and are skipped.
func ParseMetashape(r io.Reader) ([]Camera, error) {
	dec := xml.NewDecoder(r)
	var cams []Camera
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse metashape xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "camera" {
			continue
		}
		var mc metashapeCamera
		if err := dec.DecodeElement(&mc, &se); err != nil {
			return nil, fmt.Errorf("parse camera: %w", err)
		}
		if mc.Transform == nil {
			continue
		}
		vals, err := parseFloats(*mc.Transform, 16)
		if err != nil {
			return nil, fmt.Errorf("camera %q: %w", mc.Label, err)
		}
		cams = append(cams, Camera{
			ID:        mc.ID,
			Label:     mc.Label,
			Transform: mat.NewDense(4, 4, vals),
		})
	}
	return cams, nil
}

func parseFloats(s string, want int) ([]float64, error) {
	fields := strings.Fields(s)
	if len(fields) != want {
		return nil, fmt.Errorf("%w: want %d values, got %d", ErrMalformedTransform, want, len(fields))
	}
	out := make([]float64, want)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value %d: %v", ErrMalformedTransform, i, err)
		}
		out[i] = v
	}
	return out, nil
}
