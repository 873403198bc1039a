package camerapath

import (
	"encoding/json"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// Dataparser is the nerfstudio dataparser_transforms.json content.
type Dataparser struct {
	Transform *mat.Dense // 3x4
	Scale     float64
}

type dataparserJSON struct {
	Transform json.RawMessage `json:"transform"`
	Scale     *float64        `json:"scale"`
}

// LoadDataparser reads the 3x4 transform and scale. The transform may be
// nested rows or a flat list of twelve numbers.
func LoadDataparser(r io.Reader) (Dataparser, error) {
	var raw dataparserJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Dataparser{}, fmt.Errorf("parse dataparser json: %w", err)
	}
	if raw.Scale == nil {
		return Dataparser{}, fmt.Errorf("%w: missing scale", ErrMalformedTransform)
	}
	vals, err := flattenTransform(raw.Transform)
	if err != nil {
		return Dataparser{}, err
	}
	if len(vals) != 12 {
		return Dataparser{}, fmt.Errorf("%w: want 12 values, got %d", ErrMalformedTransform, len(vals))
	}
	return Dataparser{Transform: mat.NewDense(3, 4, vals), Scale: *raw.Scale}, nil
}

func flattenTransform(raw json.RawMessage) ([]float64, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing transform", ErrMalformedTransform)
	}
	var rows [][]float64
	if err := json.Unmarshal(raw, &rows); err == nil {
		var out []float64
		for _, r := range rows {
			out = append(out, r...)
		}
		return out, nil
	}
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransform, err)
	}
	return flat, nil
}

// ToNeRF maps a Metashape camera-to-chunk matrix into the NeRF world frame:
// J = D·M, translation scaled, Y and Z axes flipped to the OpenGL convention,
// and the homogeneous row appended.
func ToNeRF(d Dataparser, m *mat.Dense) (*mat.Dense, error) {
	if r, c := d.Transform.Dims(); r != 3 || c != 4 {
		return nil, fmt.Errorf("%w: dataparser transform is %dx%d", ErrMalformedTransform, r, c)
	}
	if r, c := m.Dims(); r != 4 || c != 4 {
		return nil, fmt.Errorf("%w: camera transform is %dx%d", ErrMalformedTransform, r, c)
	}
	var j mat.Dense
	j.Mul(d.Transform, m)

	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		out.Set(i, 0, j.At(i, 0))
		out.Set(i, 1, -j.At(i, 1))
		out.Set(i, 2, -j.At(i, 2))
		out.Set(i, 3, j.At(i, 3)*d.Scale)
	}
	out.Set(3, 3, 1)
	return out, nil
}

// RowMajor flattens m row by row.
func RowMajor(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for k := 0; k < c; k++ {
			out = append(out, m.At(i, k))
		}
	}
	return out
}
