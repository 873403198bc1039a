package camerapath

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultOutputName matches what nerfstudio's viewer loads by default.
const DefaultOutputName = "output_camera_path.json"

// Settings are the render parameters written into the path document.
type Settings struct {
	FOV           float64
	TransitionSec float64
	CameraType    string
	RenderWidth   float64
	RenderHeight  float64
	FPS           float64
	Seconds       float64
	Aspect        float64
}

// DefaultSettings returns the values nerfstudio expects for a 6048x4024 render.
func DefaultSettings() Settings {
	return Settings{
		FOV:           25,
		TransitionSec: 2,
		CameraType:    "perspective",
		RenderWidth:   6048,
		RenderHeight:  4024,
		FPS:           30,
		Seconds:       10,
		Aspect:        0.6653439153439153,
	}
}

// Keyframe is one camera_path entry.
type Keyframe struct {
	CameraToWorld []float64 `json:"camera_to_world"`
	FOV           float64   `json:"fov"`
	Aspect        float64   `json:"aspect"`
}

// Document is the camera path file.
type Document struct {
	DefaultFOV           float64           `json:"default_fov"`
	DefaultTransitionSec float64           `json:"default_transition_sec"`
	Keyframes            []json.RawMessage `json:"keyframes"`
	CameraType           string            `json:"camera_type"`
	RenderHeight         float64           `json:"render_height"`
	RenderWidth          float64           `json:"render_width"`
	FPS                  float64           `json:"fps"`
	Seconds              float64           `json:"seconds"`
	IsCycle              bool              `json:"is_cycle"`
	SmoothnessValue      float64           `json:"smoothness_value"`
	CameraPath           []Keyframe        `json:"camera_path"`
}

// Build converts every camera with d and assembles the document.
func Build(cams []Camera, d Dataparser, s Settings) (*Document, error) {
	doc := &Document{
		DefaultFOV:           s.FOV,
		DefaultTransitionSec: s.TransitionSec,
		Keyframes:            []json.RawMessage{},
		CameraType:           s.CameraType,
		RenderHeight:         s.RenderHeight,
		RenderWidth:          s.RenderWidth,
		FPS:                  s.FPS,
		Seconds:              s.Seconds,
		CameraPath:           make([]Keyframe, 0, len(cams)),
	}
	for _, c := range cams {
		m, err := ToNeRF(d, c.Transform)
		if err != nil {
			return nil, fmt.Errorf("camera %q: %w", c.Label, err)
		}
		doc.CameraPath = append(doc.CameraPath, Keyframe{
			CameraToWorld: RowMajor(m),
			FOV:           s.FOV,
			Aspect:        s.Aspect,
		})
	}
	return doc, nil
}

// Convert reads the Metashape XML and dataparser JSON and writes the path
// document to outPath. It returns the number of cameras written.
func Convert(xmlPath, dataparserPath, outPath string, s Settings) (int, error) {
	xf, err := os.Open(xmlPath)
	if err != nil {
		return 0, err
	}
	defer xf.Close()
	cams, err := ParseMetashape(xf)
	if err != nil {
		return 0, err
	}

	jf, err := os.Open(dataparserPath)
	if err != nil {
		return 0, err
	}
	defer jf.Close()
	dp, err := LoadDataparser(jf)
	if err != nil {
		return 0, err
	}

	doc, err := Build(cams, dp, s)
	if err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return 0, err
	}
	if dir := filepath.Dir(outPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
		return 0, err
	}
	return len(doc.CameraPath), nil
}
