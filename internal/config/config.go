package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nerfmark/internal/camerapath"
	"nerfmark/internal/results"
)

const (
	// EnvVar overrides the config file location.
	EnvVar            = "NERFMARK_CONFIG"
	defaultConfigPath = "~/.config/nerfmark/config.json"
	defaultParallel   = 4
)

// Backends accepted by Barycentre.Backend.
const (
	BackendNative = "native"
	BackendOpenCV = "opencv"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds user-editable settings.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Barycentre Barycentre `json:"barycentre"`
	CameraPath CameraPath `json:"camera_path"`
	Server     Server     `json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int `json:"parallel_jobs"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input locations.
type Paths struct {
	// DefaultInput is the parent folder used when a command is given none.
	DefaultInput string `json:"default_input"`
	DatabasePath string `json:"database_path"`
}

// Barycentre configures mask discovery and extraction.
type Barycentre struct {
	MinArea        float64  `json:"min_area"`
	ImageName      string   `json:"image_name"`
	MaskPrefix     string   `json:"mask_prefix"`
	MaskExtensions []string `json:"mask_extensions"`
	OutputName     string   `json:"output_name"`
	FramePattern   string   `json:"frame_pattern"`
	Backend        string   `json:"backend"` // native, opencv
	OpenSize       int      `json:"open_size"`
	MedianSize     int      `json:"median_size"`
	Annotate       bool     `json:"annotate"`
	MarkerRadius   int      `json:"marker_radius"`
	FontPath       string   `json:"font_path"`
	WatchDebounce  string   `json:"watch_debounce"`
}

// CameraPath holds the render settings written into camera path documents.
type CameraPath struct {
	DefaultFOV    float64 `json:"default_fov"`
	TransitionSec float64 `json:"transition_sec"`
	RenderWidth   float64 `json:"render_width"`
	RenderHeight  float64 `json:"render_height"`
	FPS           float64 `json:"fps"`
	Seconds       float64 `json:"seconds"`
	Aspect        float64 `json:"aspect"`
	CameraType    string  `json:"camera_type"`
	OutputName    string  `json:"output_name"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `json:"addr"`
}

// Path returns the config file location after env and ~ expansion.
func Path() (string, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return expandUser(configPath)
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := Default()

	expanded, err := Path()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput: "",
			DatabasePath: filepath.Join(os.TempDir(), "nerfmark.db"),
		},
		Barycentre: Barycentre{
			MinArea:        500,
			ImageName:      "segmented_image.jpg",
			MaskPrefix:     "mask_",
			MaskExtensions: []string{".png"},
			OutputName:     results.DefaultFileName,
			FramePattern:   "frame_%05d.jpg",
			Backend:        BackendNative,
			OpenSize:       3,
			MedianSize:     5,
			MarkerRadius:   5,
			WatchDebounce:  "2s",
		},
		CameraPath: CameraPath{
			DefaultFOV:    25,
			TransitionSec: 2,
			RenderWidth:   6048,
			RenderHeight:  4024,
			FPS:           30,
			Seconds:       10,
			Aspect:        0.6653439153439153,
			CameraType:    "perspective",
			OutputName:    camerapath.DefaultOutputName,
		},
		Server: Server{Addr: ":8080"},
	}
}

// Validate rejects values the commands cannot work with.
func (c *Config) Validate() error {
	var problems []string
	if c.Processing.ParallelJobs < 1 {
		problems = append(problems, "processing.parallel_jobs must be at least 1")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	b := c.Barycentre
	if b.MinArea < 0 {
		problems = append(problems, "barycentre.min_area must not be negative")
	}
	if b.ImageName == "" {
		problems = append(problems, "barycentre.image_name is empty")
	}
	if len(b.MaskExtensions) == 0 {
		problems = append(problems, "barycentre.mask_extensions is empty")
	}
	if b.OutputName == "" || filepath.Base(b.OutputName) != b.OutputName {
		problems = append(problems, "barycentre.output_name must be a plain file name")
	}
	if strings.Count(b.FramePattern, "%") != 1 || !strings.Contains(b.FramePattern, "d") {
		problems = append(problems, fmt.Sprintf("barycentre.frame_pattern %q needs exactly one integer verb", b.FramePattern))
	}
	if b.Backend != BackendNative && b.Backend != BackendOpenCV {
		problems = append(problems, fmt.Sprintf("barycentre.backend %q is not native or opencv", b.Backend))
	}
	if b.OpenSize < 0 || b.MedianSize < 0 || (b.MedianSize > 1 && b.MedianSize%2 == 0) {
		problems = append(problems, "barycentre.open_size/median_size must be positive and the median size odd")
	}
	if b.MarkerRadius < 0 {
		problems = append(problems, "barycentre.marker_radius must not be negative")
	}
	if _, err := c.WatchDebounce(); err != nil {
		problems = append(problems, err.Error())
	}
	cp := c.CameraPath
	if cp.DefaultFOV <= 0 || cp.FPS <= 0 || cp.Seconds <= 0 || cp.RenderWidth <= 0 || cp.RenderHeight <= 0 {
		problems = append(problems, "camera_path fov, fps, seconds and render size must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
