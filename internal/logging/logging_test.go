package logging

import (
	"bytes"
	"errors"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nerfmark/internal/config"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo)).With("job", "abc")

	logger.Debug("hidden")
	logger.Info("frame step", "frame", "frame_00001.jpg", "masks", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record should be filtered: %q", out)
	}
	if !strings.Contains(out, "[INFO] frame step [job=abc frame=frame_00001.jpg masks=3]") {
		t.Fatalf("unexpected line: %q", out)
	}
}

func TestTraditionalHandlerGroup(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewTraditionalHandler(&buf, slog.LevelDebug)).WithGroup("scan").Debug("listed", "frames", 2)
	if !strings.Contains(buf.String(), "[DEBUG] listed [scan.frames=2]") {
		t.Fatalf("unexpected line: %q", buf.String())
	}
}

func TestHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelDebug))

	LogJobStart(logger, "barycentre", "job-1", "/in", "/in/out.json", nil)
	LogFrameStep(logger, "frame_00001.jpg", "/in/a", "done", map[string]any{"points": 2})
	LogCorrection(logger, "frame_00001.jpg", "mask_0.png", image.Pt(50, 59), image.Pt(20, 80))
	LogJobError(logger, "barycentre", "job-1", time.Second, errors.New("boom"), nil)
	LogJobComplete(logger, "barycentre", "job-1", time.Second, nil)

	out := buf.String()
	for _, want := range []string{
		"[INFO] job started",
		"[INFO] frame step",
		"[WARN] centroid outside mask, corrected",
		"raw=(50, 59)",
		"[ERROR] job failed",
		"error=boom",
		"[INFO] job completed successfully",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestSetupWritesDatedFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := config.Default()
	cfg.Logging.FileOutput = true
	cfg.Logging.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Level = "debug"

	logger, closer, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Info("hello file")
	closer.Close()

	name := filepath.Join(cfg.Logging.LogDir, "nerfmark-"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "[INFO] hello file") {
		t.Fatalf("log file missing record: %q", data)
	}
}
