package tasks

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nerfmark/internal/annotate"
	"nerfmark/internal/barycentre"
	"nerfmark/internal/config"
	"nerfmark/internal/results"
)

func writeMask(t *testing.T, path string, rects ...image.Rectangle) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	for _, r := range rects {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func writeSource(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, "segmented_image.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, image.NewRGBA(image.Rect(0, 0, 100, 100)), nil); err != nil {
		t.Fatal(err)
	}
}

var uShape = []image.Rectangle{image.Rect(10, 10, 20, 90), image.Rect(80, 10, 90, 90), image.Rect(20, 80, 80, 90)}

// buildParent lays out four frame directories and one directory without a
// source image.
func buildParent(t *testing.T) string {
	t.Helper()
	parent := t.TempDir()

	a := filepath.Join(parent, "a")
	writeSource(t, a)
	writeMask(t, filepath.Join(a, "mask_0.png"), image.Rect(10, 10, 40, 40))
	writeMask(t, filepath.Join(a, "mask_1.png"), image.Rect(70, 70, 75, 75))

	b := filepath.Join(parent, "b")
	writeSource(t, b)
	writeMask(t, filepath.Join(b, "mask_0.png"), uShape...)

	writeSource(t, filepath.Join(parent, "c"))

	d := filepath.Join(parent, "d")
	writeSource(t, d)
	if err := os.WriteFile(filepath.Join(d, "mask_0.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeMask(t, filepath.Join(d, "mask_1.png"), image.Rect(50, 50, 80, 80))

	if err := os.MkdirAll(filepath.Join(parent, "e"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeMask(t, filepath.Join(parent, "e", "mask_0.png"), image.Rect(10, 10, 40, 40))
	return parent
}

func request(parent string) BarycentreRequest {
	return BarycentreRequest{
		Parent:   parent,
		Settings: config.Default().Barycentre,
		Parallel: 3,
	}
}

func TestRunBarycentres(t *testing.T) {
	parent := buildParent(t)

	var mu sync.Mutex
	seen := map[string]FrameResult{}
	req := request(parent)
	req.OnFrame = func(fr FrameResult) {
		mu.Lock()
		seen[fr.Name] = fr
		mu.Unlock()
	}

	summary, err := RunBarycentres(context.Background(), req)
	if err != nil {
		t.Fatalf("RunBarycentres: %v", err)
	}
	if summary.Frames != 4 || summary.FailedFrame != 1 {
		t.Fatalf("unexpected frame counts: %+v", summary)
	}
	if summary.Points != 3 || summary.NotFound != 1 || summary.Failures != 1 || summary.Corrections != 1 {
		t.Fatalf("unexpected totals: %+v", summary)
	}

	u := barycentre.NewMask(100, 100)
	for _, r := range uShape {
		u.FillRect(r)
	}
	uPoint, found, err := barycentre.Extract(u, 500)
	if err != nil || !found {
		t.Fatalf("reference extraction failed: %v", err)
	}

	want := map[string]map[string]results.Point{
		"frame_00001.jpg": {"mask_0.png": {X: 25, Y: 25}},
		"frame_00002.jpg": {"mask_0.png": results.FromImagePoint(uPoint)},
		"frame_00004.jpg": {"mask_1.png": {X: 65, Y: 65}},
	}
	got, err := results.Load(filepath.Join(parent, "barycentres_general.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got.Snapshot()); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}

	if fr := seen["frame_00003.jpg"]; !errors.Is(fr.Err, barycentre.ErrInvalidInput) {
		t.Fatalf("frame without masks should fail with ErrInvalidInput, got %v", fr.Err)
	}
	if fr := seen["frame_00004.jpg"]; len(fr.Failures) != 1 || fr.Failures[0].Mask != "mask_0.png" {
		t.Fatalf("expected unreadable mask to be recorded, got %+v", fr.Failures)
	}
}

func TestRunBarycentresSkipsUndecodableSource(t *testing.T) {
	parent := buildParent(t)
	if err := os.WriteFile(filepath.Join(parent, "b", "segmented_image.jpg"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	seen := map[string]FrameResult{}
	req := request(parent)
	req.OnFrame = func(fr FrameResult) {
		mu.Lock()
		seen[fr.Name] = fr
		mu.Unlock()
	}
	summary, err := RunBarycentres(context.Background(), req)
	if err != nil {
		t.Fatalf("RunBarycentres: %v", err)
	}
	if summary.FailedFrame != 2 || summary.Points != 2 {
		t.Fatalf("unexpected totals: %+v", summary)
	}

	fr := seen["frame_00002.jpg"]
	if !errors.Is(fr.Err, barycentre.ErrInvalidInput) {
		t.Fatalf("undecodable source should fail with ErrInvalidInput, got %v", fr.Err)
	}
	if fr.InTable || len(fr.Points) != 0 {
		t.Fatalf("failed frame must not reach the table: %+v", fr)
	}

	got, err := results.Load(summary.Output)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := got.Snapshot()["frame_00002.jpg"]; ok {
		t.Fatalf("frame with undecodable source written to table")
	}
}

func TestFrameResultInTable(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	req := request(buildParent(t))
	req.DryRun = true
	req.OnFrame = func(fr FrameResult) {
		mu.Lock()
		seen[fr.Name] = fr.InTable
		mu.Unlock()
	}
	if _, err := RunBarycentres(context.Background(), req); err != nil {
		t.Fatalf("RunBarycentres: %v", err)
	}
	want := map[string]bool{
		"frame_00001.jpg": true,
		"frame_00002.jpg": true,
		"frame_00003.jpg": false,
		"frame_00004.jpg": true,
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("InTable mismatch (-want +got):\n%s", diff)
	}
}

func TestRunBarycentresIsDeterministicAcrossParallelism(t *testing.T) {
	parent := buildParent(t)
	var outputs [][]byte
	for _, n := range []int{1, 8} {
		req := request(parent)
		req.Parallel = n
		if _, err := RunBarycentres(context.Background(), req); err != nil {
			t.Fatalf("RunBarycentres(parallel=%d): %v", n, err)
		}
		data, err := os.ReadFile(filepath.Join(parent, "barycentres_general.json"))
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, data)
	}
	if string(outputs[0]) != string(outputs[1]) {
		t.Fatalf("output depends on parallelism:\n%s\n---\n%s", outputs[0], outputs[1])
	}
}

func TestRunBarycentresMissingParent(t *testing.T) {
	_, err := RunBarycentres(context.Background(), request(filepath.Join(t.TempDir(), "nope")))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	_, err = RunBarycentres(context.Background(), request(""))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty parent, got %v", err)
	}
}

func TestRunBarycentresAnnotates(t *testing.T) {
	parent := buildParent(t)
	req := request(parent)
	req.Settings.Annotate = true
	if _, err := RunBarycentres(context.Background(), req); err != nil {
		t.Fatalf("RunBarycentres: %v", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "a", annotate.DefaultFileName)); err != nil {
		t.Fatalf("expected annotated image: %v", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "c", annotate.DefaultFileName)); err == nil {
		t.Fatalf("frame without points must not be annotated")
	}
}

func TestRunBarycentresDryRun(t *testing.T) {
	parent := buildParent(t)
	req := request(parent)
	req.DryRun = true
	summary, err := RunBarycentres(context.Background(), req)
	if err != nil {
		t.Fatalf("RunBarycentres: %v", err)
	}
	if summary.Table.Len() != 3 {
		t.Fatalf("expected 3 points in memory, got %d", summary.Table.Len())
	}
	if _, err := os.Stat(summary.Output); !os.IsNotExist(err) {
		t.Fatalf("dry run must not write %s", summary.Output)
	}
}

func TestRunBarycentresCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunBarycentres(ctx, request(buildParent(t)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewExtractorBackends(t *testing.T) {
	settings := config.Default().Barycentre
	if _, err := NewExtractor(settings); err != nil {
		t.Fatalf("native backend: %v", err)
	}
	settings.Backend = "cuda"
	if _, err := NewExtractor(settings); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

type stubExtractor struct {
	mu    sync.Mutex
	calls int
}

func (s *stubExtractor) ExtractImage(image.Image) (barycentre.Result, bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return barycentre.Result{Point: image.Pt(1, 2), Raw: image.Pt(1, 2)}, true, nil
}

func TestRunBarycentresUsesInjectedExtractor(t *testing.T) {
	stub := &stubExtractor{}
	req := request(buildParent(t))
	req.Extractor = stub
	summary, err := RunBarycentres(context.Background(), req)
	if err != nil {
		t.Fatalf("RunBarycentres: %v", err)
	}
	// four decodable masks across frames a, b and d
	if stub.calls != 4 || summary.Points != 4 {
		t.Fatalf("expected 4 extractions, got calls=%d points=%d", stub.calls, summary.Points)
	}
}

func TestScan(t *testing.T) {
	parent := buildParent(t)
	res, err := Scan(parent, config.Default().Barycentre)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Frames) != 4 || res.Masks != 5 {
		t.Fatalf("unexpected scan: %+v", res)
	}
	if res.Frames[2].Name != "frame_00003.jpg" || res.Frames[2].Masks != 0 {
		t.Fatalf("unexpected third frame: %+v", res.Frames[2])
	}
	if len(res.Skipped) != 1 || filepath.Base(res.Skipped[0]) != "e" {
		t.Fatalf("unexpected skipped dirs: %v", res.Skipped)
	}
	if _, err := Scan(filepath.Join(parent, "missing"), config.Default().Barycentre); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestDebounceCoalescesBursts(t *testing.T) {
	events := make(chan FileSystemEvent)
	runs := make(chan struct{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		Debounce(ctx, events, 30*time.Millisecond, func(context.Context) { runs <- struct{}{} })
		close(done)
	}()

	for i := 0; i < 5; i++ {
		events <- FileSystemEvent{Path: "a/mask_0.png", Operation: "modified"}
	}
	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatalf("debounced run never happened")
	}
	select {
	case <-runs:
		t.Fatalf("burst should trigger a single run")
	case <-time.After(100 * time.Millisecond):
	}

	close(events)
	<-done
}
