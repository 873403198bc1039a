package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nerfmark/internal/config"
	"nerfmark/internal/pipeline"
	"nerfmark/internal/storage"
	"nerfmark/internal/tasks"
)

func TestCommandsSubmitJobs(t *testing.T) {
	parent := t.TempDir()
	xml := filepath.Join(parent, "cameras.xml")

	cases := []struct {
		name       string
		args       []string
		expectType pipeline.JobType
		check      func(t *testing.T, job pipeline.Job)
	}{
		{"barycentre", []string{"barycentre", "--parent-folder", parent}, pipeline.JobBarycentre, func(t *testing.T, job pipeline.Job) {
			if job.InputPath != parent {
				t.Fatalf("expected input %s, got %s", parent, job.InputPath)
			}
			if _, ok := job.Options["annotate"]; ok {
				t.Fatalf("annotate should be left to the config when the flag is not given")
			}
			if _, ok := job.Options["minArea"]; ok {
				t.Fatalf("minArea should be left to the config when the flag is not given")
			}
		}},
		{"barycentre zero min area", []string{"barycentre", "--parent-folder", parent, "--min-area", "0"}, pipeline.JobBarycentre, func(t *testing.T, job pipeline.Job) {
			if v, ok := job.Options["minArea"]; !ok || v != 0.0 {
				t.Fatalf("explicit --min-area 0 not passed on: %+v", job.Options)
			}
		}},
		{"barycentre flags", []string{"barycentre", "--parent-folder", parent, "--min-area", "250", "--parallel", "3", "--annotate", "--backend", "opencv", "--dry-run"}, pipeline.JobBarycentre, func(t *testing.T, job pipeline.Job) {
			o := job.Options
			if o["minArea"] != 250.0 || o["parallel"] != 3 || o["annotate"] != true || o["backend"] != "opencv" || o["dryRun"] != true {
				t.Fatalf("unexpected options %+v", o)
			}
		}},
		{"campath", []string{"campath", xml, "dp.json", "-o", "path.json"}, pipeline.JobCampath, func(t *testing.T, job pipeline.Job) {
			if job.InputPath != xml || job.Output != "path.json" || job.Options["dataparser"] != "dp.json" {
				t.Fatalf("unexpected campath job %+v", job)
			}
		}},
		{"campath default output", []string{"campath", xml, "dp.json"}, pipeline.JobCampath, func(t *testing.T, job pipeline.Job) {
			if job.Output != "output_camera_path.json" {
				t.Fatalf("expected configured output name, got %q", job.Output)
			}
		}},
		{"scan", []string{"scan", parent, "--image-name", "rgb.png"}, pipeline.JobScan, func(t *testing.T, job pipeline.Job) {
			if job.Options["imageName"] != "rgb.png" {
				t.Fatalf("unexpected options %+v", job.Options)
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, fakePipe, _ := newTestRoot(t)
			if err := execute(root, tc.args...); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			jobs := fakePipe.submitted()
			if len(jobs) != 1 {
				t.Fatalf("expected one job, got %d", len(jobs))
			}
			if jobs[0].Type != tc.expectType {
				t.Fatalf("expected type %s, got %s", tc.expectType, jobs[0].Type)
			}
			if !strings.HasPrefix(jobs[0].ID, string(tc.expectType)+"-") {
				t.Fatalf("unexpected job id %q", jobs[0].ID)
			}
			tc.check(t, jobs[0])
		})
	}
}

func TestCommandsValidateArguments(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"barycentre without parent", []string{"barycentre"}},
		{"campath missing dataparser", []string{"campath", "cameras.xml"}},
		{"scan without folder", []string{"scan"}},
		{"unknown command", []string{"stack"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, fakePipe, _ := newTestRoot(t)
			if err := execute(root, tc.args...); err == nil {
				t.Fatalf("expected error for %v", tc.args)
			}
			if n := len(fakePipe.submitted()); n != 0 {
				t.Fatalf("expected no jobs, got %d", n)
			}
		})
	}
}

func TestBarycentreMissingParentIsConfigurationError(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	missing := filepath.Join(t.TempDir(), "nope")
	err := execute(root, "barycentre", "--parent-folder", missing)
	if !errors.Is(err, tasks.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if !strings.Contains(err.Error(), missing) {
		t.Fatalf("error should name the folder: %v", err)
	}
	if ExitCode(err) != 2 {
		t.Fatalf("expected exit code 2, got %d", ExitCode(err))
	}
	if len(fakePipe.submitted()) != 0 {
		t.Fatalf("no job should be queued")
	}
}

func TestBarycentreFallsBackToDefaultInput(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	parent := t.TempDir()
	root.cfg.Paths.DefaultInput = parent

	if err := execute(root, "barycentre"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	jobs := fakePipe.submitted()
	if len(jobs) != 1 || jobs[0].InputPath != parent {
		t.Fatalf("expected a job on %s, got %+v", parent, jobs)
	}

	root.cfg.Paths.DefaultInput = ""
	err := execute(root, "barycentre")
	if !errors.Is(err, tasks.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration without any parent folder, got %v", err)
	}
}

func TestBarycentrePrintsSummary(t *testing.T) {
	root, fakePipe, out := newTestRoot(t)
	fakePipe.meta[pipeline.JobBarycentre] = map[string]any{"output": "/in/barycentres_general.json", "frames": 2, "points": 3}

	if err := execute(root, "barycentre", "--parent-folder", t.TempDir()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Barycentres written to /in/barycentres_general.json", "frames: 2", "points: 3"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
}

func TestEnqueueAndWaitReturnsJobError(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	fakePipe.jobErrors["err-job"] = context.DeadlineExceeded
	job := pipeline.Job{ID: "err-job", Type: pipeline.JobScan}
	if _, err := root.enqueueAndWait(context.Background(), job); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected error from pipeline result, got %v", err)
	}
	if ExitCode(errors.New("boom")) != 1 || ExitCode(nil) != 0 {
		t.Fatalf("unexpected exit codes")
	}
}

func TestEnqueueAndWaitHonoursCancelledContext(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := root.enqueueAndWait(ctx, pipeline.Job{ID: "x", Type: pipeline.JobScan}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fakePipe.submitted()) != 0 {
		t.Fatalf("cancelled context must not submit")
	}
}

func TestServeUsesConfiguredAddress(t *testing.T) {
	root, _, _ := newTestRoot(t)
	var gotAddr string
	root.serveFn = func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
		gotAddr = addr
		return nil
	}
	if err := execute(root, "serve"); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if gotAddr != ":8080" {
		t.Fatalf("expected default address, got %q", gotAddr)
	}
	if err := execute(root, "serve", "--addr", "127.0.0.1:9999"); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if gotAddr != "127.0.0.1:9999" {
		t.Fatalf("flag not applied, got %q", gotAddr)
	}
}

func TestConfigAndVersion(t *testing.T) {
	t.Setenv(config.EnvVar, filepath.Join(t.TempDir(), "config.json"))
	root, _, out := newTestRoot(t)
	if err := execute(root, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), `"min_area": 500`) {
		t.Fatalf("config show output missing defaults: %s", out.String())
	}

	out.Reset()
	if err := execute(root, "config", "validate"); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out.String(), "configuration OK") {
		t.Fatalf("unexpected validate output %q", out.String())
	}

	root.cfg.Barycentre.Backend = "magic"
	if err := execute(root, "config", "validate"); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	out.Reset()
	if err := execute(root, "version"); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != "nerfmark "+Version {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestWatchRerunsAfterChange(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	root.cfg.Barycentre.WatchDebounce = "50ms"
	parent := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fakePipe.onSubmit = func(n int) {
		switch n {
		case 1:
			if err := os.Mkdir(filepath.Join(parent, "frame_new"), 0o755); err != nil {
				t.Errorf("mkdir: %v", err)
			}
		case 2:
			cancel()
		}
	}

	if err := executeContext(ctx, root, "watch", "--parent-folder", parent); err != nil {
		t.Fatalf("watch: %v", err)
	}
	jobs := fakePipe.submitted()
	if len(jobs) != 2 {
		t.Fatalf("expected an initial run and one re-run, got %d jobs", len(jobs))
	}
	if jobs[0].ID == jobs[1].ID || jobs[1].Type != pipeline.JobBarycentre {
		t.Fatalf("re-run should be a fresh barycentre job: %+v", jobs)
	}
}

func execute(root *Root, args ...string) error {
	return executeContext(context.Background(), root, args...)
}

func executeContext(ctx context.Context, root *Root, args ...string) error {
	cmd := newRootCmd(root)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(ctx)
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline, *bytes.Buffer) {
	t.Helper()
	fake := newFakePipeline()
	root := newRoot(fake, config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	out := &bytes.Buffer{}
	root.out = out
	return root, fake, out
}

type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      map[int]chan pipeline.Result
	nextSubID int
	jobErrors map[string]error
	meta      map[pipeline.JobType]map[string]any
	onSubmit  func(n int)
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		subs:      make(map[int]chan pipeline.Result),
		jobErrors: make(map[string]error),
		meta:      make(map[pipeline.JobType]map[string]any),
	}
}

func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	n := len(f.jobs)
	res := pipeline.Result{Job: job, Error: f.jobErrors[job.ID], Meta: f.meta[job.Type]}
	if res.Meta == nil {
		res.Meta = map[string]any{"ok": true}
	}
	hook := f.onSubmit
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	go func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, ch := range f.subs {
			select {
			case ch <- res:
			default:
			}
		}
	}()
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan pipeline.Result, 4)
	f.subs[id] = ch
	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
	return ch, unsub
}

func (f *fakePipeline) submitted() []pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Job(nil), f.jobs...)
}
