package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"nerfmark/internal/camerapath"
	"nerfmark/internal/config"
	"nerfmark/internal/storage"
	"nerfmark/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	store     *storage.Store
	cfg       *config.Config
	runFn     barycentreFunc
	scanFn    scanFunc
	convertFn convertFunc
	progress  func(Progress)
}

type barycentreFunc func(ctx context.Context, req tasks.BarycentreRequest) (tasks.BarycentreSummary, error)

type scanFunc func(parent string, settings config.Barycentre) (tasks.ScanResult, error)

type convertFunc func(xmlPath, dataparserPath, outPath string, s camerapath.Settings) (int, error)

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) *router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &router{
		log:       logger,
		store:     store,
		cfg:       cfg,
		runFn:     tasks.RunBarycentres,
		scanFn:    tasks.Scan,
		convertFn: camerapath.Convert,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobBarycentre:
		return r.handleBarycentre(ctx, job)
	case JobCampath:
		return r.handleCampath(ctx, job)
	case JobScan:
		return r.handleScan(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// barycentreSettings applies per-job overrides to the configured defaults.
func (r *router) barycentreSettings(opts map[string]any) config.Barycentre {
	s := r.cfg.Barycentre
	s.MaskExtensions = append([]string(nil), s.MaskExtensions...)
	// an explicit zero keeps every region
	if v, ok := lookupFloat64Option(opts, "minArea"); ok {
		s.MinArea = v
	}
	if v, ok := opts["annotate"].(bool); ok {
		s.Annotate = v
	}
	if v, ok := opts["backend"].(string); ok && v != "" {
		s.Backend = v
	}
	if v, ok := opts["imageName"].(string); ok && v != "" {
		s.ImageName = v
	}
	if v, ok := opts["outputName"].(string); ok && v != "" {
		s.OutputName = v
	}
	return s
}

func (r *router) handleBarycentre(ctx context.Context, job Job) Result {
	settings := r.barycentreSettings(job.Options)
	parallel := r.cfg.Processing.ParallelJobs
	if v := getIntOption(job.Options, "parallel"); v > 0 {
		parallel = v
	}

	req := tasks.BarycentreRequest{
		Parent:   job.InputPath,
		Settings: settings,
		Parallel: parallel,
		Logger:   r.log.With("job", job.ID),
		DryRun:   getBoolOption(job.Options, "dryRun"),
		OnFrame: func(fr tasks.FrameResult) {
			r.recordFrame(job.ID, fr)
		},
	}
	summary, err := r.runFn(ctx, req)
	meta := summary.Meta()
	if summary.Output == "" {
		meta["output"] = filepath.Join(job.InputPath, settings.OutputName)
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) recordFrame(jobID string, fr tasks.FrameResult) {
	rec := storage.FrameRecord{
		JobID:    jobID,
		Frame:    fr.Name,
		Dir:      fr.Dir,
		Masks:    fr.Masks,
		Points:   len(fr.Points),
		Failures: len(fr.Failures),
		InTable:  fr.InTable,
	}
	if fr.Err != nil {
		rec.Error = fr.Err.Error()
	}
	points := make([]storage.CentroidRecord, 0, len(fr.Points))
	pointMeta := make(map[string]any, len(fr.Points))
	for _, p := range fr.Points {
		points = append(points, storage.CentroidRecord{
			Frame:     fr.Name,
			Mask:      p.Mask,
			X:         p.Result.Point.X,
			Y:         p.Result.Point.Y,
			RawX:      p.Result.Raw.X,
			RawY:      p.Result.Raw.Y,
			Corrected: p.Result.Corrected,
			Area:      p.Result.Area,
		})
		pointMeta[p.Mask] = []int{p.Result.Point.X, p.Result.Point.Y}
	}
	if r.store != nil {
		if err := r.store.RecordFrame(rec, points); err != nil {
			r.log.Warn("failed to persist frame", "job", jobID, "frame", fr.Name, "error", err)
		}
	}
	if r.progress != nil {
		r.progress(Progress{JobID: jobID, Frame: fr.Name, Dir: fr.Dir, Points: pointMeta, Error: rec.Error})
	}
}

func (r *router) handleCampath(ctx context.Context, job Job) Result {
	dataparser, _ := job.Options["dataparser"].(string)
	if dataparser == "" {
		return Result{Job: job, Error: fmt.Errorf("%w: campath job needs a dataparser json", tasks.ErrConfiguration)}
	}
	out := job.Output
	if out == "" {
		out = r.cfg.CameraPath.OutputName
	}
	if err := ctx.Err(); err != nil {
		return Result{Job: job, Error: err}
	}
	cp := r.cfg.CameraPath
	settings := camerapath.Settings{
		FOV:           cp.DefaultFOV,
		TransitionSec: cp.TransitionSec,
		CameraType:    cp.CameraType,
		RenderWidth:   cp.RenderWidth,
		RenderHeight:  cp.RenderHeight,
		FPS:           cp.FPS,
		Seconds:       cp.Seconds,
		Aspect:        cp.Aspect,
	}
	n, err := r.convertFn(job.InputPath, dataparser, out, settings)
	return Result{Job: job, Error: err, Meta: map[string]any{"output": out, "cameras": n}}
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	summary, err := r.scanFn(job.InputPath, r.barycentreSettings(job.Options))
	meta := summary.Meta()
	if err == nil {
		frames := make([]map[string]any, 0, len(summary.Frames))
		for _, f := range summary.Frames {
			frames = append(frames, map[string]any{"name": f.Name, "dir": f.Dir, "masks": f.Masks})
		}
		meta["frame_list"] = frames
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func getBoolOption(options map[string]any, key string) bool {
	v, _ := options[key].(bool)
	return v
}

func getFloat64Option(options map[string]any, key string) float64 {
	v, _ := lookupFloat64Option(options, key)
	return v
}

// lookupFloat64Option accepts the numeric types produced by CLI flags and JSON.
// ok is false when key is absent or not a number.
func lookupFloat64Option(options map[string]any, key string) (float64, bool) {
	switch v := options[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func getIntOption(options map[string]any, key string) int {
	return int(getFloat64Option(options, key))
}
