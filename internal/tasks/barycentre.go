package tasks

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"nerfmark/internal/annotate"
	"nerfmark/internal/barycentre"
	"nerfmark/internal/barycentre/cvextract"
	"nerfmark/internal/config"
	"nerfmark/internal/fsutil"
	"nerfmark/internal/logging"
	"nerfmark/internal/results"
)

// ErrConfiguration reports a caller mistake such as a missing parent folder.
var ErrConfiguration = errors.New("configuration error")

// BarycentreRequest describes one batch over a parent folder.
type BarycentreRequest struct {
	Parent   string
	Settings config.Barycentre
	Parallel int
	// Extractor defaults to the backend named in Settings.
	Extractor barycentre.Extractor
	Logger    *slog.Logger
	// OnFrame, when set, receives every finished frame. It may be called
	// concurrently.
	OnFrame func(FrameResult)
	// DryRun skips writing the table.
	DryRun bool
}

// MaskPoint is the point kept for one mask file.
type MaskPoint struct {
	Mask   string
	Result barycentre.Result
}

// MaskFailure records a mask that could not be processed.
type MaskFailure struct {
	Mask string
	Err  error
}

// FrameResult is the outcome of one frame directory.
type FrameResult struct {
	Name      string
	Dir       string
	Masks     int
	Points    []MaskPoint
	NotFound  []string
	Failures  []MaskFailure
	Annotated string
	// InTable is set once the frame has an entry in the result table, which
	// stays even when a later step fails.
	InTable bool
	Err     error
}

// BarycentreSummary totals a batch.
type BarycentreSummary struct {
	Output      string
	Frames      int
	FailedFrame int
	Masks       int
	Points      int
	Corrections int
	NotFound    int
	Failures    int
	Table       *results.Table
}

// Meta flattens the summary for job results and logs.
func (s BarycentreSummary) Meta() map[string]any {
	return map[string]any{
		"output":        s.Output,
		"frames":        s.Frames,
		"failed_frames": s.FailedFrame,
		"masks":         s.Masks,
		"points":        s.Points,
		"corrections":   s.Corrections,
		"not_found":     s.NotFound,
		"failures":      s.Failures,
	}
}

// NewExtractor builds the extractor named by settings.Backend.
func NewExtractor(settings config.Barycentre) (barycentre.Extractor, error) {
	opts := barycentre.Options{
		MinArea:    settings.MinArea,
		OpenSize:   settings.OpenSize,
		MedianSize: settings.MedianSize,
	}
	switch settings.Backend {
	case "", config.BackendNative:
		return barycentre.NativeExtractor{Options: opts}, nil
	case config.BackendOpenCV:
		e, err := cvextract.New(opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrConfiguration, settings.Backend)
	}
}

// RunBarycentres extracts one point per mask for every frame directory under
// req.Parent and writes the result table into the parent folder. Failures of
// single masks or frames are reported in the summary and never abort the batch.
func RunBarycentres(ctx context.Context, req BarycentreRequest) (BarycentreSummary, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}
	if req.Parent == "" {
		return BarycentreSummary{}, fmt.Errorf("%w: parent folder not set", ErrConfiguration)
	}
	if !fsutil.IsDir(req.Parent) {
		return BarycentreSummary{}, fmt.Errorf("%w: parent folder %s does not exist", ErrConfiguration, req.Parent)
	}
	if req.Extractor == nil {
		e, err := NewExtractor(req.Settings)
		if err != nil {
			return BarycentreSummary{}, err
		}
		req.Extractor = e
	}

	dirs, err := fsutil.ListFrameDirs(req.Parent, req.Settings.ImageName)
	if err != nil {
		return BarycentreSummary{}, fmt.Errorf("list frames: %w", err)
	}

	tbl := results.NewTable()
	summary := BarycentreSummary{
		Output: filepath.Join(req.Parent, req.Settings.OutputName),
		Table:  tbl,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(req.Parallel, 1))

	// Names are fixed before dispatch so parallelism never changes numbering.
	for i, d := range dirs {
		name := fmt.Sprintf(req.Settings.FramePattern, i+1)
		if gctx.Err() != nil {
			break
		}
		d := d
		g.Go(func() error {
			fr := ProcessFrame(gctx, req, name, d, tbl)

			mu.Lock()
			summary.Frames++
			summary.Masks += fr.Masks
			summary.Points += len(fr.Points)
			summary.NotFound += len(fr.NotFound)
			summary.Failures += len(fr.Failures)
			for _, p := range fr.Points {
				if p.Result.Corrected {
					summary.Corrections++
				}
			}
			if fr.Err != nil {
				summary.FailedFrame++
			}
			mu.Unlock()

			if fr.Err != nil {
				log.Warn("frame skipped", "frame", name, "dir", d.Path, "error", fr.Err)
			} else {
				logging.LogFrameStep(log, name, d.Path, "done", map[string]any{
					"masks":     fr.Masks,
					"points":    len(fr.Points),
					"not_found": len(fr.NotFound),
					"failures":  len(fr.Failures),
				})
			}
			if req.OnFrame != nil {
				req.OnFrame(fr)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if !req.DryRun {
		if err := tbl.WriteFile(summary.Output); err != nil {
			return summary, err
		}
		log.Info("barycentres written", "path", summary.Output, "frames", summary.Frames, "points", summary.Points)
	}
	return summary, nil
}

// ProcessFrame extracts every mask in one frame directory and records the
// points in tbl under name. A frame with no masks or an undecodable source
// image fails with barycentre.ErrInvalidInput and is left out of tbl; per-mask
// errors are collected.
func ProcessFrame(ctx context.Context, req BarycentreRequest, name string, dir fsutil.FrameDir, tbl *results.Table) FrameResult {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}
	fr := FrameResult{Name: name, Dir: dir.Path}

	masks, err := fsutil.ListMasks(dir.Path, req.Settings.MaskPrefix, req.Settings.MaskExtensions)
	if err != nil {
		fr.Err = err
		return fr
	}
	if len(masks) == 0 {
		fr.Err = fmt.Errorf("%w: no %s* masks in %s", barycentre.ErrInvalidInput, req.Settings.MaskPrefix, dir.Path)
		return fr
	}
	src, err := fsutil.OpenImage(dir.Image)
	if err != nil {
		fr.Err = fmt.Errorf("%w: source image: %v", barycentre.ErrInvalidInput, err)
		return fr
	}
	fr.Masks = len(masks)
	tbl.EnsureFrame(name)
	fr.InTable = true

	var markers []annotate.Marker
	for _, m := range masks {
		if err := ctx.Err(); err != nil {
			fr.Err = err
			return fr
		}
		img, err := fsutil.OpenImage(filepath.Join(dir.Path, m))
		if err != nil {
			fr.Failures = append(fr.Failures, MaskFailure{Mask: m, Err: fmt.Errorf("%w: %v", barycentre.ErrInvalidInput, err)})
			log.Warn("mask unreadable", "frame", name, "mask", m, "error", err)
			continue
		}
		res, found, err := req.Extractor.ExtractImage(img)
		if err != nil {
			fr.Failures = append(fr.Failures, MaskFailure{Mask: m, Err: err})
			log.Warn("mask rejected", "frame", name, "mask", m, "error", err)
			continue
		}
		if !found {
			fr.NotFound = append(fr.NotFound, m)
			log.Debug("no region above minimum area", "frame", name, "mask", m, "min_area", req.Settings.MinArea)
			continue
		}
		if res.Corrected {
			logging.LogCorrection(log, name, m, res.Raw, res.Point)
		}
		if err := tbl.Add(name, m, results.FromImagePoint(res.Point)); err != nil {
			fr.Failures = append(fr.Failures, MaskFailure{Mask: m, Err: err})
			continue
		}
		fr.Points = append(fr.Points, MaskPoint{Mask: m, Result: res})
		markers = append(markers, annotate.Marker{Point: res.Point, Label: m, Corrected: res.Corrected})
	}

	if req.Settings.Annotate && !req.DryRun && len(markers) > 0 {
		out, err := annotateFrame(req.Settings, dir.Image, src, markers)
		if err != nil {
			log.Warn("annotation failed", "frame", name, "error", err)
		} else {
			fr.Annotated = out
		}
	}
	return fr
}

func annotateFrame(settings config.Barycentre, src string, img image.Image, markers []annotate.Marker) (string, error) {
	a, err := annotate.New(settings.MarkerRadius, settings.FontPath, 0)
	if err != nil {
		return "", err
	}
	defer a.Close()

	out := filepath.Join(filepath.Dir(src), annotate.DefaultFileName)
	if err := annotate.SaveJPEG(out, a.Draw(img, markers), 90); err != nil {
		return "", err
	}
	return out, nil
}
