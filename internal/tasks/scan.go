package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"nerfmark/internal/config"
	"nerfmark/internal/fsutil"
)

// ScanResult describes what a barycentre run over a parent folder would see.
type ScanResult struct {
	Parent  string
	Frames  []ScanFrame
	Skipped []string
	Masks   int
}

// ScanFrame is one qualifying frame directory.
type ScanFrame struct {
	Name  string // name the frame would be given
	Dir   string
	Masks int
}

// Scan lists frame directories and their mask counts without decoding
// anything. Subdirectories without the source image are reported as skipped.
func Scan(parent string, settings config.Barycentre) (ScanResult, error) {
	if !fsutil.IsDir(parent) {
		return ScanResult{}, fmt.Errorf("%w: parent folder %s does not exist", ErrConfiguration, parent)
	}
	dirs, err := fsutil.ListFrameDirs(parent, settings.ImageName)
	if err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{Parent: parent}
	qualifying := make(map[string]bool, len(dirs))
	for i, d := range dirs {
		qualifying[d.Name] = true
		masks, err := fsutil.ListMasks(d.Path, settings.MaskPrefix, settings.MaskExtensions)
		if err != nil {
			return ScanResult{}, err
		}
		res.Frames = append(res.Frames, ScanFrame{
			Name:  fmt.Sprintf(settings.FramePattern, i+1),
			Dir:   d.Path,
			Masks: len(masks),
		})
		res.Masks += len(masks)
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		return ScanResult{}, err
	}
	for _, e := range entries {
		if e.IsDir() && !qualifying[e.Name()] {
			res.Skipped = append(res.Skipped, filepath.Join(parent, e.Name()))
		}
	}
	sort.Strings(res.Skipped)
	return res, nil
}

// Meta flattens the scan for job results.
func (s ScanResult) Meta() map[string]any {
	return map[string]any{
		"parent":  s.Parent,
		"frames":  len(s.Frames),
		"masks":   s.Masks,
		"skipped": len(s.Skipped),
	}
}
