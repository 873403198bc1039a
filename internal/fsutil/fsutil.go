package fsutil

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/up-zero/gotool/imageutil"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
	".webp": {},
}

// FrameDir is one frame subdirectory of a parent folder.
type FrameDir struct {
	Name  string
	Path  string
	Image string
}

// ListFrameDirs returns the subdirectories of parent that hold imageName, in
// sorted name order.
func ListFrameDirs(parent, imageName string) ([]FrameDir, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, err
	}
	var dirs []FrameDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(parent, e.Name())
		img := filepath.Join(dir, imageName)
		if st, err := os.Stat(img); err != nil || st.IsDir() {
			continue
		}
		dirs = append(dirs, FrameDir{Name: e.Name(), Path: dir, Image: img})
	}
	// os.ReadDir already sorts; keep the guarantee explicit for callers
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	return dirs, nil
}

// ListMasks returns files in dir whose name starts with prefix and ends with
// one of exts (case-insensitive), sorted by name.
func ListMasks(dir, prefix string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if hasExt(e.Name(), exts) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// OpenImage decodes path. PNG, JPEG, TIFF, BMP and WebP are supported.
func OpenImage(path string) (image.Image, error) {
	img, err := imageutil.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// IsImageFile checks if a file has a decodable image extension.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isImage := imageExts[ext]
	return isImage
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
