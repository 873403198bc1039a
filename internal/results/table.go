// Package results holds the frame -> mask -> point table written next to the
// input frames.
package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultFileName is the table written into the parent folder.
const DefaultFileName = "barycentres_general.json"

// Point serializes as a two element [x, y] array.
type Point struct {
	X int
	Y int
}

// FromImagePoint converts an image.Point.
func FromImagePoint(p image.Point) Point { return Point{X: p.X, Y: p.Y} }

// MarshalJSON implements json.Marshaler.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.X, p.Y})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Point) UnmarshalJSON(b []byte) error {
	var xy []int
	if err := json.Unmarshal(b, &xy); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if len(xy) != 2 {
		return fmt.Errorf("point: want [x, y], got %d values", len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// Table maps frame name to mask name to point. It is safe for concurrent use.
type Table struct {
	mu     sync.Mutex
	frames map[string]map[string]Point
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{frames: make(map[string]map[string]Point)}
}

// EnsureFrame registers frame so it is serialized even without points.
func (t *Table) EnsureFrame(frame string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.frames[frame]; !ok {
		t.frames[frame] = make(map[string]Point)
	}
}

// Add records a point. A second point for the same (frame, mask) is rejected.
func (t *Table) Add(frame, mask string, p Point) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	masks, ok := t.frames[frame]
	if !ok {
		masks = make(map[string]Point)
		t.frames[frame] = masks
	}
	if _, dup := masks[mask]; dup {
		return fmt.Errorf("duplicate point for %s/%s", frame, mask)
	}
	masks[mask] = p
	return nil
}

// Get returns the point stored for (frame, mask).
func (t *Table) Get(frame, mask string) (Point, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.frames[frame][mask]
	return p, ok
}

// Frames lists frame names in sorted order.
func (t *Table) Frames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.frames))
	for f := range t.frames {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Len counts stored points.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, m := range t.frames {
		n += len(m)
	}
	return n
}

// Snapshot returns a deep copy of the table contents.
func (t *Table) Snapshot() map[string]map[string]Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]map[string]Point, len(t.frames))
	for f, masks := range t.frames {
		cp := make(map[string]Point, len(masks))
		for k, v := range masks {
			cp[k] = v
		}
		out[f] = cp
	}
	return out
}

// MarshalJSON writes keys in sorted order with four space indentation.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	// encoding/json sorts map keys
	if err := enc.Encode(t.Snapshot()); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON replaces the table contents.
func (t *Table) UnmarshalJSON(b []byte) error {
	var frames map[string]map[string]Point
	if err := json.Unmarshal(b, &frames); err != nil {
		return err
	}
	if frames == nil {
		frames = make(map[string]map[string]Point)
	}
	for f, m := range frames {
		if m == nil {
			frames[f] = make(map[string]Point)
		}
	}
	t.mu.Lock()
	t.frames = frames
	t.mu.Unlock()
	return nil
}

// WriteFile stores the table at path through a temporary file and rename so
// readers never observe a partial document.
func (t *Table) WriteFile(path string) error {
	data, err := t.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp results: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close results: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish results: %w", err)
	}
	return nil
}

// Load reads a table previously written by WriteFile.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := NewTable()
	if err := t.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}
