package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

// Marker is the resume file: the sections already generated successfully
// into an output directory.
type Marker struct {
	Document  string        `yaml:"document"`
	UpdatedAt time.Time     `yaml:"updated_at"`
	Completed []MarkerEntry `yaml:"completed"`
}

// MarkerEntry records one completed section.
type MarkerEntry struct {
	Index         int    `yaml:"index"`
	Title         string `yaml:"title"`
	HierarchyPath string `yaml:"hierarchy_path"`
	Artifact      string `yaml:"artifact"`
}

// LoadMarker reads a resume marker. A missing file yields an empty marker.
func LoadMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Marker{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume marker: %w", err)
	}
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode resume marker %s: %w", path, err)
	}
	return &m, nil
}

func (m *Marker) save(path string) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode resume marker: %w", err)
	}
	return writeFileAtomic(path, data)
}

// add records e, replacing an older entry with the same key.
func (m *Marker) add(e MarkerEntry) {
	key := doctree.NewKey(e.Title, e.HierarchyPath)
	for i, old := range m.Completed {
		if doctree.NewKey(old.Title, old.HierarchyPath) == key {
			m.Completed[i] = e
			return
		}
	}
	m.Completed = append(m.Completed, e)
}

// remove drops the entry recorded for e's key.
func (m *Marker) remove(e MarkerEntry) {
	key := doctree.NewKey(e.Title, e.HierarchyPath)
	m.Completed = slices.DeleteFunc(m.Completed, func(old MarkerEntry) bool {
		return doctree.NewKey(old.Title, old.HierarchyPath) == key
	})
}

// scanCompleted reads the headers of every artifact with extension ext in
// dir and returns the keys whose status is success. Files without a
// readable header are ignored.
func scanCompleted(dir, ext string) (map[doctree.Key]bool, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "section_*"+ext))
	if err != nil {
		return nil, err
	}
	done := make(map[doctree.Key]bool, len(matches))
	for _, path := range matches {
		h, err := ReadHeader(path)
		if err != nil {
			continue
		}
		if h.Status == StatusSuccess {
			done[h.Key()] = true
		}
	}
	return done, nil
}
