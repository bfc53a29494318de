// Package store persists section results: one artifact file per section,
// an aggregate file in document order, a resume marker and the final report.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

// Options locates a store's files. Relative names resolve inside Dir.
type Options struct {
	Dir       string
	Ext       string // Artifact extension, ".svg" or ".md"
	Aggregate string // Aggregate file name; empty disables it
	Report    string
	Resume    string
	Document  string
}

// Store is the result store for one output directory.
type Store struct {
	opts Options
	agg  *aggregator

	mu     sync.Mutex // guards marker
	marker *Marker
}

// Open creates the output directory and opens the aggregate file.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	opts = opts.withDefaults()

	marker, err := LoadMarker(opts.path(opts.Resume))
	if err != nil {
		return nil, err
	}
	marker.Document = opts.Document

	s := &Store{opts: opts, marker: marker}
	if opts.Aggregate != "" {
		agg, err := openAggregator(opts.path(opts.Aggregate))
		if err != nil {
			return nil, err
		}
		s.agg = agg
	}
	return s, nil
}

func (o Options) withDefaults() Options {
	if o.Report == "" {
		o.Report = "report.json"
	}
	if o.Resume == "" {
		o.Resume = "resume.yaml"
	}
	return o
}

// ReportPathFor is where a store opened with opts writes its report.
func ReportPathFor(opts Options) string {
	opts = opts.withDefaults()
	return opts.path(opts.Report)
}

func (o Options) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(o.Dir, name)
}

// ReportPath is where the final report is written.
func (s *Store) ReportPath() string { return s.opts.path(s.opts.Report) }

// Completed returns the resume keys of sections already generated
// successfully: those in the resume marker plus those whose artifact
// header says so.
func (s *Store) Completed() (map[doctree.Key]bool, error) {
	done, err := scanCompleted(s.opts.Dir, s.opts.Ext)
	if err != nil {
		return nil, fmt.Errorf("scan artifacts: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.marker.Completed {
		done[doctree.NewKey(e.Title, e.HierarchyPath)] = true
	}
	return done, nil
}

// Expect announces that the section at index has been dispatched. The
// aggregate file releases entries in the order sections were announced.
func (s *Store) Expect(index int) {
	if s.agg != nil {
		s.agg.expect(index)
	}
}

// Persist writes the section artifact atomically, queues it for the
// aggregate and, on success, records it in the resume marker. res.Path is
// set to the artifact path. If the marker cannot be saved the artifact is
// rewritten as a fallback, so a section never looks complete on disk while
// the run reports it failed. Safe for concurrent use.
func (s *Store) Persist(res *doctree.GenerationResult) error {
	name := ArtifactName(res.SectionIndex, res.Title, s.opts.Ext)
	path := filepath.Join(s.opts.Dir, name)

	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}
	if err := s.writeArtifact(path, *res); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	res.Path = path

	if s.agg != nil {
		s.agg.add(res.SectionIndex, aggregateEntry(*res))
	}
	if !res.Success {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := MarkerEntry{
		Index:         res.SectionIndex,
		Title:         res.Title,
		HierarchyPath: res.HierarchyPath,
		Artifact:      name,
	}
	s.marker.add(entry)
	if err := s.marker.save(s.opts.path(s.opts.Resume)); err != nil {
		s.marker.remove(entry)
		return s.demote(path, res, err)
	}
	return nil
}

func (s *Store) writeArtifact(path string, res doctree.GenerationResult) error {
	status := StatusSuccess
	if !res.Success {
		status = StatusFallback
	}
	data, err := encodeArtifact(Header{
		Index:         res.SectionIndex,
		Title:         res.Title,
		HierarchyPath: res.HierarchyPath,
		Status:        status,
		Attempts:      res.Attempts,
		GeneratedAt:   res.Timestamp.UTC().Format(time.RFC3339),
		Error:         res.ErrorMessage,
	}, res.Content, s.opts.Ext)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// demote marks res failed because of cause and rewrites its artifact with a
// fallback header. If even that fails the artifact is removed.
func (s *Store) demote(path string, res *doctree.GenerationResult, cause error) error {
	if !res.Success {
		return cause
	}
	res.Success = false
	res.ErrorMessage = fmt.Sprintf("persist: %v", cause)
	if err := s.writeArtifact(path, *res); err != nil {
		_ = os.Remove(path)
	}
	return cause
}

// WriteReport writes r as indented JSON.
func (s *Store) WriteReport(r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := writeFileAtomic(s.ReportPath(), append(data, '\n')); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Close flushes the aggregate file and rebuilds it from every artifact in
// the directory, so sections from earlier runs appear once and in order. A
// failed append during the run only matters if the rebuild fails too.
func (s *Store) Close() error {
	if s.agg == nil {
		return nil
	}
	liveErr := s.agg.close()
	if err := rebuildAggregate(s.opts.Dir, s.opts.Ext, s.opts.path(s.opts.Aggregate)); err != nil {
		return errors.Join(liveErr, err)
	}
	return nil
}
