package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"
	"time"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

// ErrNoReport is returned when a previous report is required but absent.
var ErrNoReport = errors.New("no previous report")

// Report is the machine-readable summary written at the end of a run.
type Report struct {
	RunID       string          `json:"run_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Document    string          `json:"source_document"`
	Kind        string          `json:"kind"`
	Interrupted bool            `json:"interrupted,omitempty"`
	Statistics  Statistics      `json:"statistics"`
	Sections    []ReportSection `json:"sections"`
}

// Statistics aggregates a run's results. Skipped counts sections left
// alone because an earlier run already completed them.
type Statistics struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
	Characters  int     `json:"characters"`
}

// ReportSection is one processed section.
type ReportSection struct {
	Index         int       `json:"index"`
	Title         string    `json:"title"`
	HierarchyPath string    `json:"hierarchy_path"`
	Path          string    `json:"path"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Attempts      int       `json:"attempts"`
	Characters    int       `json:"characters"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewReport aggregates results, listed by section index regardless of the
// order in which they completed. A run with nothing to process has a
// success rate of 100.
func NewReport(runID, document, kind string, results []doctree.GenerationResult, skipped int) Report {
	sorted := make([]doctree.GenerationResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SectionIndex < sorted[j].SectionIndex })

	r := Report{
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Document:  document,
		Kind:      kind,
		Sections:  make([]ReportSection, 0, len(sorted)),
	}
	for _, res := range sorted {
		chars := res.Chars()
		r.Sections = append(r.Sections, ReportSection{
			Index:         res.SectionIndex,
			Title:         res.Title,
			HierarchyPath: res.HierarchyPath,
			Path:          res.Path,
			Success:       res.Success,
			ErrorMessage:  res.ErrorMessage,
			Attempts:      res.Attempts,
			Characters:    chars,
			Timestamp:     res.Timestamp,
		})
		if res.Success {
			r.Statistics.Succeeded++
		} else {
			r.Statistics.Failed++
		}
		r.Statistics.Characters += chars
	}
	r.Statistics.Total = len(sorted)
	r.Statistics.Skipped = skipped
	r.Statistics.SuccessRate = 100
	if r.Statistics.Total > 0 {
		rate := float64(r.Statistics.Succeeded) / float64(r.Statistics.Total) * 100
		r.Statistics.SuccessRate = math.Round(rate*100) / 100
	}
	return r
}

// LoadReport reads a report written by a previous run.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoReport, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}

// FailedKeys returns the keys of sections the report lists as failed.
func (r *Report) FailedKeys() map[doctree.Key]bool {
	keys := make(map[doctree.Key]bool)
	for _, s := range r.Sections {
		if !s.Success {
			keys[doctree.NewKey(s.Title, s.HierarchyPath)] = true
		}
	}
	return keys
}
