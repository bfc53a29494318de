package pipeline

import (
	"slices"
	"sync"
	"time"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/dgallion1/sectiongen/internal/llm"
)

const maxRecentErrors = 20

// Progress is a thread-safe view of a run for status reporting. A nil
// *Progress ignores updates.
type Progress struct {
	mu sync.Mutex

	runID     string
	document  string
	phase     Phase
	total     int
	skipped   int
	succeeded int
	failed    int
	retries   map[llm.Class]int
	chars     int
	inFlight  map[int]string
	errors    []string
	startedAt time.Time
	updatedAt time.Time
}

// NewProgress starts tracking run runID over document.
func NewProgress(runID, document string) *Progress {
	now := time.Now()
	return &Progress{
		runID:     runID,
		document:  document,
		phase:     PhaseInitialize,
		inFlight:  make(map[int]string),
		retries:   make(map[llm.Class]int),
		startedAt: now,
		updatedAt: now,
	}
}

func (p *Progress) SetPhase(phase Phase) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
	p.updatedAt = time.Now()
}

func (p *Progress) SetTotal(n int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = n
	p.updatedAt = time.Now()
}

func (p *Progress) Started(sec doctree.Section) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight[sec.Index] = sec.Title
	p.updatedAt = time.Now()
}

func (p *Progress) Retrying(sec doctree.Section, class llm.Class) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries[class]++
	p.inFlight[sec.Index] = sec.Title
	p.updatedAt = time.Now()
}

// Finished records a section's result.
func (p *Progress) Finished(res doctree.GenerationResult) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, res.SectionIndex)
	if res.Success {
		p.succeeded++
	} else {
		p.failed++
		p.errors = append(p.errors, res.Title+": "+res.ErrorMessage)
		if len(p.errors) > maxRecentErrors {
			p.errors = p.errors[len(p.errors)-maxRecentErrors:]
		}
	}
	p.chars += res.Chars()
	p.updatedAt = time.Now()
}

// Abandoned drops a section interrupted before it finished.
func (p *Progress) Abandoned(index int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, index)
	p.updatedAt = time.Now()
}

func (p *Progress) Skipped() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipped++
	p.updatedAt = time.Now()
}

// ProgressSnapshot is a read-only, JSON-safe copy of run progress.
type ProgressSnapshot struct {
	RunID      string         `json:"run_id"`
	Document   string         `json:"document"`
	Phase      Phase          `json:"phase"`
	Total      int            `json:"total"`
	Done       int            `json:"done"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Retries    map[string]int `json:"retries"`
	Characters int            `json:"characters"`
	InFlight   []string       `json:"in_flight"`
	Errors     []string       `json:"errors"`
	StartedAt  time.Time      `json:"started_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the progress. In-flight titles are
// listed by section index.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	indexes := make([]int, 0, len(p.inFlight))
	for i := range p.inFlight {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)
	inFlight := make([]string, 0, len(indexes))
	for _, i := range indexes {
		inFlight = append(inFlight, p.inFlight[i])
	}
	retries := make(map[string]int, len(p.retries))
	for c, n := range p.retries {
		retries[string(c)] = n
	}
	errs := make([]string, len(p.errors))
	copy(errs, p.errors)

	return ProgressSnapshot{
		RunID:      p.runID,
		Document:   p.document,
		Phase:      p.phase,
		Total:      p.total,
		Done:       p.succeeded + p.failed + p.skipped,
		Succeeded:  p.succeeded,
		Failed:     p.failed,
		Skipped:    p.skipped,
		Retries:    retries,
		Characters: p.chars,
		InFlight:   inFlight,
		Errors:     errs,
		StartedAt:  p.startedAt,
		UpdatedAt:  p.updatedAt,
	}
}
