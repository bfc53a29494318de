package store

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

// aggregator streams the sections of the current run into the aggregate
// file as they finish. All writes go through mu. Entries are released in
// dispatch order, which is document order, so parallel completions never
// reorder or interleave the file. The file is rebuilt from the artifacts on
// disk when the store closes.
type aggregator struct {
	mu      sync.Mutex
	w       io.WriteCloser
	order   []int
	next    int
	pending map[int]string
	err     error // First write failure; streaming stops after it
}

func openAggregator(path string) (*aggregator, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open aggregate %s: %w", path, err)
	}
	return newAggregator(f), nil
}

func newAggregator(w io.WriteCloser) *aggregator {
	return &aggregator{w: w, pending: make(map[int]string)}
}

// expect registers the next dispatched section index.
func (a *aggregator) expect(index int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.order = append(a.order, index)
}

// add queues an entry and writes every entry that is now in order.
func (a *aggregator) add(index int, entry string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[index] = entry
	for a.next < len(a.order) {
		e, ok := a.pending[a.order[a.next]]
		if !ok {
			break
		}
		a.write(e)
		delete(a.pending, a.order[a.next])
		a.next++
	}
}

func (a *aggregator) write(entry string) {
	if a.err != nil {
		return
	}
	if _, err := io.WriteString(a.w, entry); err != nil {
		a.err = fmt.Errorf("append aggregate: %w", err)
	}
}

// close writes whatever is still queued in index order and reports the
// first write failure. Entries stay queued when an earlier dispatched
// section never finished.
func (a *aggregator) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	indexes := make([]int, 0, len(a.pending))
	for i := range a.pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		a.write(a.pending[i])
		delete(a.pending, i)
	}
	if err := a.w.Close(); err != nil && a.err == nil {
		a.err = err
	}
	return a.err
}

func aggregateEntry(res doctree.GenerationResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %d. %s\n\n", res.SectionIndex+1, res.Title)
	if res.HierarchyPath != "" {
		fmt.Fprintf(&sb, "> %s\n\n", res.HierarchyPath)
	}
	if !res.Success {
		fmt.Fprintf(&sb, "> status: %s (%s)\n\n", StatusFallback, res.ErrorMessage)
	}
	sb.WriteString(strings.TrimSpace(res.Content))
	sb.WriteString("\n\n")
	return sb.String()
}

// rebuildAggregate rewrites the aggregate at path from the artifacts in dir:
// one entry per section index, in index order. When artifacts from renamed
// sections share an index, the most recently generated one wins.
func rebuildAggregate(dir, ext, path string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "section_*"+ext))
	if err != nil {
		return err
	}
	type artifact struct {
		header Header
		at     time.Time
		body   string
	}
	latest := make(map[int]artifact, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return fmt.Errorf("read artifact: %w", err)
		}
		h, err := decodeHeader(data)
		if err != nil {
			continue
		}
		at, _ := time.Parse(time.RFC3339, h.GeneratedAt)
		if old, ok := latest[h.Index]; ok && !at.After(old.at) {
			continue
		}
		latest[h.Index] = artifact{header: h, at: at, body: stripXMLDecl(ArtifactBody(data))}
	}

	var sb strings.Builder
	for _, i := range slices.Sorted(maps.Keys(latest)) {
		a := latest[i]
		sb.WriteString(aggregateEntry(doctree.GenerationResult{
			SectionIndex:  a.header.Index,
			Title:         a.header.Title,
			HierarchyPath: a.header.HierarchyPath,
			Success:       a.header.Status == StatusSuccess,
			ErrorMessage:  a.header.Error,
			Content:       a.body,
		}))
	}
	if err := writeFileAtomic(path, []byte(sb.String())); err != nil {
		return fmt.Errorf("rebuild aggregate: %w", err)
	}
	return nil
}

func stripXMLDecl(s string) string {
	if !strings.HasPrefix(s, xmlDeclPrefix) {
		return s
	}
	if end := strings.Index(s, "?>"); end >= 0 {
		return strings.TrimSpace(s[end+2:])
	}
	return s
}
