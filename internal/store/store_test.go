package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

func openTestStore(t *testing.T, ext string) *Store {
	t.Helper()
	s, err := Open(Options{Dir: t.TempDir(), Ext: ext, Aggregate: "all_sections.md", Document: "doc.docx"})
	require.NoError(t, err)
	return s
}

func result(i int, title, path string, ok bool, content string) *doctree.GenerationResult {
	r := &doctree.GenerationResult{
		SectionIndex:  i,
		Title:         title,
		HierarchyPath: path,
		Content:       content,
		Success:       ok,
		Attempts:      1,
		Timestamp:     time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
	}
	if !ok {
		r.ErrorMessage = "timeout: deadline"
	}
	return r
}

func TestSafeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Cable trays / supports", "Cable_trays_supports"},
		{"1.2.3 电缆桥架", "1.2.3_电缆桥架"},
		{"  ***  ", "untitled"},
		{strings.Repeat("a", 40), strings.Repeat("a", 30)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeName(tt.in), tt.in)
	}
	assert.Equal(t, "section_004_Pumps.svg", ArtifactName(3, "Pumps", ".svg"))
}

func TestPersist_SVGHeaderRoundTrip(t *testing.T) {
	s := openTestStore(t, ".svg")
	content := `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1 1"></svg>`
	res := result(0, "A -- tricky \"title\"", "Intro>Part-2", true, content)
	require.NoError(t, s.Persist(res))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "<?xml"))
	comment := text[strings.Index(text, "<!--")+4 : strings.Index(text, "-->")]
	assert.NotContains(t, comment, "--", "comment body must stay well-formed")

	h, err := ReadHeader(res.Path)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Index)
	assert.Equal(t, "A -- tricky \"title\"", h.Title)
	assert.Equal(t, "Intro>Part-2", h.HierarchyPath)
	assert.Equal(t, StatusSuccess, h.Status)
	assert.Equal(t, "2026-10-17T09:00:00Z", h.GeneratedAt)

	body := ArtifactBody(data)
	assert.Contains(t, body, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1 1"></svg>`)
	assert.NotContains(t, body, "sectiongen")
}

func TestPersist_MarkdownFrontMatter(t *testing.T) {
	s := openTestStore(t, ".md")
	res := result(2, "Pumps", "Plant>Water", false, "# Pumps\n\nplaceholder")
	require.NoError(t, s.Persist(res))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "---\n"))

	h, err := ReadHeader(res.Path)
	require.NoError(t, err)
	assert.Equal(t, StatusFallback, h.Status)
	assert.Equal(t, "timeout: deadline", h.Error)
	assert.Equal(t, "# Pumps\n\nplaceholder", ArtifactBody(data))
}

func TestCompleted_MarkerAndHeaders(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, Ext: ".svg"})
	require.NoError(t, err)

	svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1 1"></svg>`
	require.NoError(t, s.Persist(result(0, "A", "Intro", true, svg)))
	require.NoError(t, s.Persist(result(1, "B", "Intro", false, svg)))
	require.NoError(t, s.Close())

	// A fresh store sees the same state from disk.
	s2, err := Open(Options{Dir: dir, Ext: ".svg"})
	require.NoError(t, err)
	done, err := s2.Completed()
	require.NoError(t, err)
	assert.Equal(t, map[doctree.Key]bool{doctree.NewKey("A", "Intro"): true}, done)

	// Losing the marker still leaves the artifact headers.
	require.NoError(t, os.Remove(filepath.Join(dir, "resume.yaml")))
	s3, err := Open(Options{Dir: dir, Ext: ".svg"})
	require.NoError(t, err)
	done, err = s3.Completed()
	require.NoError(t, err)
	assert.True(t, done[doctree.NewKey("A", "Intro")])
	assert.False(t, done[doctree.NewKey("B", "Intro")])
}

func TestCompleted_IgnoresTempAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "section_001_x.svg"), []byte("<svg></svg>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-section_002_y.svg-123"), []byte("partial"), 0o644))

	s, err := Open(Options{Dir: dir, Ext: ".svg"})
	require.NoError(t, err)
	done, err := s.Completed()
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestAggregate_DocumentOrderUnderParallelCompletion(t *testing.T) {
	s := openTestStore(t, ".md")
	for i := 0; i < 5; i++ {
		s.Expect(i)
	}

	var wg sync.WaitGroup
	for _, i := range []int{4, 2, 0, 3, 1} {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Persist(result(i, "T"+string(rune('0'+i)), "", true, strings.Repeat("x", 50))))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(s.opts.Dir, "all_sections.md"))
	require.NoError(t, err)
	text := string(data)
	last := -1
	for i := 0; i < 5; i++ {
		pos := strings.Index(text, "## "+string(rune('1'+i))+". T"+string(rune('0'+i)))
		require.GreaterOrEqual(t, pos, 0, "section %d missing", i)
		assert.Greater(t, pos, last, "section %d out of order", i)
		last = pos
	}
}

func TestAggregate_FlushesPastMissingSection(t *testing.T) {
	var buf nopCloser
	a := newAggregator(&buf)
	a.expect(0)
	a.expect(1)
	a.expect(2)
	a.add(2, "two\n")
	a.add(0, "zero\n")
	assert.Equal(t, "zero\n", buf.String())

	// Section 1 was abandoned; close releases what is left.
	require.NoError(t, a.close())
	assert.Equal(t, "zero\ntwo\n", buf.String())
}

func TestAggregate_RebuiltAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Dir: dir, Ext: ".md", Aggregate: "all_sections.md"}

	first, err := Open(opts)
	require.NoError(t, err)
	for i, title := range []string{"A", "B", "C"} {
		first.Expect(i)
		require.NoError(t, first.Persist(result(i, title, "", title != "B", "body "+title)))
	}
	require.NoError(t, first.Close())

	// The second run only regenerates B.
	second, err := Open(opts)
	require.NoError(t, err)
	second.Expect(1)
	require.NoError(t, second.Persist(result(1, "B", "", true, "body B fixed")))
	require.NoError(t, second.Close())

	data, err := os.ReadFile(filepath.Join(dir, "all_sections.md"))
	require.NoError(t, err)
	text := string(data)
	assert.Equal(t, 1, strings.Count(text, "## 2. B"))
	assert.NotContains(t, text, StatusFallback)
	assert.Contains(t, text, "body B fixed")
	a, b, c := strings.Index(text, "## 1. A"), strings.Index(text, "## 2. B"), strings.Index(text, "## 3. C")
	assert.True(t, a >= 0 && a < b && b < c, "sections out of order:\n%s", text)
}

func TestAggregate_SVGEntriesDropXMLDeclaration(t *testing.T) {
	s := openTestStore(t, ".svg")
	s.Expect(0)
	require.NoError(t, s.Persist(result(0, "A", "", true, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1 1"></svg>`)))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(s.opts.Dir, "all_sections.md"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<?xml")
	assert.Contains(t, string(data), "## 1. A\n\n<svg")
}

func TestPersist_MarkerFailureDemotesArtifact(t *testing.T) {
	s := openTestStore(t, ".md")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	s.opts.Resume = filepath.Join(blocker, "resume.yaml")

	res := result(0, "A", "P", true, "body")
	require.Error(t, s.Persist(res))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "persist:")
	assert.Empty(t, s.marker.Completed)

	h, err := ReadHeader(res.Path)
	require.NoError(t, err)
	assert.Equal(t, StatusFallback, h.Status)

	done, err := s.Completed()
	require.NoError(t, err)
	assert.Empty(t, done, "a demoted section is not complete")
}

type nopCloser struct{ strings.Builder }

func (*nopCloser) Close() error { return nil }

func TestNewReport(t *testing.T) {
	results := []doctree.GenerationResult{
		*result(2, "C", "", true, "ccc"),
		*result(0, "A", "", true, "aaaa"),
		*result(1, "B", "", false, "b"),
	}
	r := NewReport("run-1", "doc.docx", "text", results, 4)

	require.Len(t, r.Sections, 3)
	for i, sec := range r.Sections {
		assert.Equal(t, i, sec.Index)
	}
	assert.Equal(t, Statistics{Total: 3, Succeeded: 2, Failed: 1, Skipped: 4, SuccessRate: 66.67, Characters: 8}, r.Statistics)
	assert.Equal(t, "timeout: deadline", r.Sections[1].ErrorMessage)

	empty := NewReport("run-2", "doc.docx", "text", nil, 7)
	assert.Equal(t, 100.0, empty.Statistics.SuccessRate)
}

func TestWriteAndLoadReport(t *testing.T) {
	s := openTestStore(t, ".md")
	defer s.Close()

	_, err := LoadReport(s.ReportPath())
	require.ErrorIs(t, err, ErrNoReport)

	r := NewReport("run-1", "doc.docx", "text", []doctree.GenerationResult{
		*result(0, "A", "P", true, "a"),
		*result(1, "B", "P", false, "b"),
	}, 0)
	require.NoError(t, s.WriteReport(r))

	loaded, err := LoadReport(s.ReportPath())
	require.NoError(t, err)
	assert.Equal(t, r.Statistics, loaded.Statistics)
	assert.Equal(t, map[doctree.Key]bool{doctree.NewKey("B", "P"): true}, loaded.FailedKeys())
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	require.NoError(t, writeFileAtomic(path, []byte("one")))
	require.NoError(t, writeFileAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
