// Package prompt renders the instruction and content prompts for a section
// from template files that may be edited while a run is in progress.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"text/template"
	"time"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

//go:embed defaults/*.txt
var defaultTemplates embed.FS

// Template file names looked up in the prompts directory.
const (
	SystemFile   = "system.txt"
	UserFile     = "user.txt"
	ExamplesFile = "examples.txt"
)

// examplesHeading separates the instruction prompt from appended examples.
const examplesHeading = "\n\n## Examples\n"

// Style carries the visual parameters exposed to templates.
type Style struct {
	BgColor   string
	TextColor string
	Font      string
	Colors    map[string]string
}

// Renderer renders prompt pairs. Templates come from Dir when present and
// from built-in defaults for Kind otherwise. Render checks the template
// files' modification times before every call and reloads on change.
type Renderer struct {
	dir   string
	kind  string
	style Style
	log   *slog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	system   *template.Template
	user     *template.Template
	examples string
}

// NewRenderer loads the templates once. kind selects the built-in defaults
// ("svg" or "text").
func NewRenderer(dir, kind string, style Style, log *slog.Logger) (*Renderer, error) {
	r := &Renderer{
		dir:      dir,
		kind:     kind,
		style:    style,
		log:      log,
		lastSeen: make(map[string]time.Time),
	}
	ReloadIfChanged(r.tracked(), r.lastSeen)
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) tracked() []string {
	if r.dir == "" {
		return nil
	}
	return []string{
		filepath.Join(r.dir, SystemFile),
		filepath.Join(r.dir, UserFile),
		filepath.Join(r.dir, ExamplesFile),
	}
}

func (r *Renderer) load() error {
	system, err := r.parse(SystemFile, r.kind+"_system.txt")
	if err != nil {
		return err
	}
	user, err := r.parse(UserFile, r.kind+"_user.txt")
	if err != nil {
		return err
	}
	examples, err := r.readOptional(ExamplesFile)
	if err != nil {
		return err
	}
	r.system, r.user, r.examples = system, user, examples
	return nil
}

func (r *Renderer) parse(name, builtin string) (*template.Template, error) {
	text, err := r.readOptional(name)
	if err != nil {
		return nil, err
	}
	if text == "" {
		b, err := defaultTemplates.ReadFile("defaults/" + builtin)
		if err != nil {
			return nil, fmt.Errorf("no template %s for kind %q: %w", name, r.kind, err)
		}
		text = string(b)
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return tmpl, nil
}

func (r *Renderer) readOptional(name string) (string, error) {
	if r.dir == "" {
		return "", nil
	}
	b, err := os.ReadFile(filepath.Join(r.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", name, err)
	}
	return string(b), nil
}

// Render returns the instruction and content prompts for sec.
func (r *Renderer) Render(sec doctree.Section) (system, user string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ReloadIfChanged(r.tracked(), r.lastSeen) {
		if err := r.load(); err != nil {
			r.log.Warn("prompt reload failed, keeping previous templates", "error", err)
		} else {
			r.log.Info("prompt templates reloaded", "dir", r.dir)
		}
	}

	data := r.data(sec)
	if system, err = execute(r.system, data); err != nil {
		return "", "", err
	}
	if user, err = execute(r.user, data); err != nil {
		return "", "", err
	}
	if r.examples != "" {
		system += examplesHeading + r.examples
	}
	return system, user, nil
}

func (r *Renderer) data(sec doctree.Section) map[string]any {
	colors := r.style.Colors
	if colors == nil {
		colors = map[string]string{}
	}
	data := map[string]any{
		"index":          sec.Index,
		"title":          sec.Title,
		"content":        sec.Body,
		"hierarchy_path": sec.HierarchyPath,
		"bg_color":       r.style.BgColor,
		"text_color":     r.style.TextColor,
		"font":           r.style.Font,
		"colors":         colors,
	}
	for k, v := range colors {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}
	return data
}

func execute(t *template.Template, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
