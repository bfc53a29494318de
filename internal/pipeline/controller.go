package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/dgallion1/sectiongen/internal/ledger"
	"github.com/dgallion1/sectiongen/internal/metrics"
	"github.com/dgallion1/sectiongen/internal/splitter"
	"github.com/dgallion1/sectiongen/internal/store"
)

// MaxConcurrency bounds the section pool. The remote service's rate limit,
// not local CPU, is what runs out first.
const MaxConcurrency = 3

// ErrNoSections is the split failure for a document without any leaf-level
// heading.
var ErrNoSections = errors.New("no leaf-level headings found")

// Splitter turns a document into sections.
type Splitter interface {
	Split(path string) ([]doctree.Section, error)
}

// Options configures a Controller. Ledger, Metrics and Progress may be nil.
type Options struct {
	RunID       string
	Document    string
	Kind        string
	Splitter    Splitter
	Store       store.Options
	Worker      *Worker
	Concurrency int
	Rest        time.Duration // Pause between sections when running sequentially

	RetryFailed bool // Only sections the previous report lists as failed
	Start       int  // First section index to process
	Limit       int  // Number of sections from Start; 0 means all

	Ledger   *ledger.Ledger
	Metrics  *metrics.Recorder
	Progress *Progress
	Log      *slog.Logger
}

// Outcome is how a run ended.
type Outcome struct {
	Success     bool // The pipeline reached Done through Reporting
	Interrupted bool
	Report      *store.Report
	Err         error // Fatal cause, or a failure to write the report
}

// Partial reports whether the run completed with failed sections.
func (o Outcome) Partial() bool {
	return o.Report != nil && o.Report.Statistics.Failed > 0
}

// Step handles one phase of the controller state machine.
type Step interface {
	Phase() Phase
	Run(ctx context.Context, st *State) Event
}

// Controller runs the section pipeline for one document.
type Controller struct {
	opts  Options
	log   *slog.Logger
	steps []Step

	store *store.Store
	only  map[doctree.Key]bool // Retry-failed selection
	group *errgroup.Group
	sleep func(ctx context.Context, d time.Duration) error
}

func NewController(opts Options) *Controller {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > MaxConcurrency {
		opts.Concurrency = MaxConcurrency
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		opts:  opts,
		log:   log.With("run_id", opts.RunID),
		group: new(errgroup.Group),
		sleep: sleepContext,
	}
	c.group.SetLimit(opts.Concurrency)
	c.steps = []Step{
		initializeStep{c},
		splitStep{c},
		awaitDrawStep{c},
		drawStep{c},
		reportStep{c},
		errorStep{c},
	}
	return c
}

// Run drives the state machine from Initialize to Done.
func (c *Controller) Run(ctx context.Context) Outcome {
	st := &State{Phase: PhaseInitialize}
	phases := make([]string, len(Phases))
	for i, p := range Phases {
		phases[i] = string(p)
	}

	prev := st.Phase
	for st.Phase != PhaseDone {
		c.opts.Metrics.Phase(string(st.Phase), phases)
		c.opts.Progress.SetPhase(st.Phase)
		if st.Phase != prev {
			c.log.Debug("phase", "from", prev, "to", st.Phase)
			prev = st.Phase
		}

		step := c.stepFor(st.Phase)
		ev := step.Run(ctx, st)
		next, err := Transition(st.Phase, ev)
		if err != nil {
			c.log.Error("pipeline aborted", "error", err)
			c.abort()
			return Outcome{Err: err, Interrupted: st.Interrupted}
		}
		st.Phase = next
	}
	c.opts.Metrics.Phase(string(PhaseDone), phases)
	c.opts.Progress.SetPhase(PhaseDone)

	out := Outcome{
		Success:     st.Fatal == nil && st.ReportErr == nil,
		Interrupted: st.Interrupted,
		Report:      st.Report,
		Err:         st.Fatal,
	}
	if st.ReportErr != nil {
		out.Err = st.ReportErr
	}
	return out
}

func (c *Controller) stepFor(p Phase) Step {
	for _, s := range c.steps {
		if s.Phase() == p {
			return s
		}
	}
	return missingStep{p}
}

// abort waits for in-flight sections and flushes the store.
func (c *Controller) abort() {
	_ = c.group.Wait()
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.log.Error("close store", "error", err)
		}
	}
}

// inWindow reports whether sec falls inside the Start/Limit range.
func (c *Controller) inWindow(sec doctree.Section) bool {
	if sec.Index < c.opts.Start {
		return false
	}
	return c.opts.Limit <= 0 || sec.Index < c.opts.Start+c.opts.Limit
}

// draw generates, persists and records one section.
func (c *Controller) draw(ctx context.Context, st *State, sec doctree.Section) {
	log := c.log.With("section", sec.Index, "title", sec.Title)
	c.opts.Metrics.SectionStarted()
	c.opts.Progress.Started(sec)
	start := time.Now()

	res, err := c.opts.Worker.Attempt(ctx, sec)
	if err != nil {
		log.Warn("section abandoned", "error", err)
		c.opts.Metrics.SectionAbandoned()
		c.opts.Progress.Abandoned(sec.Index)
		return
	}

	if err := c.store.Persist(&res); err != nil {
		log.Error("persist result", "error", err)
		res.Success = false
		res.ErrorMessage = fmt.Sprintf("persist: %v", err)
	}
	if c.opts.Ledger != nil {
		if err := c.opts.Ledger.RecordResult(context.WithoutCancel(ctx), c.opts.RunID, res); err != nil {
			log.Warn("ledger record failed", "error", err)
		}
	}
	st.addResult(res)

	c.opts.Metrics.SectionFinished(res.Success, time.Since(start))
	c.opts.Progress.Finished(res)
	if res.Success {
		log.Info("section complete", "path", res.Path, "attempts", res.Attempts)
	} else {
		log.Warn("section fell back", "path", res.Path, "attempts", res.Attempts, "error", res.ErrorMessage)
	}
}

func (c *Controller) finishLedger(ctx context.Context, st *State, final Phase) {
	if c.opts.Ledger == nil {
		return
	}
	run := ledger.Run{
		ID:         c.opts.RunID,
		FinishedAt: time.Now().UTC(),
		Phase:      string(final),
		Success:    final == PhaseDone && st.ReportErr == nil,
	}
	if st.Fatal != nil {
		run.Error = st.Fatal.Error()
	}
	if st.Report != nil {
		run.Total = st.Report.Statistics.Total
		run.Succeeded = st.Report.Statistics.Succeeded
		run.Failed = st.Report.Statistics.Failed
		run.Skipped = st.Report.Statistics.Skipped
	}
	if err := c.opts.Ledger.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		c.log.Warn("ledger finish failed", "error", err)
	}
}

type initializeStep struct{ c *Controller }

func (initializeStep) Phase() Phase { return PhaseInitialize }

func (s initializeStep) Run(ctx context.Context, st *State) Event {
	c := s.c
	opts := c.opts.Store
	opts.Document = c.opts.Document

	// The previous report is read before anything in the directory changes.
	if c.opts.RetryFailed {
		prev, err := store.LoadReport(store.ReportPathFor(opts))
		if err != nil {
			st.Fatal = fmt.Errorf("retry failed sections: %w", err)
			return EventFail
		}
		c.only = prev.FailedKeys()
		c.log.Info("retrying failed sections", "count", len(c.only))
	}

	rs, err := store.Open(opts)
	if err != nil {
		st.Fatal = fmt.Errorf("prepare output: %w", err)
		return EventFail
	}
	c.store = rs

	completed, err := rs.Completed()
	if err != nil {
		st.Fatal = fmt.Errorf("load completed sections: %w", err)
		return EventFail
	}
	st.Completed = completed

	if c.opts.Ledger != nil {
		err := c.opts.Ledger.StartRun(ctx, ledger.Run{
			ID:        c.opts.RunID,
			Document:  c.opts.Document,
			Kind:      c.opts.Kind,
			StartedAt: time.Now().UTC(),
			Phase:     string(PhaseInitialize),
		})
		if err != nil {
			c.log.Warn("ledger start failed", "error", err)
		}
	}
	c.log.Info("output ready", "dir", opts.Dir, "completed", len(completed))
	return EventOK
}

type splitStep struct{ c *Controller }

func (splitStep) Phase() Phase { return PhaseSplit }

func (s splitStep) Run(_ context.Context, st *State) Event {
	c := s.c
	sections, err := c.opts.Splitter.Split(c.opts.Document)
	if err != nil {
		st.Fatal = err
		return EventFail
	}
	if len(sections) == 0 {
		st.Fatal = &splitter.SplitError{Path: c.opts.Document, Err: ErrNoSections}
		return EventFail
	}
	st.Sections = sections
	st.Current = 0
	c.opts.Progress.SetTotal(len(sections))
	c.log.Info("document split", "sections", len(sections))
	return EventOK
}

type awaitDrawStep struct{ c *Controller }

func (awaitDrawStep) Phase() Phase { return PhaseAwaitingDraw }

func (s awaitDrawStep) Run(ctx context.Context, st *State) Event {
	c := s.c
	if ctx.Err() != nil {
		if !st.Interrupted {
			c.log.Warn("interrupted, waiting for in-flight sections")
		}
		st.Interrupted = true
		_ = c.group.Wait()
		return EventDrained
	}
	if st.Current >= len(st.Sections) {
		_ = c.group.Wait()
		return EventDrained
	}

	sec := st.Sections[st.Current]
	if !c.inWindow(sec) {
		st.Current++
		return EventSkip
	}
	key := sec.Key()
	skip := st.Completed[key]
	if c.only != nil && !c.only[key] {
		skip = true
	}
	if skip {
		st.Current++
		st.Skipped++
		c.opts.Metrics.SectionSkipped()
		c.opts.Progress.Skipped()
		c.log.Debug("section skipped", "section", sec.Index, "title", sec.Title)
		return EventSkip
	}
	return EventDispatch
}

type drawStep struct{ c *Controller }

func (drawStep) Phase() Phase { return PhaseDrawing }

func (s drawStep) Run(ctx context.Context, st *State) Event {
	c := s.c
	sec := st.Sections[st.Current]
	st.Current++
	c.store.Expect(sec.Index)

	if c.opts.Concurrency == 1 {
		c.draw(ctx, st, sec)
		if c.opts.Rest > 0 && st.Current < len(st.Sections) {
			_ = c.sleep(ctx, c.opts.Rest)
		}
		return EventDrawn
	}
	c.group.Go(func() error {
		c.draw(ctx, st, sec)
		return nil
	})
	return EventDrawn
}

type reportStep struct{ c *Controller }

func (reportStep) Phase() Phase { return PhaseReporting }

func (s reportStep) Run(ctx context.Context, st *State) Event {
	c := s.c
	if err := c.store.Close(); err != nil {
		c.log.Error("close aggregate", "error", err)
	}
	report := store.NewReport(c.opts.RunID, c.opts.Document, c.opts.Kind, st.Results(), st.Skipped)
	report.Interrupted = st.Interrupted
	st.Report = &report
	if err := c.store.WriteReport(report); err != nil {
		c.log.Error("write report", "error", err)
		st.ReportErr = err
	} else {
		stats := report.Statistics
		c.log.Info("report written",
			"path", c.store.ReportPath(),
			"total", stats.Total,
			"succeeded", stats.Succeeded,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
			"success_rate", stats.SuccessRate,
			"characters", stats.Characters)
	}
	c.finishLedger(ctx, st, PhaseDone)
	return EventFinish
}

type errorStep struct{ c *Controller }

func (errorStep) Phase() Phase { return PhaseError }

func (s errorStep) Run(ctx context.Context, st *State) Event {
	c := s.c
	c.log.Error("pipeline failed", "error", st.Fatal)
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.log.Error("close store", "error", err)
		}
	}
	c.finishLedger(ctx, st, PhaseError)
	return EventFinish
}

// missingStep stands in for a phase with no handler; any event it returns
// is rejected by Transition.
type missingStep struct{ p Phase }

func (m missingStep) Phase() Phase                    { return m.p }
func (missingStep) Run(context.Context, *State) Event { return "" }
