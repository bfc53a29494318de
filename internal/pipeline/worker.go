package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/dgallion1/sectiongen/internal/llm"
	"github.com/dgallion1/sectiongen/internal/metrics"
	"github.com/dgallion1/sectiongen/internal/validate"
)

// Renderer produces the instruction and content prompts for a section.
type Renderer interface {
	Render(sec doctree.Section) (system, user string, err error)
}

// Worker drives one section through render, submit, validate and retry.
type Worker struct {
	client    llm.Client
	renderer  Renderer
	validator *validate.Validator
	policy    Policy
	params    llm.Params
	metrics   *metrics.Recorder
	progress  *Progress
	log       *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// WorkerOptions collects a Worker's collaborators. Metrics and Progress
// may be nil.
type WorkerOptions struct {
	Client    llm.Client
	Renderer  Renderer
	Validator *validate.Validator
	Policy    Policy
	Params    llm.Params
	Metrics   *metrics.Recorder
	Progress  *Progress
	Log       *slog.Logger
}

func NewWorker(opts WorkerOptions) *Worker {
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy.MaxAttempts = 1
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		client:    opts.Client,
		renderer:  opts.Renderer,
		validator: opts.Validator,
		policy:    opts.Policy,
		params:    opts.Params,
		metrics:   opts.Metrics,
		progress:  opts.Progress,
		log:       log,
		sleep:     sleepContext,
	}
}

// Attempt generates content for sec. Generation failures never surface as
// errors: once the attempt budget is spent, or the output cannot be
// repaired, the result carries the fallback artifact and Success is false.
// The only error is the context's, when the run is interrupted; the section
// is then abandoned and has no result.
func (w *Worker) Attempt(ctx context.Context, sec doctree.Section) (doctree.GenerationResult, error) {
	log := w.log.With("section", sec.Index, "title", sec.Title)
	res := doctree.GenerationResult{
		SectionIndex:  sec.Index,
		Title:         sec.Title,
		HierarchyPath: sec.HierarchyPath,
	}

	var lastErr error
	for attempt := range w.policy.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt + 1

		content, err := w.generate(ctx, sec)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var invalid *invalidOutputError
		switch {
		case err == nil:
			w.metrics.Attempt("")
			res.Content = content
			res.Success = true
			res.Timestamp = time.Now().UTC()
			log.Info("section generated", "attempts", res.Attempts, "chars", res.Chars())
			return res, nil
		case errors.As(err, &invalid):
			// Repair already ran once; another round trip would not help.
			w.metrics.Attempt(string(llm.ClassOther))
			log.Warn("output invalid after repair, using fallback", "reason", invalid.reason)
			return w.fallback(sec, res, err), nil
		}

		lastErr = err
		class := llm.Classify(err)
		w.metrics.Attempt(string(class))
		if attempt == w.policy.MaxAttempts-1 {
			break
		}
		delay := w.policy.Backoff(class, attempt)
		log.Warn("generation failed, retrying",
			"attempt", res.Attempts, "class", class, "delay", delay, "error", err)
		w.progress.Retrying(sec, class)
		if err := w.sleep(ctx, delay); err != nil {
			return res, err
		}
	}

	log.Error("attempts exhausted, using fallback", "attempts", res.Attempts, "error", lastErr)
	return w.fallback(sec, res, lastErr), nil
}

// generate runs one attempt and returns acceptable content or a classified
// error.
func (w *Worker) generate(ctx context.Context, sec doctree.Section) (string, error) {
	system, user, err := w.renderer.Render(sec)
	if err != nil {
		return "", &llm.Failure{Class: llm.ClassOther, Message: "render prompt", Err: err}
	}
	raw, err := w.client.Submit(ctx, llm.Request{System: system, User: user, Params: w.params})
	if err != nil {
		return "", err
	}

	content := w.validator.Extract(raw)
	ok, reason := w.validator.Validate(content)
	if ok {
		return content, nil
	}
	if w.validator.Kind == validate.KindText {
		return "", &llm.Failure{Class: llm.ClassContentTooShort, Message: reason}
	}
	if content == "" {
		return "", &llm.Failure{Class: llm.ClassOther, Message: reason}
	}

	repaired := w.validator.Repair(content)
	if ok, reason = w.validator.Validate(repaired); ok {
		w.log.Debug("output repaired", "section", sec.Index)
		return repaired, nil
	}
	return "", &invalidOutputError{reason: reason}
}

func (w *Worker) fallback(sec doctree.Section, res doctree.GenerationResult, cause error) doctree.GenerationResult {
	res.Content = w.validator.Fallback(sec)
	res.Success = false
	res.Timestamp = time.Now().UTC()
	if cause != nil {
		res.ErrorMessage = cause.Error()
	}
	return res
}

type invalidOutputError struct {
	reason string
}

func (e *invalidOutputError) Error() string {
	return fmt.Sprintf("invalid output after repair: %s", e.reason)
}
