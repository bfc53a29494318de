package pipeline

import (
	"fmt"
	"sync"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/dgallion1/sectiongen/internal/store"
)

// Phase is a pipeline controller state.
type Phase string

const (
	PhaseInitialize   Phase = "initialize"
	PhaseSplit        Phase = "split"
	PhaseAwaitingDraw Phase = "awaiting_draw"
	PhaseDrawing      Phase = "drawing"
	PhaseReporting    Phase = "reporting"
	PhaseError        Phase = "error"
	PhaseDone         Phase = "done"
)

// Phases lists every phase in the order a successful run visits them.
var Phases = []Phase{
	PhaseInitialize, PhaseSplit, PhaseAwaitingDraw, PhaseDrawing,
	PhaseReporting, PhaseError, PhaseDone,
}

// Event is what a step reports when it finishes.
type Event string

const (
	EventOK       Event = "ok"       // Initialize or Split succeeded
	EventFail     Event = "fail"     // Structural failure
	EventDispatch Event = "dispatch" // A section needs generating
	EventSkip     Event = "skip"     // A section is already complete or out of range
	EventDrawn    Event = "drawn"    // The current section was handed off
	EventDrained  Event = "drained"  // No more sections will be dispatched
	EventFinish   Event = "finish"
)

// TransitionError is an event the current phase does not accept.
type TransitionError struct {
	From  Phase
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s on %s", e.Event, e.From)
}

// Transition returns the phase that follows from on ev.
func Transition(from Phase, ev Event) (Phase, error) {
	switch from {
	case PhaseInitialize, PhaseSplit:
		switch ev {
		case EventOK:
			if from == PhaseInitialize {
				return PhaseSplit, nil
			}
			return PhaseAwaitingDraw, nil
		case EventFail:
			return PhaseError, nil
		}
	case PhaseAwaitingDraw:
		switch ev {
		case EventDispatch:
			return PhaseDrawing, nil
		case EventSkip:
			return PhaseAwaitingDraw, nil
		case EventDrained:
			return PhaseReporting, nil
		}
	case PhaseDrawing:
		if ev == EventDrawn {
			return PhaseAwaitingDraw, nil
		}
	case PhaseReporting, PhaseError:
		if ev == EventFinish {
			return PhaseDone, nil
		}
	}
	return from, &TransitionError{From: from, Event: ev}
}

// State is the controller's run state. Results is appended to by section
// tasks and is guarded by mu; everything else belongs to the step running.
type State struct {
	Phase       Phase
	Sections    []doctree.Section
	Current     int
	Completed   map[doctree.Key]bool
	Skipped     int
	Fatal       error
	Interrupted bool
	Report      *store.Report
	ReportErr   error

	mu      sync.Mutex
	results []doctree.GenerationResult
}

func (s *State) addResult(r doctree.GenerationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

// Results returns a copy of the results recorded so far.
func (s *State) Results() []doctree.GenerationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]doctree.GenerationResult, len(s.results))
	copy(out, s.results)
	return out
}
