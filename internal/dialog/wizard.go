package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyedr/taskbot/internal/models"
)

// Predicate decides whether a rule applies to an inbound event.
type Predicate func(ev models.Event) bool

// StepResult is what a rule handler returns. The zero value keeps the
// session in its current state; Next moves to another state; End
// clears the session.
type StepResult struct {
	Next State
	End  bool
}

// Stay keeps the wizard in its current state (re-prompt and wait).
func Stay() StepResult { return StepResult{} }

// Goto advances the wizard to the given state.
func Goto(next State) StepResult { return StepResult{Next: next} }

// End finishes the wizard and clears the session.
func End() StepResult { return StepResult{End: true} }

// Handler runs one wizard step. It may send prompts through the
// messaging service and mutate the session scratch.
type Handler func(ctx context.Context, s *Session, ev models.Event) (StepResult, error)

// Rule is one edge of the state graph: if Match accepts the event,
// Handle runs and its result is applied. Rules are tried in order and
// the first match wins.
type Rule struct {
	Match  Predicate
	Handle Handler
}

// Graph maps each state to its ordered rules.
type Graph map[State][]Rule

// Wizard drives one flow's state graph over the session store.
type Wizard struct {
	flow     Flow
	entry    State
	graph    Graph
	sessions *SessionStore
	// begin sends the entry prompt after Start resets the session.
	begin Handler
	now   func() time.Time
}

// NewWizard assembles a wizard from its graph. begin is invoked with
// the fresh session when the flow starts.
func NewWizard(flow Flow, entry State, graph Graph, sessions *SessionStore, begin Handler) *Wizard {
	return &Wizard{
		flow:     flow,
		entry:    entry,
		graph:    graph,
		sessions: sessions,
		begin:    begin,
		now:      time.Now,
	}
}

// Flow returns the flow this wizard drives.
func (w *Wizard) Flow() Flow { return w.flow }

// SetClock overrides the wizard clock (for tests).
func (w *Wizard) SetClock(now func() time.Time) { w.now = now }

// Now returns the wizard's current wall-clock time.
func (w *Wizard) Now() time.Time { return w.now() }

// Start enters the flow for a user. Any previous session, including
// one from another flow, is silently discarded.
func (w *Wizard) Start(ctx context.Context, ev models.Event) error {
	s := w.sessions.Reset(ev.From, w.flow, w.entry)
	if ev.Username != "" {
		s.Scratch[KeyUsername] = ev.Username
	}
	if w.begin == nil {
		return nil
	}
	res, err := w.begin(ctx, s, ev)
	if err != nil {
		w.sessions.Clear(ev.From)
		return fmt.Errorf("failed to start %s flow: %w", w.flow, err)
	}
	w.apply(ev.From, s, res)
	slog.Info("Wizard started", "flow", w.flow, "userID", ev.From)
	return nil
}

// HandleEvent routes an event to the user's active session. It returns
// false when the user has no session in this flow or no rule of the
// current state matches the event; the caller then falls through to
// the global handlers.
func (w *Wizard) HandleEvent(ctx context.Context, ev models.Event) (bool, error) {
	s := w.sessions.Get(ev.From)
	if s == nil || s.Flow != w.flow {
		return false, nil
	}

	for _, rule := range w.graph[s.State] {
		if !rule.Match(ev) {
			continue
		}
		res, err := rule.Handle(ctx, s, ev)
		if err != nil {
			slog.Error("Wizard step failed", "error", err, "flow", w.flow, "state", s.State, "userID", ev.From)
			return true, err
		}
		w.apply(ev.From, s, res)
		return true, nil
	}

	slog.Debug("Wizard event fell through", "flow", w.flow, "state", s.State, "kind", ev.Kind, "userID", ev.From)
	return false, nil
}

func (w *Wizard) apply(userID string, s *Session, res StepResult) {
	if res.End {
		w.sessions.Clear(userID)
		return
	}
	if res.Next != "" {
		s.State = res.Next
	}
	w.sessions.Set(userID, s)
}

// textEvent accepts plain text messages.
func textEvent(ev models.Event) bool { return ev.Kind == models.EventKindText }

// imageEvent accepts image messages.
func imageEvent(ev models.Event) bool { return ev.Kind == models.EventKindImage }

// anyEvent accepts everything.
func anyEvent(models.Event) bool { return true }
