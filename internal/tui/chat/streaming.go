package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/costlens/costlens/internal/llm"
	"github.com/costlens/costlens/internal/turn"
)

// turnRunner carries one in-flight controller call. Events flow through
// the channel until it closes, then the result is delivered.
type turnRunner struct {
	events chan llm.Event
	result chan turnResult
	cancel context.CancelFunc
}

type turnResult struct {
	outcome *turn.Outcome
	err     error
}

// turnEventMsg wraps one engine event for bubbletea.
type turnEventMsg struct {
	event llm.Event
}

// turnDoneMsg signals the controller call finished.
type turnDoneMsg struct {
	res turnResult
}

func newTurnRunner() *turnRunner {
	return &turnRunner{
		events: make(chan llm.Event, 64),
		result: make(chan turnResult, 1),
	}
}

// startTurn launches a new question through the controller.
func (m *Model) startTurn(question string) tea.Cmd {
	r := newTurnRunner()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	m.runner = r

	go func() {
		defer cancel()
		outcome, err := m.ctrl.RunTurn(ctx, m.state, question, func(e llm.Event) {
			r.events <- e
		})
		close(r.events)
		r.result <- turnResult{outcome: outcome, err: err}
	}()

	return m.listenTurn()
}

// approveTurn resumes a paused turn with a fresh budget.
func (m *Model) approveTurn() tea.Cmd {
	r := newTurnRunner()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	m.runner = r

	go func() {
		defer cancel()
		outcome, err := m.ctrl.ApproveContinue(ctx, m.state, func(e llm.Event) {
			r.events <- e
		})
		close(r.events)
		r.result <- turnResult{outcome: outcome, err: err}
	}()

	return m.listenTurn()
}

// listenTurn waits for the next event or the final result.
func (m *Model) listenTurn() tea.Cmd {
	r := m.runner
	return func() tea.Msg {
		ev, ok := <-r.events
		if !ok {
			return turnDoneMsg{res: <-r.result}
		}
		return turnEventMsg{event: ev}
	}
}

// cancelTurn aborts the in-flight controller call, if any.
func (m *Model) cancelTurn() {
	if m.runner != nil && m.runner.cancel != nil {
		m.runner.cancel()
	}
}
