// Package ui is a terminal front end for a single call: it subscribes to
// the call's events and renders the derived status, the participant
// roster, and the local mute flags.
package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rescp17/callKit/internal/style"
	"github.com/rescp17/callKit/pkg/call"
)

const opTimeout = 15 * time.Second

type callEventMsg call.Event

type opResultMsg struct {
	err error
}

type model struct {
	call    *call.Call
	events  chan call.Event
	spinner spinner.Model
	table   table.Model
	err     error
}

var participantColumns = []table.Column{
	{Title: "Participant", Width: 24},
	{Title: "State", Width: 10},
	{Title: "Audio", Width: 10},
	{Title: "Video", Width: 10},
}

// InitialModel builds the TUI around an existing call. Event handlers
// forward into a buffered channel that the update loop drains; the
// subscriptions are closed by the call itself at teardown.
func InitialModel(c *call.Call) model {
	events := make(chan call.Event, 32)
	forward := func(ev call.Event) {
		// Never block the call's dispatch goroutine. A dropped frame is
		// fine: the view re-reads call state on every render.
		select {
		case events <- ev:
		default:
		}
	}
	for _, t := range []call.EventType{
		call.EventRinging,
		call.EventConnected,
		call.EventDisconnected,
		call.EventError,
		call.EventLocalStreamURLChange,
		call.EventRemoteStreamURLChange,
		call.EventSendingAudioChange,
		call.EventSendingVideoChange,
	} {
		c.On(t, forward)
	}

	t := table.New(
		table.WithColumns(participantColumns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(0),
	)
	t.SetStyles(style.NewTableStyles())

	return model{
		call:    c,
		events:  events,
		spinner: style.NewSpinner(),
		table:   t,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForCallEvents())
}

// listenForCallEvents is a command that waits for the next call event.
func (m model) listenForCallEvents() tea.Cmd {
	return func() tea.Msg {
		return callEventMsg(<-m.events)
	}
}

// doOp runs one call operation off the UI goroutine.
func (m model) doOp(op func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opResultMsg{err: op(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case callEventMsg:
		if msg.Type == call.EventError {
			m.err = msg.Err
		}
		m.refreshParticipants()
		return m, m.listenForCallEvents()

	case opResultMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Sequence(m.doOp(m.call.Hangup), tea.Quit)
	case "a":
		m.err = nil
		return m, m.doOp(m.call.Answer)
	case "h":
		return m, m.doOp(m.call.Hangup)
	case "d":
		return m, m.doOp(m.call.Reject)
	case "m":
		return m, m.doOp(m.call.ToggleSendingAudio)
	case "v":
		return m, m.doOp(m.call.ToggleSendingVideo)
	case "f":
		return m, m.doOp(m.call.ToggleFacingMode)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *model) refreshParticipants() {
	l := m.call.Session()
	if l == nil {
		return
	}
	rows := []table.Row{}
	for _, p := range l.Participants {
		rows = append(rows, table.Row{
			p.ID, string(p.State), p.Status.AudioStatus, p.Status.VideoStatus,
		})
	}
	m.table.SetRows(rows)
	m.table.SetHeight(len(rows) + 1)
}
