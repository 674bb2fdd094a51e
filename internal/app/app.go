// Package app is the Bubble Tea root model. Key presses become controller
// operations; the remote call runs as a command and its result is fed
// back through Complete. Everything on screen is derived from the
// controller snapshot via the view binding.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/cloak-fx/cloak/internal/client"
	"github.com/cloak-fx/cloak/internal/session"
	"github.com/cloak-fx/cloak/internal/theme"
	"github.com/cloak-fx/cloak/internal/view"
	"github.com/cloak-fx/cloak/internal/views/controls"
	"github.com/cloak-fx/cloak/internal/views/debug"
	"github.com/cloak-fx/cloak/internal/views/feed"
	"github.com/cloak-fx/cloak/internal/views/help"
	"github.com/cloak-fx/cloak/internal/views/status"
)

// reopenDelay is the pause before reconnecting a dropped stream.
const reopenDelay = time.Second

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDebug
	OverlayHelp
)

// Config wires the model to its collaborators. Streams and Events may be
// nil to disable the video preview and the service events feed.
type Config struct {
	Service        session.Service
	StreamEndpoint string
	Streams        *client.StreamWatcher
	Events         *client.EventsClient
	Logger         zerolog.Logger
	Observers      []session.Observer
}

// resultMsg carries a finished lifecycle call back into Update.
type resultMsg struct{ res session.Result }

// reopenMsg asks for the stream at url to be reconnected.
type reopenMsg struct{ url string }

// journal buffers controller transitions until Update drains them into
// the event log. Begin and Complete only run inside Update.
type journal struct {
	mu    sync.Mutex
	items []session.Transition
}

func (j *journal) record(t session.Transition) {
	j.mu.Lock()
	j.items = append(j.items, t)
	j.mu.Unlock()
}

func (j *journal) drain() []session.Transition {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.items
	j.items = nil
	return out
}

// Model is the root Bubble Tea model.
type Model struct {
	ctrl    *session.Controller
	binding view.Binding
	streams *client.StreamWatcher
	events  *client.EventsClient
	journal *journal
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// streamURL is the URL the feed is currently bound to.
	streamURL    string
	streamCancel context.CancelFunc
	// eventSeq is the last snapshot sequence seen on the events feed.
	eventSeq uint64

	keys    KeyMap
	width   int
	height  int
	overlay Overlay

	view      view.View
	spinner   spinner.Model
	statusBar status.Model
	feed      feed.Model
	debug     debug.Model
}

// New creates the root model and its session controller.
func New(cfg Config) Model {
	j := &journal{}
	opts := []session.Option{
		session.WithLogger(cfg.Logger),
		session.WithObserver(j.record),
	}
	for _, o := range cfg.Observers {
		opts = append(opts, session.WithObserver(o))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := Model{
		ctrl:      session.New(cfg.Service, opts...),
		binding:   view.New(cfg.StreamEndpoint),
		streams:   cfg.Streams,
		events:    cfg.Events,
		journal:   j,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		statusBar: status.New(cfg.Events != nil),
		feed:      feed.New(30),
		debug:     debug.New(),
	}
	m.view = m.binding.Project(m.ctrl.Snapshot())
	m.statusBar.View = m.view
	m.feed.Bind("", m.view.Placeholder)
	return m
}

// Controller exposes the session controller.
func (m Model) Controller() *session.Controller {
	return m.ctrl
}

// Init starts the events feed.
func (m Model) Init() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return m.events.Listen(m.ctx)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case resultMsg:
		m.ctrl.Complete(msg.res)
		return m, m.refresh()

	case spinner.TickMsg:
		if !m.view.Busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case client.StreamOpenedMsg:
		if msg.Stream.URL != m.streamURL {
			msg.Stream.Close()
			return m, nil
		}
		m.debug.Add(debug.KindFeed, "stream opened "+msg.Stream.URL)
		return m, m.streams.Next(msg.Stream)

	case client.StreamFrameMsg:
		if msg.Stream.URL != m.streamURL {
			msg.Stream.Close()
			return m, nil
		}
		m.feed.SetFrame(msg.Frame)
		return m, m.streams.Next(msg.Stream)

	case client.StreamClosedMsg:
		if msg.URL != m.streamURL || errors.Is(msg.Err, context.Canceled) {
			return m, nil
		}
		m.feed.SetError(msg.Err)
		m.debug.Add(debug.KindFeed, fmt.Sprintf("stream closed: %v", msg.Err))
		url := msg.URL
		return m, tea.Tick(reopenDelay, func(time.Time) tea.Msg { return reopenMsg{url: url} })

	case reopenMsg:
		if msg.url != m.streamURL || m.streamCancel == nil {
			return m, nil
		}
		return m, m.streams.Open(m.streamCtx(), msg.url)

	case client.EventsConnectedMsg:
		m.statusBar.Connected = true
		m.debug.Add(debug.KindEvent, "events connected")
		return m, m.events.ReadLoop(m.ctx)

	case client.EventsDisconnectedMsg:
		m.statusBar.Connected = false
		m.debug.Add(debug.KindEvent, fmt.Sprintf("events disconnected: %v", msg.Err))
		return m, m.events.Listen(m.ctx)

	case client.CameraStatusMsg:
		// The sequence only goes back when the service process restarted.
		if msg.Seq < m.eventSeq {
			m.debug.Add(debug.KindEvent, fmt.Sprintf("service restarted (seq %d → %d)", m.eventSeq, msg.Seq))
		}
		m.eventSeq = msg.Seq
		st := msg.Status
		m.statusBar.Camera = &st
		return m, m.events.ReadLoop(m.ctx)

	case client.EventsErrorMsg:
		m.debug.Add(debug.KindError, "service: "+string(msg.Raw))
		return m, m.events.ReadLoop(m.ctx)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.shutdown()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Debug) && m.overlay == OverlayDebug:
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Help) && m.overlay == OverlayHelp:
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up) && m.overlay == OverlayDebug:
			m.debug.ScrollUp(1)
		case key.Matches(msg, m.keys.Down) && m.overlay == OverlayDebug:
			m.debug.ScrollDown(1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Start):
		return m.begin(session.OpStart)
	case key.Matches(msg, m.keys.Background):
		return m.begin(session.OpCaptureBackground)
	case key.Matches(msg, m.keys.Stop):
		return m.begin(session.OpStop)
	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
	}
	return m, nil
}

// begin hands op to the controller. When accepted the remote call runs
// as a command and comes back as a resultMsg.
func (m Model) begin(op session.Op) (tea.Model, tea.Cmd) {
	call, ok := m.ctrl.Begin(op)
	cmd := m.refresh()
	if !ok {
		return m, cmd
	}
	ctx := m.ctx
	do := func() tea.Msg { return resultMsg{res: call.Do(ctx)} }
	return m, tea.Batch(cmd, do, m.spinner.Tick)
}

// refresh re-projects the controller state and rebinds the feed if the
// stream URL changed.
func (m *Model) refresh() tea.Cmd {
	for _, t := range m.journal.drain() {
		m.debug.AddTransition(t)
	}
	m.view = m.binding.Project(m.ctrl.Snapshot())
	m.statusBar.View = m.view

	if m.view.StreamURL == m.streamURL {
		m.feed.Bind(m.streamURL, m.view.Placeholder)
		return nil
	}
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
	m.streamURL = m.view.StreamURL
	m.feed.Bind(m.streamURL, m.view.Placeholder)
	if m.streamURL == "" || m.streams == nil {
		return nil
	}
	return m.streams.Open(m.streamCtx(), m.streamURL)
}

// streamCtx returns a fresh context for the bound stream, cancelling any
// earlier one.
func (m *Model) streamCtx() context.Context {
	if m.streamCancel != nil {
		m.streamCancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.streamCancel = cancel
	return ctx
}

func (m *Model) shutdown() {
	if m.streamCancel != nil {
		m.streamCancel()
	}
	m.cancel()
	if m.events != nil {
		m.events.Close()
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	switch m.overlay {
	case OverlayDebug:
		return m.debug.View(m.width, m.height)
	case OverlayHelp:
		return help.Render(m.width)
	}

	bar := m.statusBar.Render()
	buttons := controls.Render(m.view, m.ctrl.Snapshot().InFlight, m.spinner.View())
	hints := theme.StyleDimmed.Render("  s:start  b:background  x:stop  d:log  ?:help  q:quit")
	feedH := max(m.height-lipgloss.Height(bar)-lipgloss.Height(buttons)-lipgloss.Height(hints), 6)

	return lipgloss.JoinVertical(lipgloss.Left, bar, buttons, m.feed.Render(m.width, feedH), hints)
}
