package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/cloak-fx/cloak/internal/client"
	"github.com/cloak-fx/cloak/internal/session"
	"github.com/cloak-fx/cloak/internal/view"
)

type stubService struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]session.Reply
}

func (s *stubService) reply(name string) (session.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	if r, ok := s.fail[name]; ok {
		return r, nil
	}
	return session.Reply{HTTPStatus: 200, Status: "success"}, nil
}

func (s *stubService) StartCamera(context.Context) (session.Reply, error) { return s.reply("start") }
func (s *stubService) CaptureBackground(context.Context) (session.Reply, error) {
	return s.reply("capture")
}
func (s *stubService) StopCamera(context.Context) (session.Reply, error) { return s.reply("stop") }

func newModel(svc session.Service) Model {
	m := New(Config{
		Service:        svc,
		StreamEndpoint: "http://cam/video_feed",
		Logger:         zerolog.Nop(),
	})
	m.width, m.height = 100, 30
	m.statusBar.Width = 100
	return m
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

// results runs cmd and returns every resultMsg it yields, expanding
// batches.
func results(cmd tea.Cmd) []resultMsg {
	if cmd == nil {
		return nil
	}
	switch msg := cmd().(type) {
	case resultMsg:
		return []resultMsg{msg}
	case tea.BatchMsg:
		var out []resultMsg
		for _, c := range msg {
			out = append(out, results(c)...)
		}
		return out
	}
	return nil
}

func press(t *testing.T, m Model, r rune) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(runeKey(r))
	return next.(Model), cmd
}

func deliver(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for _, res := range results(cmd) {
		next, _ := m.Update(res)
		m = next.(Model)
	}
	return m
}

func TestInitialView(t *testing.T) {
	m := newModel(&stubService{})
	if m.view.Phase != session.PhaseIdle {
		t.Fatalf("phase = %v", m.view.Phase)
	}
	out := m.View()
	for _, want := range []string{"Welcome! Start the camera to begin.", view.Placeholder, "Start Camera"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if m.Init() != nil {
		t.Error("no events client, Init should do nothing")
	}
}

func TestStartBindsStream(t *testing.T) {
	svc := &stubService{}
	m := newModel(svc)

	m, cmd := press(t, m, 's')
	if m.view.Phase != session.PhaseStarting || !m.view.Busy {
		t.Fatalf("expected starting/busy, got %v busy=%v", m.view.Phase, m.view.Busy)
	}
	if m.view.HasStream() {
		t.Error("no stream while starting")
	}

	m = deliver(t, m, cmd)
	if m.view.Phase != session.PhaseActive {
		t.Fatalf("phase = %v", m.view.Phase)
	}
	if !strings.HasPrefix(m.streamURL, "http://cam/video_feed?t=") {
		t.Errorf("stream URL = %q", m.streamURL)
	}
	if m.feed.URL != m.streamURL {
		t.Error("feed should follow the bound URL")
	}
	if len(svc.calls) != 1 {
		t.Errorf("calls = %v", svc.calls)
	}
}

func TestKeysIgnoredWhileBusy(t *testing.T) {
	svc := &stubService{}
	m := newModel(svc)

	m, cmd := press(t, m, 's')
	for _, r := range "sbx" {
		var extra tea.Cmd
		m, extra = press(t, m, r)
		if len(results(extra)) != 0 {
			t.Errorf("key %q issued a request while busy", r)
		}
	}
	m = deliver(t, m, cmd)
	if len(svc.calls) != 1 {
		t.Errorf("calls = %v, want exactly one start", svc.calls)
	}
}

func TestCaptureWhileIdleShowsError(t *testing.T) {
	svc := &stubService{}
	m := newModel(svc)

	m, cmd := press(t, m, 'b')
	if len(results(cmd)) != 0 {
		t.Error("capture while idle must not call the service")
	}
	if m.view.Severity != session.SeverityError {
		t.Errorf("severity = %v", m.view.Severity)
	}
	if len(svc.calls) != 0 {
		t.Errorf("calls = %v", svc.calls)
	}
}

func TestFullCycleUnbindsStream(t *testing.T) {
	svc := &stubService{}
	m := newModel(svc)

	for _, r := range "sbx" {
		var cmd tea.Cmd
		m, cmd = press(t, m, r)
		m = deliver(t, m, cmd)
	}
	if m.view.Phase != session.PhaseIdle {
		t.Fatalf("phase = %v", m.view.Phase)
	}
	if m.streamURL != "" || m.feed.URL != "" {
		t.Error("stream should be unbound after stop")
	}
	if got := strings.Join(svc.calls, ","); got != "start,capture,stop" {
		t.Errorf("calls = %s", got)
	}
	if len(m.debug.Entries) != 6 {
		t.Errorf("expected 6 logged transitions, got %d", len(m.debug.Entries))
	}
}

func TestRefusedStopHidesStream(t *testing.T) {
	svc := &stubService{fail: map[string]session.Reply{
		"stop": {HTTPStatus: 500, Status: "error", Message: "Error stopping camera: device busy"},
	}}
	m := newModel(svc)

	m, cmd := press(t, m, 's')
	m = deliver(t, m, cmd)
	m, cmd = press(t, m, 'x')
	m = deliver(t, m, cmd)

	if m.view.Phase != session.PhaseActive {
		t.Errorf("phase = %v, want active", m.view.Phase)
	}
	if m.streamURL != "" {
		t.Error("stream should be hidden after a refused stop")
	}
	if !strings.Contains(m.View(), "device busy") {
		t.Error("service message should be shown")
	}
}

func TestStaleStreamMessagesIgnored(t *testing.T) {
	m := newModel(&stubService{})

	next, cmd := m.Update(client.StreamClosedMsg{URL: "http://old", Err: errors.New("eof")})
	m = next.(Model)
	if cmd != nil {
		t.Error("closed message for an unbound URL should be ignored")
	}
	if m.feed.Err != nil {
		t.Error("feed error should not be set")
	}

	next, cmd = m.Update(reopenMsg{url: "http://old"})
	if cmd != nil {
		t.Error("reopen for an unbound URL should be ignored")
	}
	_ = next
}

func TestSpinnerOnlyTicksWhileBusy(t *testing.T) {
	m := newModel(&stubService{})
	if _, cmd := m.Update(spinner.TickMsg{}); cmd != nil {
		t.Error("idle model should drop spinner ticks")
	}
}

func TestOverlays(t *testing.T) {
	m := newModel(&stubService{})

	m, _ = press(t, m, '?')
	if m.overlay != OverlayHelp {
		t.Fatal("? should open help")
	}
	if m.View() == "" {
		t.Error("help overlay should render")
	}

	// Operation keys are inert under an overlay.
	m, cmd := press(t, m, 's')
	if len(results(cmd)) != 0 || m.view.Phase != session.PhaseIdle {
		t.Error("overlay should swallow operation keys")
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	if m.overlay != OverlayNone {
		t.Error("esc should close overlay")
	}

	m, _ = press(t, m, 'd')
	if !strings.Contains(m.View(), "EVENT LOG") {
		t.Error("d should show the event log")
	}
	m, _ = press(t, m, 'd')
	if m.overlay != OverlayNone {
		t.Error("d should toggle the event log")
	}
}

func TestQuitCancelsContext(t *testing.T) {
	m := newModel(&stubService{})
	next, cmd := m.Update(runeKey('q'))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if next.(Model).ctx.Err() == nil {
		t.Error("quit should cancel the model context")
	}
}

func TestObserversReceiveTransitions(t *testing.T) {
	var got []session.Outcome
	m := New(Config{
		Service:        &stubService{},
		StreamEndpoint: "http://cam/video_feed",
		Logger:         zerolog.Nop(),
		Observers:      []session.Observer{func(tr session.Transition) { got = append(got, tr.Outcome) }},
	})
	next, cmd := m.Update(runeKey('s'))
	deliver(t, next.(Model), cmd)
	if len(got) != 2 || got[0] != session.OutcomeStarted || got[1] != session.OutcomeSuccess {
		t.Errorf("outcomes = %v", got)
	}
}

func TestEventsSeqDropLogsRestart(t *testing.T) {
	m := New(Config{
		Service:        &stubService{},
		StreamEndpoint: "http://cam/video_feed",
		Events:         client.NewEventsClient("ws://cam/ws", zerolog.Nop()),
		Logger:         zerolog.Nop(),
	})

	for _, seq := range []uint64{5, 6} {
		next, cmd := m.Update(client.CameraStatusMsg{Seq: seq, Status: client.CameraStatus{Running: true}})
		m = next.(Model)
		if cmd == nil {
			t.Fatal("snapshot should schedule the next read")
		}
	}
	if len(m.debug.Entries) != 0 {
		t.Fatalf("increasing seq logged %d entries", len(m.debug.Entries))
	}
	if m.statusBar.Camera == nil || !m.statusBar.Camera.Running {
		t.Fatal("status bar should hold the snapshot")
	}

	next, _ := m.Update(client.CameraStatusMsg{Seq: 1})
	m = next.(Model)
	if len(m.debug.Entries) != 1 || !strings.Contains(m.debug.Entries[0].Message, "service restarted (seq 6 → 1)") {
		t.Errorf("entries = %+v", m.debug.Entries)
	}
}
