package mockcam

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func testConfig() *Config {
	cfg := Default()
	cfg.Camera = fastCamera()
	cfg.Events.SnapshotInterval = 20 * time.Millisecond
	cfg.RateLimit.Requests = 0
	return cfg
}

func newTestServer(t *testing.T, cfg *Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(cfg, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func post(t *testing.T, ts *httptest.Server, path string) (int, LifecycleReply) {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var reply LifecycleReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("POST %s: decode: %v", path, err)
	}
	return resp.StatusCode, reply
}

func TestLifecycleReplies(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	steps := []struct {
		path    string
		code    int
		status  string
		message string
	}{
		{"/capture_background", 400, "error", msgNotRunning},
		{"/stop_camera", 200, "success", msgAlreadyStopped},
		{"/start_camera", 200, "success", msgStarted},
		{"/start_camera", 200, "success", msgAlreadyRunning},
		{"/capture_background", 200, "success", msgCaptured},
		{"/stop_camera", 200, "success", msgStopped},
		{"/stop_camera", 200, "success", msgAlreadyStopped},
	}
	for _, s := range steps {
		code, reply := post(t, ts, s.path)
		if code != s.code || reply.Status != s.status || reply.Message != s.message {
			t.Fatalf("%s = %d %+v, want %d %s %q", s.path, code, reply, s.code, s.status, s.message)
		}
	}
}

func TestLifecycleRejectsGet(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	resp, err := ts.Client().Get(ts.URL + "/start_camera")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /start_camera = %d", resp.StatusCode)
	}
}

func TestFaults(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())

	srv.SetFaults(Faults{FailStart: true})
	if code, reply := post(t, ts, "/start_camera"); code != 500 || reply.Message != msgOpenFailed {
		t.Fatalf("start with fault = %d %+v", code, reply)
	}
	if srv.Camera().Running() {
		t.Fatal("failed start must leave the camera off")
	}

	srv.SetFaults(Faults{})
	post(t, ts, "/start_camera")

	srv.SetFaults(Faults{FailCapture: true})
	if code, reply := post(t, ts, "/capture_background"); code != 500 || reply.Message != msgNoRawFrame {
		t.Fatalf("capture with fault = %d %+v", code, reply)
	}

	srv.SetFaults(Faults{FailStop: true})
	if code, reply := post(t, ts, "/stop_camera"); code != 500 || reply.Message != msgStopTimeout {
		t.Fatalf("stop with fault = %d %+v", code, reply)
	}
	if !srv.Camera().Running() {
		t.Fatal("refused stop must leave the camera running")
	}

	srv.SetFaults(Faults{})
	if code, reply := post(t, ts, "/stop_camera"); code != 200 || reply.Message != msgStopped {
		t.Fatalf("stop = %d %+v", code, reply)
	}
}

func TestMalformedReplies(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())
	srv.SetFaults(Faults{MalformedReplies: true})

	resp, err := ts.Client().Post(ts.URL+"/start_camera", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusBadGateway || !strings.HasPrefix(string(body), "<html>") {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
	if srv.Camera().Running() {
		t.Error("malformed reply must not start the camera")
	}
}

func TestLatencyFault(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())
	srv.SetFaults(Faults{Latency: 50 * time.Millisecond})

	start := time.Now()
	post(t, ts, "/stop_camera")
	if took := time.Since(start); took < 50*time.Millisecond {
		t.Errorf("reply after %v, want at least 50ms", took)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = RateLimitConfig{Requests: 2, Window: time.Minute}
	_, ts := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if code, _ := post(t, ts, "/stop_camera"); code != 200 {
			t.Fatalf("request %d = %d", i, code)
		}
	}
	code, reply := post(t, ts, "/stop_camera")
	if code != http.StatusTooManyRequests || reply.Status != "error" {
		t.Errorf("third request = %d %+v", code, reply)
	}
}

func openFeed(t *testing.T, ctx context.Context, ts *httptest.Server) *multipart.Reader {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/video_feed?t=123", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] != boundary {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	return multipart.NewReader(resp.Body, params["boundary"])
}

func readPart(t *testing.T, mr *multipart.Reader) []byte {
	t.Helper()
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("part Content-Type = %q", ct)
	}
	data, err := io.ReadAll(part)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestVideoFeedWhileOff(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := openFeed(t, ctx, ts)
	off := srv.Camera().OffJPEG()
	for i := 0; i < 2; i++ {
		if got := readPart(t, mr); string(got) != string(off) {
			t.Fatalf("part %d is not the camera-off frame", i)
		}
	}
}

func TestVideoFeedFollowsCamera(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	post(t, ts, "/start_camera")
	mr := openFeed(t, ctx, ts)
	off := string(srv.Camera().OffJPEG())

	for i := 0; i < 3; i++ {
		if got := readPart(t, mr); string(got) == off {
			t.Fatalf("part %d is the camera-off frame while running", i)
		}
	}

	post(t, ts, "/stop_camera")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if string(readPart(t, mr)) == off {
			return
		}
	}
	t.Fatal("feed never switched to the camera-off frame")
}

func TestVideoFeedEndsOnClose(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())
	mr := openFeed(t, context.Background(), ts)
	readPart(t, mr)

	srv.Close()
	for {
		if _, err := mr.NextPart(); err != nil {
			return
		}
	}
}

func dialEvents(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) (WSMessage, SnapshotPayload) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw struct {
		Type    MessageType     `json:"type"`
		Seq     uint64          `json:"seq"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("read: %v", err)
	}
	var p SnapshotPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	return WSMessage{Type: raw.Type, Seq: raw.Seq}, p
}

func TestEventsFeed(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	conn := dialEvents(t, ts)

	msg, p := readSnapshot(t, conn)
	if msg.Type != MsgSnapshot || p.Running {
		t.Fatalf("first snapshot = %+v %+v", msg, p)
	}

	post(t, ts, "/start_camera")
	deadline := time.Now().Add(2 * time.Second)
	last := msg.Seq
	for time.Now().Before(deadline) {
		msg, p = readSnapshot(t, conn)
		if msg.Seq <= last {
			t.Fatalf("seq went from %d to %d", last, msg.Seq)
		}
		last = msg.Seq
		if p.Running {
			return
		}
	}
	t.Fatal("no running snapshot after start")
}

func TestEventsMaxClients(t *testing.T) {
	cfg := testConfig()
	cfg.Events.MaxClients = 1
	srv, ts := newTestServer(t, cfg)
	dialEvents(t, ts)

	deadline := time.Now().Add(time.Second)
	for srv.events.ClientCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("second client should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	post(t, ts, "/start_camera")

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health struct {
		Status  string `json:"status"`
		Running bool   `json:"running"`
	}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Status != "ok" || !health.Running {
		t.Errorf("health = %+v", health)
	}

	resp, err = ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`cloak_camera_requests_total{code="200",endpoint="start_camera"} 1`,
		"cloak_camera_running 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(testConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/start_camera", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if srv.Camera().Running() {
		t.Error("shutdown should stop the camera")
	}
}
