package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scarlet/internal/connect"
	"scarlet/internal/driver"
	"scarlet/internal/observability"
	"scarlet/internal/protocol"
	"scarlet/internal/session"
	"scarlet/internal/store"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testOrigin = "http://localhost:3000"

func testScenario() driver.Scenario {
	sc := driver.DefaultScenario()
	sc.Viewport = driver.Viewport{Width: 40, Height: 25}
	sc.ExtractDelay = 10 * time.Millisecond
	return sc
}

func newTestServer(t *testing.T, sc driver.Scenario) (*httptest.Server, *session.Manager) {
	t.Helper()
	httpSrv, mgr, _ := serveFactory(t, driver.ScriptedFactory(func() driver.Scenario { return sc }), 10*time.Millisecond)
	return httpSrv, mgr
}

func serveFactory(t *testing.T, factory driver.Factory, frameInterval time.Duration) (*httptest.Server, *session.Manager, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics()
	mgr := session.NewManager(session.Options{
		Factory: factory,
		Store:   store.NewMemory(),
		Metrics: metrics,
	})
	srv := New(Options{
		Sessions:      mgr,
		Metrics:       metrics,
		FrameInterval: frameInterval,
		AllowOrigin:   testOrigin,
	})
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		httpSrv.Close()
		mgr.Shutdown()
	})
	return httpSrv, mgr, metrics
}

// gatedDriver holds Start until gate is closed.
type gatedDriver struct {
	driver.Driver
	inStart chan<- struct{}
	gate    <-chan struct{}
}

func (d *gatedDriver) Start(ctx context.Context) error {
	d.inStart <- struct{}{}
	<-d.gate
	return d.Driver.Start(ctx)
}

func do(t *testing.T, method, url string) (*http.Response, []byte) {
	t.Helper()
	req, _ := http.NewRequest(method, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func dialStream(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/session/stream"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}
	msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		t.Fatalf("parse %s: %v", data, err)
	}
	return msg
}

// readUntilTerminal skips frames and returns the complete or error message.
func readUntilTerminal(t *testing.T, ws *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	_, msg := readFinal(t, ws)
	return msg
}

// readFinal returns the complete or error message and the frame sent just
// before it.
func readFinal(t *testing.T, ws *websocket.Conn) (*protocol.Frame, protocol.ServerMessage) {
	t.Helper()
	var last *protocol.Frame
	for i := 0; i < 500; i++ {
		msg := readMessage(t, ws)
		f, ok := msg.(*protocol.Frame)
		if !ok {
			return last, msg
		}
		last = f
	}
	t.Fatal("no terminal message after 500 frames")
	return nil, nil
}

func expectNormalClose(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func sendCommand(t *testing.T, ws *websocket.Conn, cmd protocol.Command) {
	t.Helper()
	data, _ := json.Marshal(cmd)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func TestServer_StatusIdle(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())

	resp, body := do(t, http.MethodGet, httpSrv.URL+"/api/session/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var st session.State
	json.Unmarshal(body, &st)
	if st.Status != protocol.StatusIdle || st.Message != session.MsgNotStarted {
		t.Fatalf("expected idle/Not started, got %s/%q", st.Status, st.Message)
	}
}

func TestServer_StartAndStatus(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())

	resp, body := do(t, http.MethodPost, httpSrv.URL+"/api/session/start")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, body)
	}
	var started session.State
	json.Unmarshal(body, &started)
	if started.ID == "" || started.Status != protocol.StatusAwaitingAuth {
		t.Fatalf("expected id and awaiting_auth, got %+v", started)
	}

	_, body = do(t, http.MethodGet, httpSrv.URL+"/api/session/status")
	var st session.State
	json.Unmarshal(body, &st)
	if st.ID != started.ID || st.Message != session.MsgAwaitingAuth {
		t.Fatalf("expected %s awaiting auth, got %+v", started.ID, st)
	}

	resp, body = do(t, http.MethodGet, httpSrv.URL+"/api/session/events")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var events []session.Event
	json.Unmarshal(body, &events)
	if len(events) != 1 || events[0].Status != protocol.StatusAwaitingAuth {
		t.Fatalf("expected one awaiting_auth event, got %v", events)
	}
}

func TestServer_StartFailure(t *testing.T) {
	sc := testScenario()
	sc.StartError = "chromium not found"
	httpSrv, _ := newTestServer(t, sc)

	resp, body := do(t, http.MethodPost, httpSrv.URL+"/api/session/start")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "chromium not found") {
		t.Fatalf("expected driver error in body, got %s", body)
	}
}

func TestServer_NotFoundWithoutSession(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())

	for _, path := range []string{"/api/session/screenshot", "/api/session/events", "/api/session/schedule"} {
		resp, _ := do(t, http.MethodGet, httpSrv.URL+path)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestServer_Screenshot(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())
	do(t, http.MethodPost, httpSrv.URL+"/api/session/start")

	resp, body := do(t, http.MethodGet, httpSrv.URL+"/api/session/screenshot")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	if _, err := png.Decode(bytes.NewReader(body)); err != nil {
		t.Fatalf("decode screenshot: %v", err)
	}
}

func TestServer_CloseAlwaysSucceeds(t *testing.T) {
	httpSrv, mgr := newTestServer(t, testScenario())

	for i := 0; i < 2; i++ {
		resp, body := do(t, http.MethodPost, httpSrv.URL+"/api/session/close")
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"closed"`) {
			t.Fatalf("expected closed, got %d %s", resp.StatusCode, body)
		}
	}

	do(t, http.MethodPost, httpSrv.URL+"/api/session/start")
	do(t, http.MethodPost, httpSrv.URL+"/api/session/close")
	if _, err := mgr.Current(); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("expected no session after close, got %v", err)
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())

	resp, _ := do(t, http.MethodOptions, httpSrv.URL+"/api/session/start")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Fatalf("expected allow origin %s, got %q", testOrigin, got)
	}
}

func TestServer_Metrics(t *testing.T) {
	httpSrv, _, metrics := serveFactory(t, driver.ScriptedFactory(testScenario), 10*time.Millisecond)
	do(t, http.MethodPost, httpSrv.URL+"/api/session/start")

	resp, body := do(t, http.MethodGet, httpSrv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "scarlet_active_sessions 1") {
		t.Fatalf("expected active session gauge, got:\n%s", body)
	}

	want := `
# HELP scarlet_active_sessions Number of open remote sessions
# TYPE scarlet_active_sessions gauge
scarlet_active_sessions 1
`
	if err := testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(want), "scarlet_active_sessions"); err != nil {
		t.Fatalf("registry: %v", err)
	}
	if n, err := testutil.GatherAndCount(metrics.Registry(), "scarlet_sessions_total"); err != nil || n != 0 {
		t.Fatalf("expected no finished sessions yet, got %d (%v)", n, err)
	}
}

func TestServer_StreamWithoutSession(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())
	ws := dialStream(t, httpSrv)

	msg := readMessage(t, ws)
	e, ok := msg.(*protocol.Error)
	if !ok || e.Message != MsgNoSession {
		t.Fatalf("expected error %q, got %#v", MsgNoSession, msg)
	}
	expectNormalClose(t, ws)
}

func TestServer_StreamRejectsForeignOrigin(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/session/stream"

	hdr := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err == nil {
		t.Fatal("expected dial to fail for foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestServer_StreamFrames(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())
	do(t, http.MethodPost, httpSrv.URL+"/api/session/start")
	ws := dialStream(t, httpSrv)

	msg := readMessage(t, ws)
	f, ok := msg.(*protocol.Frame)
	if !ok {
		t.Fatalf("expected frame, got %#v", msg)
	}
	if f.Status != protocol.StatusAwaitingAuth || f.Message != session.MsgAwaitingAuth {
		t.Fatalf("expected awaiting_auth frame, got %s/%q", f.Status, f.Message)
	}
	if _, err := png.Decode(bytes.NewReader(f.Image)); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
}

func TestServer_StreamInputToCompletion(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())
	do(t, http.MethodPost, httpSrv.URL+"/api/session/start")
	ws := dialStream(t, httpSrv)
	readMessage(t, ws)

	// Dropped without closing the stream.
	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"keypress","key":"F13"}`))
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"type","text":""}`))
	sendCommand(t, ws, protocol.Keypress{Key: "Enter"})

	msg := readUntilTerminal(t, ws)
	c, ok := msg.(*protocol.Complete)
	if !ok {
		t.Fatalf("expected complete, got %#v", msg)
	}
	if c.Schedule.Term != "Spring 2025" || len(c.Schedule.Courses) != 2 {
		t.Fatalf("unexpected schedule %+v", c.Schedule)
	}
	if c.Message != "Done! Found 2 courses." {
		t.Fatalf("unexpected message %q", c.Message)
	}
	expectNormalClose(t, ws)

	resp, body := do(t, http.MethodGet, httpSrv.URL+"/api/session/schedule")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected saved schedule, got %d", resp.StatusCode)
	}
	var rec store.Record
	json.Unmarshal(body, &rec)
	if rec.Schedule == nil || rec.Schedule.Term != "Spring 2025" {
		t.Fatalf("unexpected record %s", body)
	}
}

func TestServer_StreamSendsFirstFrameOnConnect(t *testing.T) {
	httpSrv, _, _ := serveFactory(t, driver.ScriptedFactory(testScenario), time.Hour)
	do(t, http.MethodPost, httpSrv.URL+"/api/session/start")
	ws := dialStream(t, httpSrv)

	msg := readMessage(t, ws)
	f, ok := msg.(*protocol.Frame)
	if !ok || f.Status != protocol.StatusAwaitingAuth || len(f.Image) == 0 {
		t.Fatalf("expected an awaiting_auth frame before the first tick, got %#v", msg)
	}
}

func TestServer_StreamFinalFrameBeforeComplete(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())
	do(t, http.MethodPost, httpSrv.URL+"/api/session/start")
	ws := dialStream(t, httpSrv)

	sendCommand(t, ws, protocol.Keypress{Key: "Enter"})
	last, msg := readFinal(t, ws)
	if _, ok := msg.(*protocol.Complete); !ok {
		t.Fatalf("expected complete, got %#v", msg)
	}
	if last == nil || last.Status != protocol.StatusComplete {
		t.Fatalf("expected a complete frame before the complete message, got %#v", last)
	}
	if last.Message != "Done! Found 2 courses." {
		t.Fatalf("unexpected final frame message %q", last.Message)
	}
	if _, err := png.Decode(bytes.NewReader(last.Image)); err != nil {
		t.Fatalf("decode final frame: %v", err)
	}
}

func TestServer_StreamExtractionError(t *testing.T) {
	sc := testScenario()
	sc.ExtractError = "schedule table not found"
	httpSrv, _ := newTestServer(t, sc)
	do(t, http.MethodPost, httpSrv.URL+"/api/session/start")
	ws := dialStream(t, httpSrv)

	sendCommand(t, ws, protocol.Keypress{Key: "Enter"})
	last, msg := readFinal(t, ws)
	e, ok := msg.(*protocol.Error)
	if !ok || e.Message != "schedule table not found" {
		t.Fatalf("expected extraction error, got %#v", msg)
	}
	if last == nil || last.Status != protocol.StatusError {
		t.Fatalf("expected an error frame before the error message, got %#v", last)
	}
	expectNormalClose(t, ws)
}

func TestServer_StreamEndsWhenSessionClosed(t *testing.T) {
	httpSrv, _ := newTestServer(t, testScenario())
	do(t, http.MethodPost, httpSrv.URL+"/api/session/start")
	ws := dialStream(t, httpSrv)
	readMessage(t, ws)

	do(t, http.MethodPost, httpSrv.URL+"/api/session/close")
	msg := readUntilTerminal(t, ws)
	e, ok := msg.(*protocol.Error)
	if !ok || e.Message != MsgSessionClosed {
		t.Fatalf("expected %q, got %#v", MsgSessionClosed, msg)
	}
}

func TestServer_EndToEndWithConnectClient(t *testing.T) {
	sc := testScenario()
	sc.Login = driver.Login{Username: "buckeye.1", Password: "hunter2"}
	httpSrv, _ := newTestServer(t, sc)

	client := connect.New(connect.Options{RelayURL: httpSrv.URL, RevealDelay: 20 * time.Millisecond})
	t.Cleanup(client.Dispose)

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		s := client.Snapshot()
		return s.Status == protocol.StatusAwaitingAuth && s.Image != nil
	})

	text := client.NewTextInput()
	text.WriteString("buckeye.1")
	text.Flush()
	client.KeyDown("Tab")
	text.WriteString("hunter2")
	text.Flush()
	if !client.KeyDown("Enter") {
		t.Fatal("expected Enter to be consumed")
	}

	waitFor(t, func() bool { return client.Snapshot().Schedule != nil })
	snap := client.Snapshot()
	if snap.Status != protocol.StatusComplete {
		t.Fatalf("expected complete, got %s", snap.Status)
	}
	rows := snap.Rows()
	want := "CSE 2421 | Systems I | Mon Wed | 9:00 AM – 10:15 AM | Caldwell 100"
	if len(rows) != 2 || rows[0] != want {
		t.Fatalf("expected first row %q, got %v", want, rows)
	}
}

func TestServer_ClientDisposedDuringStart(t *testing.T) {
	inStart := make(chan struct{}, 1)
	gate := make(chan struct{})
	sc := testScenario()
	httpSrv, mgr, _ := serveFactory(t, func() driver.Driver {
		return &gatedDriver{Driver: driver.NewScripted(sc), inStart: inStart, gate: gate}
	}, 10*time.Millisecond)

	client := connect.New(connect.Options{RelayURL: httpSrv.URL})
	errc := make(chan error, 1)
	go func() { errc <- client.Start(context.Background()) }()

	select {
	case <-inStart:
	case <-time.After(2 * time.Second):
		t.Fatal("browser start never began")
	}
	client.Dispose()
	close(gate)

	if err := <-errc; !errors.Is(err, connect.ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	if sess, err := mgr.Current(); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("expected the late session to be closed, still holding %v", sess.ID)
	}
	if got := mgr.Status().Status; got != protocol.StatusIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
