package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const simConfig = `{
  "EPOS": {"SIMULATE": true},
  "DAQ": {"DURATION": 0.01, "BIASSECONDS": 0.01},
  "MOTION": {"TARGET": 2, "STEP": 1, "SPEED": 8000}
}`

const identity6 = `1 0 0 0 0 0
0 1 0 0 0 0
0 0 1 0 0 0
0 0 0 1 0 0
0 0 0 0 1 0
0 0 0 0 0 1
`

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(nil, "")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Close()
		ts.Close()
	})
	return s, ts
}

func upload(t *testing.T, ts *httptest.Server, path, name, body string) (*http.Response, UploadResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.WriteString(fw, body)
	_ = mw.Close()
	resp, err := http.Post(ts.URL+path, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out UploadResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func postJSON(t *testing.T, ts *httptest.Server, path string, v interface{}, out interface{}) int {
	t.Helper()
	b, _ := json.Marshal(v)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func connectSim(t *testing.T, ts *httptest.Server) ConnectResponse {
	t.Helper()
	resp, cfg := upload(t, ts, "/api/upload/config", "config.json", simConfig)
	if resp.StatusCode != 200 || cfg.Kind != "config" {
		t.Fatalf("upload config: %d %+v", resp.StatusCode, cfg)
	}
	resp, cal := upload(t, ts, "/api/upload/calibration", "cal.txt", identity6)
	if resp.StatusCode != 200 || cal.Outputs != 6 || cal.Channels != 6 {
		t.Fatalf("upload calibration: %d %+v", resp.StatusCode, cal)
	}
	var conn ConnectResponse
	if code := postJSON(t, ts, "/api/connect", ConnectRequest{ConfigID: cfg.ID, CalibrationID: cal.ID}, &conn); code != 200 {
		t.Fatalf("connect: %d", code)
	}
	return conn
}

func dialHub(t *testing.T, ts *httptest.Server, path string, hub *WSHub) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return c
}

func readUntil(t *testing.T, c *websocket.Conn, typ string) wsEnvelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg wsEnvelope
		if err := c.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if msg.Type == "error" {
			t.Fatalf("server error: %s", msg.Data)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil || !h.OK {
		t.Fatalf("health = %+v, %v", h, err)
	}
}

func TestUploadRejectsBadFiles(t *testing.T) {
	_, ts := newTestServer(t)
	if resp, _ := upload(t, ts, "/api/upload/config", "config.json", `{"DAQ": {"TERMINAL": "QUAD"}}`); resp.StatusCode != 400 {
		t.Errorf("bad config: status %d", resp.StatusCode)
	}
	if resp, _ := upload(t, ts, "/api/upload/calibration", "cal.txt", "1 2\n3\n"); resp.StatusCode != 400 {
		t.Errorf("ragged calibration: status %d", resp.StatusCode)
	}
}

func TestUploadYAMLConfig(t *testing.T) {
	_, ts := newTestServer(t)
	resp, out := upload(t, ts, "/api/upload/config", "rig.yaml", "EPOS:\n  SIMULATE: true\n")
	if resp.StatusCode != 200 || out.ID == "" {
		t.Fatalf("status %d, %+v", resp.StatusCode, out)
	}
}

func TestNotConnected(t *testing.T) {
	_, ts := newTestServer(t)
	for _, path := range []string{"/api/bias", "/api/home", "/api/sweep/start", "/api/live/start"} {
		if code := postJSON(t, ts, path, nil, nil); code != 400 {
			t.Errorf("%s: status %d, want 400", path, code)
		}
	}
	if code := postJSON(t, ts, "/api/connect", ConnectRequest{ConfigID: "nope"}, nil); code != 404 {
		t.Errorf("connect unknown config: status %d", code)
	}
	resp, err := http.Get(ts.URL + "/api/download")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("download without id: status %d", resp.StatusCode)
	}
}

func TestConnectChannelMismatch(t *testing.T) {
	_, ts := newTestServer(t)
	_, cfg := upload(t, ts, "/api/upload/config", "config.json", simConfig)
	_, cal := upload(t, ts, "/api/upload/calibration", "cal.txt", "1 0 0\n0 1 0\n")
	var apiErr APIError
	code := postJSON(t, ts, "/api/connect", ConnectRequest{ConfigID: cfg.ID, CalibrationID: cal.ID}, &apiErr)
	if code != 400 || !strings.Contains(apiErr.Error, "dimension") {
		t.Fatalf("status %d, error %q", code, apiErr.Error)
	}
}

func TestBias(t *testing.T) {
	_, ts := newTestServer(t)
	conn := connectSim(t, ts)
	if len(conn.Channels) != 6 || conn.Steps != 2 || conn.Position != 0 {
		t.Fatalf("connect = %+v", conn)
	}
	var out BiasResponse
	if code := postJSON(t, ts, "/api/bias", nil, &out); code != 200 || len(out.Bias) != 6 {
		t.Fatalf("bias: %d %+v", code, out)
	}
	if code := postJSON(t, ts, "/api/disconnect", nil, nil); code != 200 {
		t.Fatalf("disconnect: %d", code)
	}
	if code := postJSON(t, ts, "/api/bias", nil, nil); code != 400 {
		t.Fatalf("bias after disconnect: %d", code)
	}
}

func TestSweepStreamsAndStoresLog(t *testing.T) {
	s, ts := newTestServer(t)
	connectSim(t, ts)
	ws := dialHub(t, ts, "/ws/sweep", s.wsSweep)

	if code := postJSON(t, ts, "/api/sweep/start", nil, nil); code != 200 {
		t.Fatalf("sweep start: %d", code)
	}
	readUntil(t, ws, "progress")
	msg := readUntil(t, ws, "done")
	var done SweepDoneDTO
	if err := json.Unmarshal(msg.Data, &done); err != nil {
		t.Fatal(err)
	}
	if done.Error != "" || done.Records != 2 || done.LogID == "" {
		t.Fatalf("done = %+v", done)
	}

	resp, err := http.Get(ts.URL + "/api/download?id=" + done.LogID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.Header.Get("Content-Type") != "text/csv" {
		t.Errorf("content type %q", resp.Header.Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 7 || !strings.HasPrefix(lines[2], "Simulated:,\"motor, DAQ\"") || !strings.HasPrefix(lines[4], "Sample No.,Fx") {
		t.Fatalf("log =\n%s", body)
	}

	var apiErr APIError
	if code := postJSON(t, ts, "/api/log/rezero", RezeroRequest{LogID: done.LogID}, &apiErr); code != 400 {
		t.Fatalf("rezero without bias: %d %q", code, apiErr.Error)
	}
	if code := postJSON(t, ts, "/api/bias", nil, nil); code != 200 {
		t.Fatalf("bias: %d", code)
	}
	var rez UploadResponse
	if code := postJSON(t, ts, "/api/log/rezero", RezeroRequest{LogID: done.LogID}, &rez); code != 200 || rez.ID == "" || rez.ID == done.LogID {
		t.Fatalf("rezero: %d %+v", code, rez)
	}
	if code := postJSON(t, ts, "/api/log/rezero", RezeroRequest{LogID: "nope"}, nil); code != 404 {
		t.Fatalf("rezero unknown log: %d", code)
	}
}

func TestLiveStartStop(t *testing.T) {
	s, ts := newTestServer(t)
	connectSim(t, ts)
	ws := dialHub(t, ts, "/ws/live", s.wsLive)

	if code := postJSON(t, ts, "/api/live/start", nil, nil); code != 200 {
		t.Fatalf("live start: %d", code)
	}
	msg := readUntil(t, ws, "reading")
	var rd ReadingDTO
	if err := json.Unmarshal(msg.Data, &rd); err != nil || len(rd.Values) != 6 {
		t.Fatalf("reading = %+v, %v", rd, err)
	}
	if code := postJSON(t, ts, "/api/live/stop", nil, nil); code != 200 {
		t.Fatalf("live stop: %d", code)
	}
	readUntil(t, ws, "stopped")
}
