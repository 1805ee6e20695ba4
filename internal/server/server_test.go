package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxatar/voxatar/internal/pipeline"
	"github.com/voxatar/voxatar/internal/registry"
	"github.com/voxatar/voxatar/internal/resilience"
	"github.com/voxatar/voxatar/pkg/event"
	llmmock "github.com/voxatar/voxatar/pkg/provider/llm/mock"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// startServer wires a Server to a registry whose sessions reply "Hi!" and
// emit through the server's per-session sinks.
func startServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	s := New(Config{ListenAddr: ":0"})
	reg := registry.New(registry.Config{
		Factory: func(sessionID string) (*pipeline.Pipeline, error) {
			return pipeline.New(pipeline.Config{
				SessionID: sessionID,
				Generator: &llmmock.Generator{ReplyChunks: []string{"Hi!"}},
				Policy:    resilience.Policy{Deadline: time.Second, Retries: 0},
				Sink:      s.SessionSink(sessionID),
			})
		},
	})
	t.Cleanup(reg.Close)
	s.AttachRegistry(reg)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, s
}

// readFrame reads one text frame and decodes it into a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return frame
}

func TestCreateSession(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	resp, err := http.Post(srv.URL+"/session", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["session_id"] == "" {
		t.Error("no session_id in response")
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/session/never-created", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: status = %d, want 404", resp.StatusCode)
	}

	created, err := http.Post(srv.URL+"/session", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session: %v", err)
	}
	var body map[string]string
	if err := json.NewDecoder(created.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	created.Body.Close()

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/session/"+body["session_id"], nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestSessionWSRoundTrip(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/session/s1/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	env, _ := json.Marshal(event.Envelope{Kind: event.InboundText, Text: "hello"})
	if err := conn.Write(ctx, websocket.MessageText, env); err != nil {
		t.Fatalf("write envelope: %v", err)
	}

	// Expect the ack plus the turn's transcript and reply events, in any
	// interleaving of ack and first event.
	var kinds []string
	sawAck := false
	for len(kinds) < 2 {
		frame := readFrame(t, conn)
		if frame["type"] == "ack" {
			sawAck = true
			if frame["accept"] != string(event.Accepted) {
				t.Fatalf("ack accept = %v, want accepted", frame["accept"])
			}
			if frame["error"] != nil {
				t.Fatalf("ack error = %v", frame["error"])
			}
			continue
		}
		kinds = append(kinds, frame["kind"].(string))
		if frame["session_id"] != "s1" {
			t.Errorf("event session_id = %v, want s1", frame["session_id"])
		}
	}
	if !sawAck {
		t.Error("no ack frame received")
	}
	if kinds[0] != string(event.KindTranscript) || kinds[1] != string(event.KindReplyDelta) {
		t.Errorf("event kinds = %v, want transcript then reply delta", kinds)
	}
}

func TestSessionWSMalformedEnvelope(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/session/s2/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "ack" || frame["error"] != "malformed envelope" {
		t.Errorf("frame = %v, want malformed-envelope ack", frame)
	}
}

func TestSessionWSEmptyTextRejected(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/session/s3/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	env, _ := json.Marshal(event.Envelope{Kind: event.InboundText})
	if err := conn.Write(ctx, websocket.MessageText, env); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "ack" {
		t.Fatalf("frame = %v, want ack", frame)
	}
	errText, _ := frame["error"].(string)
	if !strings.HasPrefix(errText, "invalid message") {
		t.Errorf("ack error = %q, want invalid message", errText)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
