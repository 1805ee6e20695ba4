package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/voxatar/voxatar/internal/pipeline"
	"github.com/voxatar/voxatar/internal/resilience"
	"github.com/voxatar/voxatar/pkg/event"
	"github.com/voxatar/voxatar/pkg/fault"
	llmmock "github.com/voxatar/voxatar/pkg/provider/llm/mock"
)

func testFactory() Factory {
	return func(sessionID string) (*pipeline.Pipeline, error) {
		return pipeline.New(pipeline.Config{
			SessionID: sessionID,
			Generator: &llmmock.Generator{ReplyChunks: []string{"ok"}},
			Policy:    resilience.Policy{Deadline: time.Second, Retries: 0},
			Sink:      pipeline.SinkFunc(func(event.Outbound) {}),
		})
	}
}

func TestRegistryCreatesOnFirstContact(t *testing.T) {
	t.Parallel()

	r := New(Config{Factory: testFactory()})
	defer r.Close()

	p1, err := r.Open("alpha")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p2, err := r.Open("alpha")
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	if p1 != p2 {
		t.Error("second Open returned a different pipeline for the same id")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryMintsSessionID(t *testing.T) {
	t.Parallel()

	r := New(Config{Factory: testFactory()})
	defer r.Close()

	p, err := r.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if p.SessionID() == "" {
		t.Fatal("minted session id is empty")
	}
	if _, ok := r.Get(p.SessionID()); !ok {
		t.Error("minted session not retrievable by id")
	}
}

func TestRegistryRoutesInbound(t *testing.T) {
	t.Parallel()

	r := New(Config{Factory: testFactory()})
	defer r.Close()

	accept, err := r.HandleInbound(event.Envelope{SessionID: "s1", Kind: event.InboundText, Text: "hi"})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if accept != event.Accepted {
		t.Errorf("accept = %q, want accepted", accept)
	}
	if _, ok := r.Get("s1"); !ok {
		t.Error("session not created by inbound routing")
	}
}

func TestRegistryRejectsEmptySessionID(t *testing.T) {
	t.Parallel()

	r := New(Config{Factory: testFactory()})
	defer r.Close()

	if _, err := r.HandleInbound(event.Envelope{Kind: event.InboundText, Text: "hi"}); !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRegistryFactoryErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := New(Config{Factory: func(string) (*pipeline.Pipeline, error) { return nil, boom }})
	defer r.Close()

	if _, err := r.Open("s1"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0 after factory failure", r.Len())
	}
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()

	r := New(Config{Factory: testFactory()})
	defer r.Close()

	p, err := r.Open("s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r.Remove("s1")
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	if _, err := p.HandleInbound(event.Envelope{Kind: event.InboundText, Text: "hi"}); !errors.Is(err, fault.ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed after removal", err)
	}
	// Removing an unknown id is a no-op.
	r.Remove("never-seen")
}

func TestRegistrySweepEvictsIdleSessions(t *testing.T) {
	t.Parallel()

	r := New(Config{
		Factory:     testFactory(),
		IdleTimeout: 10 * time.Millisecond,
	})
	defer r.Close()

	if _, err := r.Open("stale"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := r.Open("fresh"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	r.sweep()

	if _, ok := r.Get("stale"); ok {
		t.Error("stale session survived the sweep")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("fresh session was evicted")
	}
}

func TestRegistryCloseShutsDownSessions(t *testing.T) {
	t.Parallel()

	r := New(Config{Factory: testFactory()})
	p, err := r.Open("s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	r.Close()

	if _, err := p.HandleInbound(event.Envelope{Kind: event.InboundText, Text: "hi"}); !errors.Is(err, fault.ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed after registry close", err)
	}
	if _, err := r.Open("s2"); !errors.Is(err, fault.ErrSessionClosed) {
		t.Errorf("Open after close: err = %v, want ErrSessionClosed", err)
	}
	// Close is idempotent.
	r.Close()
}
