package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/chorequest/chorequest/internal/queue"
	syncengine "github.com/chorequest/chorequest/internal/sync"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	time.Sleep(50 * time.Millisecond)
	return server
}

// TestServerStartStop tests the lifecycle.
func TestServerStartStop(t *testing.T) {
	server := NewServer(Config{})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if server.Addr() == "" {
		t.Error("Addr() is empty after Start()")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

// TestEventSink_BroadcastsToClients tests that sync events reach
// connected WebSocket clients.
func TestEventSink_BroadcastsToClients(t *testing.T) {
	server := startServer(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server a moment to register the client.
	deadline := time.After(2 * time.Second)
	for server.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sink := server.EventSink()
	sink(syncengine.Event{
		Type: syncengine.EventOpFailed,
		Time: time.Now(),
		Op: &queue.Op{
			ID:        "op-1",
			EntityID:  "e-1",
			Operation: queue.OpInsert,
		},
		Err: context.DeadlineExceeded,
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeOpFailed {
		t.Errorf("message type = %s, want %s", msg.Type, MessageTypeOpFailed)
	}

	var op OpData
	if err := json.Unmarshal(msg.Data, &op); err != nil {
		t.Fatalf("failed to unmarshal op data: %v", err)
	}
	if op.OpID != "op-1" || op.EntityID != "e-1" || op.Error == "" {
		t.Errorf("op data = %+v", op)
	}
}

// TestStatusEndpoint tests /api/status and /healthz.
func TestStatusEndpoint(t *testing.T) {
	server := startServer(t, Config{
		Status: func(ctx context.Context) (Status, error) {
			return Status{
				Online:      true,
				TotalPoints: 42,
				Queue:       map[string]int{"pending": 2},
				FailedOps:   1,
			}, nil
		},
	})

	resp, err := http.Get("http://" + server.Addr() + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if !status.Online || status.TotalPoints != 42 || status.Queue["pending"] != 2 {
		t.Errorf("status = %+v", status)
	}

	health, err := http.Get("http://" + server.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", health.StatusCode)
	}
}

// TestStatusEndpoint_Unconfigured tests the not-implemented response.
func TestStatusEndpoint_Unconfigured(t *testing.T) {
	server := startServer(t, Config{})

	resp, err := http.Get("http://" + server.Addr() + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}
