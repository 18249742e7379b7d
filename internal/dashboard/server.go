// Package dashboard serves sync telemetry over WebSocket and HTTP.
//
// The server broadcasts sync lifecycle events (operation completed,
// operation failed, drain finished) to connected clients and exposes a
// polled status endpoint with queue counts and the cached points total.
// This is the channel through which a UI learns that a change could not
// be saved, since mutation calls themselves never surface remote errors.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/chorequest/chorequest/internal/sync"
)

// MessageType labels a dashboard broadcast.
type MessageType string

const (
	// MessageTypeOpCompleted mirrors a completed queue operation.
	MessageTypeOpCompleted MessageType = "op_completed"
	// MessageTypeOpRetried mirrors a rescheduled queue operation.
	MessageTypeOpRetried MessageType = "op_retried"
	// MessageTypeOpFailed signals a permanently failed operation.
	MessageTypeOpFailed MessageType = "op_failed"
	// MessageTypeDrain summarizes a finished drain pass.
	MessageTypeDrain MessageType = "drain_complete"
)

// Message is one broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// OpData describes a queue operation event.
type OpData struct {
	OpID       string `json:"op_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Operation  string `json:"operation"`
	RetryCount int    `json:"retry_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DrainData summarizes a drain pass.
type DrainData struct {
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// Status is the /api/status response.
type Status struct {
	Online      bool           `json:"online"`
	TotalPoints int            `json:"total_points"`
	Queue       map[string]int `json:"queue"`
	FailedOps   int            `json:"failed_ops"`
}

// StatusFunc produces the current status snapshot for /api/status.
type StatusFunc func(ctx context.Context) (Status, error)

// Config holds server configuration.
type Config struct {
	// Port to listen on. Zero picks an ephemeral port (see Addr).
	Port int
	// Status backs the /api/status endpoint. Optional.
	Status StatusFunc
	// Logger for server activity. Nil means no logging.
	Logger *zap.Logger
}

// Server broadcasts sync telemetry to WebSocket clients.
type Server struct {
	addr     string
	status   StatusFunc
	log      *zap.Logger
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu stdsync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// NewServer creates the dashboard server. Start must be called before it
// accepts connections.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf(":%d", cfg.Port),
		status:    cfg.Status,
		log:       cfg.Logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins serving HTTP and WebSocket traffic.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("dashboard listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("dashboard server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down, closing all client connections.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// EventSink adapts the server into a sync event sink, so it can be passed
// straight to the orchestrator's Options.OnEvent.
func (s *Server) EventSink() sync.EventSink {
	return func(ev sync.Event) {
		msg, ok := convertEvent(ev)
		if !ok {
			return
		}
		s.Broadcast(msg)
	}
}

// Broadcast queues a message for all connected clients. Never blocks; a
// full buffer drops the message.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.log.Warn("broadcast channel full, dropping message",
			zap.String("type", string(msg.Type)))
	}
}

// Addr returns the actual listening address, useful when Port was 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func convertEvent(ev sync.Event) (Message, bool) {
	var typ MessageType
	var payload interface{}

	switch ev.Type {
	case sync.EventOpCompleted, sync.EventOpRetried, sync.EventOpFailed:
		switch ev.Type {
		case sync.EventOpCompleted:
			typ = MessageTypeOpCompleted
		case sync.EventOpRetried:
			typ = MessageTypeOpRetried
		default:
			typ = MessageTypeOpFailed
		}
		data := OpData{
			OpID:       ev.Op.ID,
			EntityType: string(ev.Op.EntityType),
			EntityID:   ev.Op.EntityID,
			Operation:  string(ev.Op.Operation),
			RetryCount: ev.Op.RetryCount,
		}
		if ev.Err != nil {
			data.Error = ev.Err.Error()
		}
		payload = data
	case sync.EventDrainComplete:
		typ = MessageTypeDrain
		payload = DrainData{
			Completed: ev.Completed,
			Retried:   ev.Retried,
			Failed:    ev.Failed,
		}
	default:
		return Message{}, false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, false
	}
	return Message{Type: typ, Timestamp: ev.Time, Data: raw}, true
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Error("failed to marshal broadcast", zap.Error(err))
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Debug("dashboard client connected", zap.Int("clients", count))

	go s.readLoop(conn)
}

// readLoop keeps the connection alive; client messages are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, exists := s.clients[conn]
	if exists {
		delete(s.clients, conn)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.log.Debug("dashboard client disconnected", zap.Int("clients", count))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status not configured", http.StatusNotImplemented)
		return
	}
	status, err := s.status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
