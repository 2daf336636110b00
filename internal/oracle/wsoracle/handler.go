package wsoracle

import (
	"context"
	"encoding/json"
	"log"
	nethttp "net/http"
	"sync"

	"github.com/gorilla/websocket"

	"pathpilot/internal/geom"
	"pathpilot/internal/oracle"
)

// DefaultPath is the route the oracle handler is mounted on.
const DefaultPath = "/oracle"

type HandlerConfig struct {
	Logger *log.Logger
}

// Handler serves an oracle.Oracle to websocket clients.
type Handler struct {
	oracle   oracle.Oracle
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(o oracle.Oracle, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		oracle:   o,
		logger:   logger,
		upgrader: upgrader,
	}
}

// NewMux mounts the handler on DefaultPath.
func NewMux(h *Handler) *nethttp.ServeMux {
	mux := nethttp.NewServeMux()
	mux.HandleFunc(DefaultPath, h.Handle)
	return mux
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[oracle] upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	h.serve(conn)
}

type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

func (s *session) writeJSON(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) take(id string) (context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.inflight[id]
	if ok {
		delete(s.inflight, id)
	}
	return cancel, ok
}

func (h *Handler) serve(conn *websocket.Conn) {
	ctx, cancelAll := context.WithCancel(context.Background())
	s := &session{conn: conn, inflight: make(map[string]context.CancelFunc)}
	defer func() {
		cancelAll()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Printf("[oracle] discarding malformed message: %v", err)
			continue
		}

		switch msg.Type {
		case TypePath:
			if msg.ID == "" {
				continue
			}
			reqCtx, cancel := context.WithCancel(ctx)
			if msg.From != nil {
				reqCtx = oracle.WithOrigin(reqCtx, geom.Point{X: msg.From.X, Y: msg.From.Y})
			}
			s.mu.Lock()
			if previous, ok := s.inflight[msg.ID]; ok {
				previous()
			}
			s.inflight[msg.ID] = cancel
			s.mu.Unlock()

			id := msg.ID
			h.oracle.RequestPath(reqCtx, geom.Point{X: msg.X, Y: msg.Y}, func(waypoints []geom.Waypoint) {
				release, ok := s.take(id)
				if !ok {
					return
				}
				release()
				if err := s.writeJSON(message{Type: TypeResult, ID: id, Path: encodePath(waypoints)}); err != nil {
					h.logger.Printf("[oracle] failed to deliver result %s: %v", id, err)
				}
			})
		case TypeCancel:
			if cancel, ok := s.take(msg.ID); ok {
				cancel()
			}
		case TypePing:
			if err := s.writeJSON(message{Type: TypePong}); err != nil {
				return
			}
		default:
			h.logger.Printf("[oracle] unknown message type %q", msg.Type)
		}
	}
}
