package ws

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is the slice of a websocket connection the hub needs. The fiber
// contrib connection satisfies it; tests register recording fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// connWriter serializes writes to one connection. The underlying websocket
// allows a single concurrent writer, while emissions arrive from any sender's
// read loop or REST handler goroutine, so every write must take the
// connection's lock.
type connWriter struct {
	mu   sync.Mutex
	conn Conn
}

func (w *connWriter) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// Hub is the presence registry: a process-local map from user identity to
// that user's live connections. A user with several tabs open holds several
// entries; every emit to the user fans out to all of them. Nothing here is
// persisted, so a restart makes everyone offline until they reconnect.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[Conn]*connWriter
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[Conn]*connWriter),
		log:     log,
	}
}

func (h *Hub) Add(userID uuid.UUID, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[Conn]*connWriter)
	}
	h.clients[userID][conn] = &connWriter{conn: conn}
}

// Remove drops one connection and reports whether it was the user's last.
func (h *Hub) Remove(userID uuid.UUID, conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[userID]
	if !ok {
		return false
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, userID)
		return true
	}
	return false
}

func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// EmitToUser pushes one event to every live connection the user holds and
// returns how many writes succeeded. Connections that fail to take the write
// are closed and evicted.
func (h *Hub) EmitToUser(userID uuid.UUID, event string, data interface{}) int {
	h.mu.RLock()
	writers := make(map[Conn]*connWriter, len(h.clients[userID]))
	for conn, w := range h.clients[userID] {
		writers[conn] = w
	}
	h.mu.RUnlock()

	written := 0
	for conn, w := range writers {
		if err := w.writeJSON(ServerEvent{Event: event, Data: data}); err != nil {
			h.log.Warnw("websocket write failed, evicting connection", "user_id", userID, "error", err)
			conn.Close()
			h.Remove(userID, conn)
			continue
		}
		written++
	}
	return written
}

// WriteToConn pushes one event to a single connection, holding the same
// per-connection lock as EmitToUser. A connection not yet registered is
// written directly; it has no competing writers before Add.
func (h *Hub) WriteToConn(userID uuid.UUID, conn Conn, event string, data interface{}) error {
	h.mu.RLock()
	w := h.clients[userID][conn]
	h.mu.RUnlock()

	if w == nil {
		return conn.WriteJSON(ServerEvent{Event: event, Data: data})
	}
	return w.writeJSON(ServerEvent{Event: event, Data: data})
}
