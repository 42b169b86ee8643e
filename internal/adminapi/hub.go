package adminapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// sessionEvent is the message shape broadcast to connected dashboards.
type sessionEvent struct {
	Type       string `json:"type"` // "established" or "closed"
	SessionID  string `json:"session_id"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Profile    string `json:"profile,omitempty"`
	Reason     string `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Hub fans session lifecycle events out to connected admin websocket
// clients and persists them to the audit log. It implements
// daemon.EventSink, generalizing the teacher's AgentConn hub from a
// per-node registry into a broadcast-only observer: the admin API watches
// the daemon, it never drives it.
type Hub struct {
	db      *gorm.DB
	log     *slog.Logger
	metrics *metrics
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewHub builds a Hub backed by db for the session audit log.
func NewHub(db *gorm.DB, log *slog.Logger) *Hub {
	return &Hub{
		db:      db,
		log:     log.With("component", "adminapi.hub"),
		metrics: newMetrics(),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// SessionEstablished implements daemon.EventSink.
func (h *Hub) SessionEstablished(id uint64, remoteAddr, profile string) {
	sessionID := fmt.Sprintf("%016x", id)
	if err := recordSessionEstablished(h.db, sessionID, remoteAddr, profile); err != nil {
		h.log.Warn("record session established", "session_id", sessionID, "err", err)
	}
	h.metrics.sessionsEstablished.Inc()
	h.metrics.sessionsActive.Inc()
	h.broadcast(sessionEvent{
		Type:       "established",
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Profile:    profile,
		At:         time.Now(),
	})
}

// SessionClosed implements daemon.EventSink. sent and dropped are the
// session's final record counters, folded into the cumulative totals since
// a closed session's own counters disappear with it.
func (h *Hub) SessionClosed(id uint64, reason string, sent, dropped uint64) {
	sessionID := fmt.Sprintf("%016x", id)
	if err := recordSessionClosed(h.db, sessionID, reason, sent, dropped); err != nil {
		h.log.Warn("record session closed", "session_id", sessionID, "err", err)
	}
	h.metrics.sessionsClosed.WithLabelValues(closeReasonLabel(reason)).Inc()
	h.metrics.sessionsActive.Dec()
	h.metrics.recordsSent.Add(float64(sent))
	h.metrics.recordsDropped.Add(float64(dropped))
	h.broadcast(sessionEvent{
		Type:      "closed",
		SessionID: sessionID,
		Reason:    reason,
		At:        time.Now(),
	})
}

// HandshakeCompleted implements daemon.EventSink.
func (h *Hub) HandshakeCompleted(success bool) {
	if success {
		h.metrics.handshakes.WithLabelValues("success").Inc()
	} else {
		h.metrics.handshakes.WithLabelValues("failure").Inc()
	}
}

// closeReasonLabel buckets a close reason into a small, bounded set of
// Prometheus label values; the full free-form error still goes to the
// audit log, but a metric label must stay low-cardinality.
func closeReasonLabel(reason string) string {
	switch {
	case strings.Contains(reason, "idle timeout"):
		return "idle_timeout"
	case strings.Contains(reason, "lifetime expired"):
		return "lifetime_expired"
	case reason == "closed":
		return "closed"
	default:
		return "error"
	}
}

func (h *Hub) broadcast(ev sessionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("marshal session event", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Debug("drop unresponsive admin websocket client", "err", err)
		}
	}
}

// HandleEvents upgrades the connection and registers it for broadcast
// session events until the client disconnects.
func (h *Hub) HandleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "err", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Drain reads just to notice the client going away; dashboards don't
	// send anything over this connection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
