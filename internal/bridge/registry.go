package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/rajeevrajeshuni/audiobridge/internal/config"
	"github.com/rajeevrajeshuni/audiobridge/internal/observe"
)

// supersedeWait bounds how long a new connection waits for its predecessor's
// teardown before proceeding anyway.
const supersedeWait = 2 * time.Second

// Registry accepts WebSocket upgrades and enforces one active connection per
// user. The connection map is the only state shared across users; everything
// else is owned by the individual connections.
type Registry struct {
	cfg     *config.Config
	dial    SessionDialer
	metrics *observe.Metrics
	log     *slog.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

func NewRegistry(cfg *config.Config, dial SessionDialer, m *observe.Metrics, log *slog.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		dial:    dial,
		metrics: m,
		log:     log,
		conns:   make(map[string]*Connection),
	}
}

// HandleWS upgrades the request and runs a connection until it terminates.
// An existing connection for the same user is closed and awaited first, so a
// reconnect always wins over a stale predecessor.
func (reg *Registry) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		reg.log.Warn("websocket accept failed", "user", userID, "err", err)
		return
	}

	conn := NewConnection(userID, sock, reg.cfg, reg.dial, reg.metrics, reg.log)

	// Supersede any prior connection. The slot is cleared and Close initiated
	// while the lock is held, so two upgrades racing on the same user cannot
	// both pass the check; the lock is released only for the done-wait so
	// other users' upgrades are never blocked behind one slow teardown. The
	// loop re-checks the slot after waiting in case another upgrade for this
	// user registered in the meantime.
	reg.mu.Lock()
	for {
		prev, ok := reg.conns[userID]
		if !ok {
			break
		}
		delete(reg.conns, userID)
		prev.Close()
		reg.mu.Unlock()
		reg.log.Info("superseding connection", "user", userID)
		select {
		case <-prev.Done():
		case <-time.After(supersedeWait):
			reg.log.Warn("predecessor teardown timed out", "user", userID)
		}
		reg.mu.Lock()
	}
	reg.conns[userID] = conn
	reg.mu.Unlock()

	reg.metrics.ActiveConnections.Add(r.Context(), 1)
	reg.log.Info("websocket connected", "user", userID)

	defer func() {
		reg.mu.Lock()
		// Only remove our own entry; a successor may already hold the slot.
		if reg.conns[userID] == conn {
			delete(reg.conns, userID)
		}
		reg.mu.Unlock()
		conn.Close()
		reg.metrics.ActiveConnections.Add(r.Context(), -1)
		reg.log.Info("websocket disconnected", "user", userID)
	}()

	conn.Run()
}

// HandleHealth reports liveness and the current connection count.
func (reg *Registry) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "healthy",
		"connections": reg.Count(),
	})
}

// Count returns the number of registered connections.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.conns)
}
