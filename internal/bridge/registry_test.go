package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/rajeevrajeshuni/audiobridge/internal/config"
	"github.com/rajeevrajeshuni/audiobridge/internal/observe"
)

func TestRegistry_MissingUserID(t *testing.T) {
	dialer := &mockDialer{}
	_, srv := testRegistry(t, dialer.dial)

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestRegistry_SupersedeSingleConnection(t *testing.T) {
	dialer := &mockDialer{}
	reg, srv := testRegistry(t, dialer.dial)

	first := dialWS(t, srv, "u1")
	readEvent(t, first) // connected
	waitFor(t, "first registration", func() bool { return reg.Count() == 1 })

	second := dialWS(t, srv, "u1")
	readEvent(t, second) // connected

	// The first connection must be gone: its socket closes and exactly one
	// registration remains.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, _, err := first.Read(ctx); err == nil {
		t.Error("first connection still readable after supersede")
	}
	waitFor(t, "single registration", func() bool { return reg.Count() == 1 })

	// The survivor is the second connection: it still answers commands.
	sendCommand(t, second, Command{Action: ActionLeaveSession})
	if ev := readEvent(t, second); ev.Type != EventError {
		t.Fatalf("expected error event, got %+v", ev)
	}
}

// Upgrades must work through the observability middleware, the way main
// mounts the mux: the wrapped response writer has to stay hijackable or
// every /ws upgrade dies before the handshake completes.
func TestRegistry_UpgradeThroughMiddleware(t *testing.T) {
	dialer := &mockDialer{}
	cfg := config.Default()

	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	reg := NewRegistry(cfg, dialer.dial, m, slog.Default())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", reg.HandleWS)
	mux.HandleFunc("/health", reg.HandleHealth)
	srv := httptest.NewServer(observe.Middleware(m)(mux))
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv, "dave")
	if ev := readEvent(t, conn); ev.Type != EventConnected {
		t.Fatalf("expected connected, got %+v", ev)
	}
	joinRoom(t, conn)
}

// Racing upgrades for one user must settle on exactly one registered, live
// connection: every loser is closed, none is left running unregistered.
func TestRegistry_ConcurrentUpgradesSameUser(t *testing.T) {
	dialer := &mockDialer{}
	reg, srv := testRegistry(t, dialer.dial)

	const n = 4
	var (
		mu    sync.Mutex
		conns []*websocket.Conn
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=carol"
			c, _, err := websocket.Dial(ctx, wsURL, nil)
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}()
	}
	wg.Wait()
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close(websocket.StatusNormalClosure, "test done")
		}
	})

	// A live connection answers a ping; superseded ones have closed sockets.
	alive := func() int {
		mu.Lock()
		defer mu.Unlock()
		count := 0
		for _, c := range conns {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			if err := c.Ping(ctx); err == nil {
				count++
			}
			cancel()
		}
		return count
	}

	waitFor(t, "exactly one live connection", func() bool {
		return reg.Count() == 1 && alive() == 1
	})
}

func TestRegistry_IndependentUsers(t *testing.T) {
	dialer := &mockDialer{}
	reg, srv := testRegistry(t, dialer.dial)

	a := dialWS(t, srv, "alice")
	readEvent(t, a)
	b := dialWS(t, srv, "bob")
	readEvent(t, b)
	waitFor(t, "two registrations", func() bool { return reg.Count() == 2 })

	// Closing alice must not disturb bob.
	a.Close(4000, "bye")
	waitFor(t, "alice deregistered", func() bool { return reg.Count() == 1 })
	joinRoom(t, b)
}

func TestRegistry_Health(t *testing.T) {
	dialer := &mockDialer{}
	reg, srv := testRegistry(t, dialer.dial)

	conn := dialWS(t, srv, "u1")
	readEvent(t, conn) // connected
	waitFor(t, "registration", func() bool { return reg.Count() == 1 })

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}

	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" {
		t.Errorf("status field: got %q, want healthy", body.Status)
	}
	if body.Connections != 1 {
		t.Errorf("connections: got %d, want 1", body.Connections)
	}
}
