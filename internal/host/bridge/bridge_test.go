package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabnap/tabnap/internal/host"
)

// mockExtension simulates the browser extension side of the protocol.
type mockExtension struct {
	t    *testing.T
	conn *websocket.Conn

	mu      sync.Mutex
	handler func(req frame) *frame // nil return means no response
}

func newTestBridge(t *testing.T) (*Bridge, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CallTimeout = 2 * time.Second
	b := New(cfg, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(b.handleConnect))
	t.Cleanup(srv.Close)
	return b, srv
}

func dialExtension(t *testing.T, srv *httptest.Server) *mockExtension {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ext := &mockExtension{t: t, conn: conn}
	go ext.serve()
	return ext
}

func (m *mockExtension) setHandler(fn func(req frame) *frame) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

func (m *mockExtension) serve() {
	for {
		_, msg, err := m.conn.ReadMessage()
		if err != nil {
			return
		}
		var req frame
		if err := json.Unmarshal(msg, &req); err != nil || req.Type != "req" {
			continue
		}
		m.mu.Lock()
		fn := m.handler
		m.mu.Unlock()
		if fn == nil {
			continue
		}
		if resp := fn(req); resp != nil {
			resp.Type = "res"
			resp.ID = req.ID
			m.mu.Lock()
			m.conn.WriteJSON(resp)
			m.mu.Unlock()
		}
	}
}

func (m *mockExtension) sendEvent(event string, payload tabEventPayload) {
	raw, _ := json.Marshal(payload)
	m.mu.Lock()
	m.conn.WriteJSON(frame{Type: "event", Event: event, Payload: raw})
	m.mu.Unlock()
}

func okFrame(payload interface{}) *frame {
	ok := true
	raw, _ := json.Marshal(payload)
	return &frame{OK: &ok, Payload: raw}
}

func waitConnected(t *testing.T, b *Bridge) {
	t.Helper()
	require.Eventually(t, b.IsConnected, time.Second, 5*time.Millisecond)
}

func TestTabsRoundTrip(t *testing.T) {
	b, srv := newTestBridge(t)
	ext := dialExtension(t, srv)
	waitConnected(t, b)

	ext.setHandler(func(req frame) *frame {
		require.Equal(t, "tabs.query", req.Method)
		return okFrame([]host.Tab{
			{ID: 1, WindowID: 1, URL: "https://example.com/a"},
			{ID: 2, WindowID: 1, URL: "https://example.com/b", Active: true},
		})
	})

	tabs, err := b.Tabs(context.Background())
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	assert.Equal(t, "https://example.com/b", tabs[1].URL)
	assert.True(t, tabs[1].Active)
}

func TestCreateSendsParams(t *testing.T) {
	b, srv := newTestBridge(t)
	ext := dialExtension(t, srv)
	waitConnected(t, b)

	ext.setHandler(func(req frame) *frame {
		require.Equal(t, "tabs.create", req.Method)
		var opts host.CreateOptions
		require.NoError(t, json.Unmarshal(req.Params, &opts))
		assert.Equal(t, 3, opts.Index)
		return okFrame(host.Tab{ID: 9, WindowID: 1, Index: 3, URL: opts.URL})
	})

	tab, err := b.Create(context.Background(), host.CreateOptions{
		WindowID: 1,
		Index:    3,
		URL:      "chrome-extension://tabnap/suspended.html?url=x",
	})
	require.NoError(t, err)
	assert.Equal(t, 9, tab.ID)
}

func TestTabNotFoundMapsToSentinel(t *testing.T) {
	b, srv := newTestBridge(t)
	ext := dialExtension(t, srv)
	waitConnected(t, b)

	ext.setHandler(func(req frame) *frame {
		ok := false
		return &frame{OK: &ok, Error: &frameError{Code: codeTabNotFound, Message: "no such tab"}}
	})

	_, err := b.Tab(context.Background(), 404)
	assert.ErrorIs(t, err, host.ErrTabNotFound)
}

func TestNotConnected(t *testing.T) {
	b, _ := newTestBridge(t)

	_, err := b.Tabs(context.Background())
	assert.ErrorIs(t, err, host.ErrNotConnected)
}

func TestEventsForwarded(t *testing.T) {
	b, srv := newTestBridge(t)
	ext := dialExtension(t, srv)
	waitConnected(t, b)

	ext.sendEvent(eventTabActivated, tabEventPayload{TabID: 7})
	ext.sendEvent(eventTabUpdated, tabEventPayload{TabID: 7, URL: "https://example.com/next"})

	select {
	case ev := <-b.Events():
		assert.Equal(t, host.EventActivated, ev.Kind)
		assert.Equal(t, 7, ev.TabID)
	case <-time.After(time.Second):
		t.Fatal("no activated event")
	}
	select {
	case ev := <-b.Events():
		assert.Equal(t, host.EventUpdated, ev.Kind)
		assert.Equal(t, "https://example.com/next", ev.URL)
	case <-time.After(time.Second):
		t.Fatal("no updated event")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	b, srv := newTestBridge(t)
	ext := dialExtension(t, srv)
	waitConnected(t, b)

	ext.sendEvent("tab.zoomed", tabEventPayload{TabID: 1})
	ext.sendEvent(eventTabRemoved, tabEventPayload{TabID: 2})

	select {
	case ev := <-b.Events():
		assert.Equal(t, host.EventRemoved, ev.Kind)
		assert.Equal(t, 2, ev.TabID)
	case <-time.After(time.Second):
		t.Fatal("removed event not forwarded")
	}
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	b, srv := newTestBridge(t)
	ext := dialExtension(t, srv)
	waitConnected(t, b)

	ext.setHandler(func(req frame) *frame {
		ext.conn.Close()
		return nil
	})

	_, err := b.Tabs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
	assert.False(t, b.IsConnected())
}

func TestCallTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	b := New(cfg, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(b.handleConnect))
	t.Cleanup(srv.Close)

	dialExtension(t, srv) // attached but never answers
	waitConnected(t, b)

	_, err := b.Tabs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestShutdownWhileCallInFlight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallTimeout = 200 * time.Millisecond
	b := New(cfg, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(b.handleConnect))
	t.Cleanup(srv.Close)

	dialExtension(t, srv) // attached but never answers
	waitConnected(t, b)

	done := make(chan error, 1)
	go func() {
		_, err := b.Tabs(context.Background())
		done <- err
	}()

	// The close frame and the call's request frame share the connection.
	require.NoError(t, b.Shutdown(context.Background()))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("call did not return after shutdown")
	}
}

func TestStaleConnectionCleanupKeepsCurrentCalls(t *testing.T) {
	b, srv := newTestBridge(t)
	dialExtension(t, srv)
	waitConnected(t, b)

	stale := &websocket.Conn{}
	staleCh := make(chan frame, 1)
	liveCh := make(chan frame, 1)
	b.mu.Lock()
	b.pending["stale"] = pendingCall{ch: staleCh, conn: stale}
	b.pending["live"] = pendingCall{ch: liveCh, conn: b.conn}
	b.mu.Unlock()

	b.failPending(stale)

	select {
	case f := <-staleCh:
		require.NotNil(t, f.Error)
		assert.Equal(t, "DISCONNECTED", f.Error.Code)
	default:
		t.Fatal("stale call not failed")
	}
	select {
	case <-liveCh:
		t.Fatal("call on the current connection was failed")
	default:
	}
	assert.True(t, b.IsConnected())
}

func TestNewConnectionReplacesOld(t *testing.T) {
	b, srv := newTestBridge(t)
	dialExtension(t, srv)
	waitConnected(t, b)

	second := dialExtension(t, srv)
	second.setHandler(func(req frame) *frame {
		return okFrame([]host.Tab{{ID: 42, WindowID: 1, URL: "https://example.com"}})
	})

	// The replacement connection serves calls.
	require.Eventually(t, func() bool {
		tabs, err := b.Tabs(context.Background())
		return err == nil && len(tabs) == 1 && tabs[0].ID == 42
	}, 2*time.Second, 20*time.Millisecond)
}
