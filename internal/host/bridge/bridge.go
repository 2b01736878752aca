// Package bridge exposes the browser over a WebSocket connection. The
// extension's background worker dials in and stays attached; every Host
// call becomes a correlated request frame and tab lifecycle events flow
// back as event frames.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tabnap/tabnap/internal/host"
)

// Config holds bridge listener settings.
type Config struct {
	// Addr is the listen address, e.g. ":7533".
	Addr string

	// Path is the WebSocket endpoint path the extension dials.
	Path string

	// CallTimeout bounds a single request round-trip to the extension.
	CallTimeout time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":7533",
		Path:        "/ws/host",
		CallTimeout: 10 * time.Second,
	}
}

// --- Protocol frames ---

// frame is a raw protocol frame.
type frame struct {
	Type    string          `json:"type"`              // "req", "res", "event"
	ID      string          `json:"id,omitempty"`      // request/response ID
	Method  string          `json:"method,omitempty"`  // request method
	Params  json.RawMessage `json:"params,omitempty"`  // request params
	OK      *bool           `json:"ok,omitempty"`      // response ok
	Payload json.RawMessage `json:"payload,omitempty"` // response/event payload
	Event   string          `json:"event,omitempty"`   // event name
	Error   *frameError     `json:"error,omitempty"`   // response error
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeTabNotFound = "TAB_NOT_FOUND"

	eventTabActivated = "tab.activated"
	eventTabUpdated   = "tab.updated"
	eventTabRemoved   = "tab.removed"
)

// tabEventPayload is the body of every tab.* event frame.
type tabEventPayload struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url,omitempty"`
}

type tabIDParams struct {
	TabID int `json:"tabId"`
}

type updateParams struct {
	TabID  int     `json:"tabId"`
	URL    *string `json:"url,omitempty"`
	Active *bool   `json:"active,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
}

type moveParams struct {
	TabID int `json:"tabId"`
	Index int `json:"index"`
}

type groupParams struct {
	TabID   int `json:"tabId"`
	GroupID int `json:"groupId"`
}

// --- Bridge ---

// Bridge is the server side of the extension connection. It implements
// host.Host and host.Notifier. At most one extension is attached; a new
// connection replaces the previous one.
type Bridge struct {
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   map[string]pendingCall

	events chan host.Event
}

// pendingCall tracks the connection a request frame went out on, so a dying
// connection only fails its own callers and never those of a replacement.
type pendingCall struct {
	ch   chan frame
	conn *websocket.Conn
}

// New creates a Bridge.
func New(cfg Config, logger zerolog.Logger) *Bridge {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "/ws/host"
	}
	b := &Bridge{
		cfg:    cfg,
		logger: logger.With().Str("component", "bridge").Logger(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// The extension connects with a chrome-extension:// origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pending: make(map[string]pendingCall),
		events:  make(chan host.Event, 64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, b.handleConnect)
	b.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return b
}

// Start listens for the extension. Blocks until Shutdown or a listener
// failure.
func (b *Bridge) Start() error {
	b.logger.Info().Str("addr", b.cfg.Addr).Str("path", b.cfg.Path).Msg("bridge listening")
	if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge listener: %w", err)
	}
	return nil
}

// Shutdown closes the listener and the attached connection.
func (b *Bridge) Shutdown(ctx context.Context) error {
	// The close frame shares the connection with in-flight call writes.
	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = b.conn.Close()
	}
	b.mu.Unlock()
	return b.server.Shutdown(ctx)
}

// IsConnected reports whether an extension is attached.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Events returns the tab lifecycle event stream.
func (b *Bridge) Events() <-chan host.Event {
	return b.events
}

func (b *Bridge) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	b.mu.Lock()
	old := b.conn
	b.conn = conn
	b.connected = true
	b.mu.Unlock()

	if old != nil {
		b.logger.Info().Msg("replacing existing extension connection")
		_ = old.Close()
	}
	b.logger.Info().Str("remote", r.RemoteAddr).Msg("extension attached")

	b.readLoop(conn)
}

// readLoop reads frames until the connection drops, dispatching responses
// to their waiters and forwarding tab events.
func (b *Bridge) readLoop(conn *websocket.Conn) {
	defer func() {
		b.failPending(conn)
		b.logger.Info().Msg("extension detached")
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				b.logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			b.logger.Warn().Err(err).Msg("parse error")
			continue
		}

		switch f.Type {
		case "res":
			b.mu.Lock()
			pc, ok := b.pending[f.ID]
			if ok {
				delete(b.pending, f.ID)
			}
			b.mu.Unlock()
			if ok {
				pc.ch <- f
			}
		case "event":
			b.handleEvent(f)
		}
	}
}

// failPending tears down state tied to conn. Calls issued on a newer
// connection are left untouched.
func (b *Bridge) failPending(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == conn {
		b.conn = nil
		b.connected = false
	}
	for id, pc := range b.pending {
		if pc.conn != conn {
			continue
		}
		pc.ch <- frame{
			Type:  "res",
			ID:    id,
			Error: &frameError{Code: "DISCONNECTED", Message: "extension connection lost"},
		}
		delete(b.pending, id)
	}
}

func (b *Bridge) handleEvent(f frame) {
	var kind host.EventKind
	switch f.Event {
	case eventTabActivated:
		kind = host.EventActivated
	case eventTabUpdated:
		kind = host.EventUpdated
	case eventTabRemoved:
		kind = host.EventRemoved
	default:
		b.logger.Trace().Str("event", f.Event).Msg("event ignored")
		return
	}

	var p tabEventPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		b.logger.Warn().Err(err).Str("event", f.Event).Msg("bad event payload")
		return
	}

	select {
	case b.events <- host.Event{Kind: kind, TabID: p.TabID, URL: p.URL}:
	default:
		b.logger.Warn().Str("event", f.Event).Msg("event buffer full, dropping")
	}
}

// call sends a request frame and decodes the response payload into out
// (out may be nil for calls with no payload).
func (b *Bridge) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	var raw json.RawMessage
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
		raw = p
	}

	reqID := uuid.New().String()
	req := frame{Type: "req", ID: reqID, Method: method, Params: raw}

	respCh := make(chan frame, 1)
	b.mu.Lock()
	if !b.connected || b.conn == nil {
		b.mu.Unlock()
		return host.ErrNotConnected
	}
	b.pending[reqID] = pendingCall{ch: respCh, conn: b.conn}
	// Writes share the connection with the close path, keep them serialized.
	err := b.conn.WriteJSON(req)
	if err != nil {
		delete(b.pending, reqID)
		b.mu.Unlock()
		return fmt.Errorf("sending %s: %w", method, err)
	}
	b.mu.Unlock()

	timeout := b.cfg.CallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			if resp.Error.Code == codeTabNotFound {
				return host.ErrTabNotFound
			}
			return fmt.Errorf("%s: %s", method, resp.Error.Message)
		}
		if resp.OK == nil || !*resp.OK {
			return fmt.Errorf("%s: request failed", method)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("parsing %s payload: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		b.mu.Lock()
		delete(b.pending, reqID)
		b.mu.Unlock()
		return fmt.Errorf("%s: response timeout", method)
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, reqID)
		b.mu.Unlock()
		return ctx.Err()
	}
}

// --- host.Host ---

// Tabs lists every open tab.
func (b *Bridge) Tabs(ctx context.Context) ([]host.Tab, error) {
	var tabs []host.Tab
	if err := b.call(ctx, "tabs.query", nil, &tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

// Tab fetches a single tab by id.
func (b *Bridge) Tab(ctx context.Context, id int) (host.Tab, error) {
	var tab host.Tab
	if err := b.call(ctx, "tabs.get", tabIDParams{TabID: id}, &tab); err != nil {
		return host.Tab{}, err
	}
	return tab, nil
}

// ActiveTab fetches the focused tab of the current window.
func (b *Bridge) ActiveTab(ctx context.Context) (host.Tab, error) {
	var tab host.Tab
	if err := b.call(ctx, "tabs.active", nil, &tab); err != nil {
		return host.Tab{}, err
	}
	return tab, nil
}

// Create opens a new tab.
func (b *Bridge) Create(ctx context.Context, opts host.CreateOptions) (host.Tab, error) {
	var tab host.Tab
	if err := b.call(ctx, "tabs.create", opts, &tab); err != nil {
		return host.Tab{}, err
	}
	return tab, nil
}

// Update mutates a tab in place.
func (b *Bridge) Update(ctx context.Context, id int, opts host.UpdateOptions) (host.Tab, error) {
	params := updateParams{TabID: id, URL: opts.URL, Active: opts.Active, Pinned: opts.Pinned}
	var tab host.Tab
	if err := b.call(ctx, "tabs.update", params, &tab); err != nil {
		return host.Tab{}, err
	}
	return tab, nil
}

// Move places a tab at the given index within its window.
func (b *Bridge) Move(ctx context.Context, id, index int) error {
	return b.call(ctx, "tabs.move", moveParams{TabID: id, Index: index}, nil)
}

// Group adds a tab to an existing tab group.
func (b *Bridge) Group(ctx context.Context, id, groupID int) error {
	return b.call(ctx, "tabs.group", groupParams{TabID: id, GroupID: groupID}, nil)
}

// Remove closes a tab.
func (b *Bridge) Remove(ctx context.Context, id int) error {
	return b.call(ctx, "tabs.remove", tabIDParams{TabID: id}, nil)
}
