// Package host abstracts the browser that owns the tabs. The daemon never
// talks to a renderer directly — it issues tab operations through a Host and
// consumes lifecycle events the host pushes back.
package host

import (
	"context"
	"errors"
	"time"
)

// NoGroup marks a tab that does not belong to any tab group.
const NoGroup = -1

// ErrTabNotFound is returned when the referenced tab no longer exists.
var ErrTabNotFound = errors.New("host: tab not found")

// ErrNotConnected is returned when no browser is attached to serve the call.
var ErrNotConnected = errors.New("host: browser not connected")

// Tab is a snapshot of a live tab's attributes.
type Tab struct {
	ID           int       `json:"id"`
	WindowID     int       `json:"windowId"`
	Index        int       `json:"index"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	FavIconURL   string    `json:"favIconUrl,omitempty"`
	Pinned       bool      `json:"pinned"`
	Active       bool      `json:"active"`
	Audible      bool      `json:"audible"`
	GroupID      int       `json:"groupId"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// CreateOptions describes a tab to create.
type CreateOptions struct {
	WindowID int    `json:"windowId"`
	Index    int    `json:"index"`
	URL      string `json:"url"`
	Active   bool   `json:"active"`
	Pinned   bool   `json:"pinned"`
}

// UpdateOptions describes a partial tab mutation. Nil fields are untouched.
type UpdateOptions struct {
	URL    *string `json:"url,omitempty"`
	Active *bool   `json:"active,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
}

// Host executes tab operations in the owning browser.
type Host interface {
	// Tabs enumerates all tabs in the host's natural order.
	Tabs(ctx context.Context) ([]Tab, error)

	// Tab fetches a single tab by id.
	Tab(ctx context.Context, id int) (Tab, error)

	// ActiveTab returns the focused tab of the current window.
	ActiveTab(ctx context.Context) (Tab, error)

	// Create opens a new tab and returns it as inserted.
	Create(ctx context.Context, opts CreateOptions) (Tab, error)

	// Update mutates a tab in place and returns the updated snapshot.
	Update(ctx context.Context, id int, opts UpdateOptions) (Tab, error)

	// Move places a tab at the given index within its window.
	Move(ctx context.Context, id, index int) error

	// Group adds a tab to an existing tab group.
	Group(ctx context.Context, id, groupID int) error

	// Remove closes a tab.
	Remove(ctx context.Context, id int) error
}

// EventKind identifies a tab lifecycle event.
type EventKind string

const (
	// EventActivated fires when a tab gains focus.
	EventActivated EventKind = "activated"

	// EventUpdated fires when a tab's URL changes.
	EventUpdated EventKind = "updated"

	// EventRemoved fires when a tab is closed.
	EventRemoved EventKind = "removed"
)

// Event is a tab lifecycle notification pushed by the host.
type Event struct {
	Kind  EventKind `json:"kind"`
	TabID int       `json:"tabId"`
	URL   string    `json:"url,omitempty"`
}

// Notifier is implemented by hosts that push lifecycle events.
type Notifier interface {
	// Events returns the host's event stream. The channel is closed when the
	// host shuts down.
	Events() <-chan Event
}
