package host

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemHost is an in-memory Host used by tests and standalone runs. It keeps
// per-window tab ordering consistent the way a real browser does: creating a
// tab shifts later indexes up, removing one shifts them down.
type MemHost struct {
	mu     sync.Mutex
	tabs   map[int]*Tab
	nextID int
	events chan Event

	// Fault injection for tests. When set, the corresponding operation
	// fails with the given error.
	FailCreate error
	FailUpdate error
	FailMove   error
	FailGroup  error
	FailRemove error
}

// NewMemHost creates an empty in-memory host.
func NewMemHost() *MemHost {
	return &MemHost{
		tabs:   make(map[int]*Tab),
		nextID: 1,
		events: make(chan Event, 64),
	}
}

// Add inserts a tab at the end of its window and returns it with an assigned
// id. Intended for test setup.
func (h *MemHost) Add(t Tab) Tab {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t.ID == 0 {
		t.ID = h.nextID
		h.nextID++
	} else if t.ID >= h.nextID {
		h.nextID = t.ID + 1
	}
	t.Index = h.windowSize(t.WindowID)
	if t.GroupID == 0 {
		t.GroupID = NoGroup
	}
	if t.LastAccessed.IsZero() {
		t.LastAccessed = time.Now()
	}
	if t.Active {
		h.deactivateWindow(t.WindowID)
	}
	h.tabs[t.ID] = &t
	return t
}

// Events implements Notifier.
func (h *MemHost) Events() <-chan Event {
	return h.events
}

// Tabs returns all tabs ordered by window then index.
func (h *MemHost) Tabs(_ context.Context) ([]Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WindowID != out[j].WindowID {
			return out[i].WindowID < out[j].WindowID
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// Tab returns a tab by id.
func (h *MemHost) Tab(_ context.Context, id int) (Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.tabs[id]
	if !ok {
		return Tab{}, ErrTabNotFound
	}
	return *t, nil
}

// ActiveTab returns the first focused tab found.
func (h *MemHost) ActiveTab(_ context.Context) (Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, t := range h.tabs {
		if t.Active {
			return *t, nil
		}
	}
	return Tab{}, ErrTabNotFound
}

// Create opens a new tab at the requested index.
func (h *MemHost) Create(_ context.Context, opts CreateOptions) (Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.FailCreate != nil {
		return Tab{}, h.FailCreate
	}

	idx := opts.Index
	if size := h.windowSize(opts.WindowID); idx < 0 || idx > size {
		idx = size
	}
	for _, t := range h.tabs {
		if t.WindowID == opts.WindowID && t.Index >= idx {
			t.Index++
		}
	}
	if opts.Active {
		h.deactivateWindow(opts.WindowID)
	}

	t := &Tab{
		ID:           h.nextID,
		WindowID:     opts.WindowID,
		Index:        idx,
		URL:          opts.URL,
		Active:       opts.Active,
		Pinned:       opts.Pinned,
		GroupID:      NoGroup,
		LastAccessed: time.Now(),
	}
	h.nextID++
	h.tabs[t.ID] = t
	return *t, nil
}

// Update mutates a tab in place.
func (h *MemHost) Update(_ context.Context, id int, opts UpdateOptions) (Tab, error) {
	h.mu.Lock()

	if h.FailUpdate != nil {
		h.mu.Unlock()
		return Tab{}, h.FailUpdate
	}

	t, ok := h.tabs[id]
	if !ok {
		h.mu.Unlock()
		return Tab{}, ErrTabNotFound
	}

	var evs []Event
	if opts.URL != nil && *opts.URL != t.URL {
		t.URL = *opts.URL
		evs = append(evs, Event{Kind: EventUpdated, TabID: id, URL: t.URL})
	}
	if opts.Pinned != nil {
		t.Pinned = *opts.Pinned
	}
	if opts.Active != nil && *opts.Active && !t.Active {
		h.deactivateWindow(t.WindowID)
		t.Active = true
		evs = append(evs, Event{Kind: EventActivated, TabID: id, URL: t.URL})
	}
	snapshot := *t
	h.mu.Unlock()

	for _, ev := range evs {
		h.emit(ev)
	}
	return snapshot, nil
}

// Move places a tab at the given index within its window.
func (h *MemHost) Move(_ context.Context, id, index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.FailMove != nil {
		return h.FailMove
	}

	t, ok := h.tabs[id]
	if !ok {
		return ErrTabNotFound
	}
	if size := h.windowSize(t.WindowID); index < 0 || index >= size {
		index = size - 1
	}
	old := t.Index
	for _, other := range h.tabs {
		if other.ID == id || other.WindowID != t.WindowID {
			continue
		}
		if old < index && other.Index > old && other.Index <= index {
			other.Index--
		} else if old > index && other.Index >= index && other.Index < old {
			other.Index++
		}
	}
	t.Index = index
	return nil
}

// Group adds a tab to a tab group.
func (h *MemHost) Group(_ context.Context, id, groupID int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.FailGroup != nil {
		return h.FailGroup
	}

	t, ok := h.tabs[id]
	if !ok {
		return ErrTabNotFound
	}
	t.GroupID = groupID
	return nil
}

// Remove closes a tab and shifts later indexes down.
func (h *MemHost) Remove(_ context.Context, id int) error {
	h.mu.Lock()

	if h.FailRemove != nil {
		h.mu.Unlock()
		return h.FailRemove
	}

	t, ok := h.tabs[id]
	if !ok {
		h.mu.Unlock()
		return ErrTabNotFound
	}
	for _, other := range h.tabs {
		if other.WindowID == t.WindowID && other.Index > t.Index {
			other.Index--
		}
	}
	delete(h.tabs, id)
	h.mu.Unlock()

	h.emit(Event{Kind: EventRemoved, TabID: id})
	return nil
}

// Touch updates a tab's last-accessed time. Intended for test setup.
func (h *MemHost) Touch(id int, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tabs[id]; ok {
		t.LastAccessed = at
	}
}

// emit delivers an event without blocking; a slow consumer drops events,
// which the scheduler tolerates (the next scan re-observes live state).
func (h *MemHost) emit(ev Event) {
	select {
	case h.events <- ev:
	default:
	}
}

func (h *MemHost) windowSize(windowID int) int {
	n := 0
	for _, t := range h.tabs {
		if t.WindowID == windowID {
			n++
		}
	}
	return n
}

func (h *MemHost) deactivateWindow(windowID int) {
	for _, t := range h.tabs {
		if t.WindowID == windowID {
			t.Active = false
		}
	}
}
