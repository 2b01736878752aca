// Package registry is the source of truth for suspended tabs: a durable
// mapping from a live tab id to the record needed to restore its original
// page. Every mutation is persisted before it is acknowledged.
package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StorageKey is the kv key the full record map is serialized under.
const StorageKey = "suspended_tabs"

// Reason says why a tab was suspended.
type Reason string

const (
	ReasonManual Reason = "manual"
	ReasonAuto   Reason = "auto"
)

// Strategy says how the suspension transition was executed.
type Strategy string

const (
	// StrategyReplace created a fresh placeholder tab and closed the original.
	StrategyReplace Strategy = "replace"

	// StrategyNavigate rewrote the original tab's address in place.
	StrategyNavigate Strategy = "navigate"
)

// TabRecord holds everything needed to restore a suspended tab.
type TabRecord struct {
	URL              string    `json:"url"`
	Title            string    `json:"title"`
	FavIcon          string    `json:"favicon,omitempty"`
	SuspendedAt      time.Time `json:"suspendedAt"`
	Reason           Reason    `json:"reason"`
	OriginalTabID    int       `json:"originalTabId"`
	WindowID         int       `json:"windowId"`
	Index            int       `json:"index"`
	Pinned           bool      `json:"pinned"`
	WasActive        bool      `json:"wasActive"`
	Strategy         Strategy  `json:"strategy"`
	PlaceholderTabID int       `json:"placeholderTabId,omitempty"`
}

// KV is the durable store the registry persists into.
type KV interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

// Registry maps live tab ids to their TabRecords. The in-memory map is the
// working copy; persist serializes the whole map after every mutation.
type Registry struct {
	mu      sync.RWMutex
	kv      KV
	records map[int]TabRecord
	logger  zerolog.Logger
}

// New creates an empty registry over the given store.
func New(kv KV, logger zerolog.Logger) *Registry {
	return &Registry{
		kv:      kv,
		records: make(map[int]TabRecord),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Load rebuilds the in-memory map from durable storage. Records without a
// url are dropped — they cannot be restored and usually indicate a partial
// write from a previous crash.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok, err := r.kv.Get(StorageKey)
	if err != nil {
		return fmt.Errorf("loading suspended tabs: %w", err)
	}
	r.records = make(map[int]TabRecord)
	if !ok {
		return nil
	}

	var stored map[string]TabRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return fmt.Errorf("parsing suspended tabs: %w", err)
	}

	dropped := 0
	for key, rec := range stored {
		id, err := strconv.Atoi(key)
		if err != nil || rec.URL == "" {
			dropped++
			continue
		}
		r.records[id] = rec
	}
	if dropped > 0 {
		r.logger.Warn().Int("dropped", dropped).Msg("discarded invalid suspended tab records")
	}
	r.logger.Info().Int("count", len(r.records)).Msg("suspended tab registry loaded")
	return nil
}

// Get returns the record for a tab id.
func (r *Registry) Get(tabID int) (TabRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[tabID]
	return rec, ok
}

// Put stores a record keyed by tab id and persists before returning.
func (r *Registry) Put(tabID int, rec TabRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.records[tabID]
	r.records[tabID] = rec
	if err := r.persist(); err != nil {
		// Roll the cache back so memory and disk stay in agreement.
		if had {
			r.records[tabID] = prev
		} else {
			delete(r.records, tabID)
		}
		return err
	}
	return nil
}

// Delete removes a record and persists before returning. Removing a missing
// record is a no-op.
func (r *Registry) Delete(tabID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.records[tabID]
	if !had {
		return nil
	}
	delete(r.records, tabID)
	if err := r.persist(); err != nil {
		r.records[tabID] = prev
		return err
	}
	return nil
}

// Len reports how many tabs are currently suspended.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Snapshot returns a copy of all records keyed by tab id.
func (r *Registry) Snapshot() map[int]TabRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]TabRecord, len(r.records))
	for id, rec := range r.records {
		out[id] = rec
	}
	return out
}

// persist serializes the full map. Callers must hold r.mu.
func (r *Registry) persist() error {
	stored := make(map[string]TabRecord, len(r.records))
	for id, rec := range r.records {
		stored[strconv.Itoa(id)] = rec
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("serializing suspended tabs: %w", err)
	}
	if err := r.kv.Put(StorageKey, string(data)); err != nil {
		return fmt.Errorf("persisting suspended tabs: %w", err)
	}
	return nil
}
