// Package settings holds the user-configurable suspension policy. Settings
// are loaded once at startup, mutated only through Save, and read
// synchronously from the in-memory cache between persists.
package settings

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StorageKey is the kv key the settings object is serialized under.
const StorageKey = "settings"

// DefaultAutoSuspendTime is the stock inactivity threshold in minutes.
const DefaultAutoSuspendTime = 30

// Settings is the full user policy.
type Settings struct {
	AutoSuspend     bool   `json:"autoSuspend"`
	AutoSuspendTime int    `json:"autoSuspendTime"` // minutes, > 0
	IgnorePinned    bool   `json:"ignorePinned"`
	IgnoreAudio     bool   `json:"ignoreAudio"`
	IgnoreActive    bool   `json:"ignoreActive"`
	URLWhitelist    string `json:"urlWhitelist"` // newline/comma-separated patterns
}

// Partial is a sparse settings update; nil fields keep their current value.
type Partial struct {
	AutoSuspend     *bool   `json:"autoSuspend,omitempty"`
	AutoSuspendTime *int    `json:"autoSuspendTime,omitempty"`
	IgnorePinned    *bool   `json:"ignorePinned,omitempty"`
	IgnoreAudio     *bool   `json:"ignoreAudio,omitempty"`
	IgnoreActive    *bool   `json:"ignoreActive,omitempty"`
	URLWhitelist    *string `json:"urlWhitelist,omitempty"`
}

// Defaults returns the stock policy.
func Defaults() Settings {
	return Settings{
		AutoSuspend:     true,
		AutoSuspendTime: DefaultAutoSuspendTime,
		IgnorePinned:    true,
		IgnoreAudio:     true,
		IgnoreActive:    false,
		URLWhitelist:    "",
	}
}

// Threshold returns the inactivity threshold as a duration.
func (s Settings) Threshold() time.Duration {
	return time.Duration(s.AutoSuspendTime) * time.Minute
}

// WhitelistPatterns splits the whitelist into individual patterns,
// accepting both newline and comma separators.
func (s Settings) WhitelistPatterns() []string {
	fields := strings.FieldsFunc(s.URLWhitelist, func(r rune) bool {
		return r == '\n' || r == ','
	})
	patterns := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			patterns = append(patterns, f)
		}
	}
	return patterns
}

// KV is the durable store settings persist into.
type KV interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

// Store owns the in-memory settings cache and its persistence.
type Store struct {
	mu      sync.RWMutex
	kv      KV
	current Settings
	onSave  func(Settings)
	logger  zerolog.Logger
}

// NewStore creates a settings store starting from defaults.
func NewStore(kv KV, logger zerolog.Logger) *Store {
	return &Store{
		kv:      kv,
		current: Defaults(),
		logger:  logger.With().Str("component", "settings").Logger(),
	}
}

// OnSave registers a hook invoked after every successful Save. The
// scheduler uses this to reconfigure its timer.
func (s *Store) OnSave(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSave = fn
}

// Load reads durable storage and applies defaults for missing or invalid
// fields. A storage failure degrades to defaults rather than failing.
func (s *Store) Load() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Defaults()

	raw, ok, err := s.kv.Get(StorageKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load settings, using defaults")
		return s.current
	}
	if !ok {
		return s.current
	}

	loaded := Defaults()
	if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
		s.logger.Error().Err(err).Msg("corrupt settings, using defaults")
		return s.current
	}
	s.current = sanitize(loaded)
	return s.current
}

// Current returns the in-memory settings.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save merges a partial update into the current settings, persists the
// result, and fires the save hook.
func (s *Store) Save(p Partial) (Settings, error) {
	s.mu.Lock()

	merged := s.current
	if p.AutoSuspend != nil {
		merged.AutoSuspend = *p.AutoSuspend
	}
	if p.AutoSuspendTime != nil {
		merged.AutoSuspendTime = *p.AutoSuspendTime
	}
	if p.IgnorePinned != nil {
		merged.IgnorePinned = *p.IgnorePinned
	}
	if p.IgnoreAudio != nil {
		merged.IgnoreAudio = *p.IgnoreAudio
	}
	if p.IgnoreActive != nil {
		merged.IgnoreActive = *p.IgnoreActive
	}
	if p.URLWhitelist != nil {
		merged.URLWhitelist = *p.URLWhitelist
	}
	merged = sanitize(merged)

	data, err := json.Marshal(merged)
	if err != nil {
		s.mu.Unlock()
		return Settings{}, fmt.Errorf("serializing settings: %w", err)
	}
	if err := s.kv.Put(StorageKey, string(data)); err != nil {
		s.mu.Unlock()
		return Settings{}, fmt.Errorf("persisting settings: %w", err)
	}

	s.current = merged
	hook := s.onSave
	s.mu.Unlock()

	if hook != nil {
		hook(merged)
	}
	return merged, nil
}

// sanitize resets invalid fields to their defaults.
func sanitize(in Settings) Settings {
	if in.AutoSuspendTime <= 0 {
		in.AutoSuspendTime = DefaultAutoSuspendTime
	}
	return in
}
