// Package engine executes the suspend and restore transitions. Suspension
// prefers the replace strategy — create a fresh placeholder tab and close
// the original, releasing the renderer's memory immediately — and falls back
// to rewriting the tab's address in place when tab manipulation fails.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tabnap/tabnap/internal/host"
	"github.com/tabnap/tabnap/internal/metrics"
	"github.com/tabnap/tabnap/internal/policy"
	"github.com/tabnap/tabnap/internal/registry"
	"github.com/tabnap/tabnap/internal/settings"
)

// SuspendResult is the outcome of a single-tab suspension.
type SuspendResult struct {
	Success   bool   `json:"success"`
	Already   bool   `json:"already,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Replaced  bool   `json:"replaced,omitempty"`
	Navigated bool   `json:"navigated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RestoreResult is the outcome of a single-tab restore.
type RestoreResult struct {
	Success      bool              `json:"success"`
	NotSuspended bool              `json:"notSuspended,omitempty"`
	Restored     registry.Strategy `json:"restored,omitempty"`
	Fallback     bool              `json:"fallback,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// BatchResult is the outcome of a batch operation.
type BatchResult struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// Engine coordinates the host, registry and policy to execute transitions.
type Engine struct {
	host     host.Host
	registry *registry.Registry
	settings *settings.Store
	policy   *policy.Policy
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	placeholderBase string

	// inflight guards against concurrent suspend requests for the same tab
	// racing the check-then-set on the registry.
	mu       sync.Mutex
	inflight map[int]struct{}
}

// New creates an Engine. metrics may be nil in tests.
func New(
	h host.Host,
	reg *registry.Registry,
	st *settings.Store,
	pol *policy.Policy,
	m *metrics.Metrics,
	placeholderBase string,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		host:            h,
		registry:        reg,
		settings:        st,
		policy:          pol,
		metrics:         m,
		logger:          logger.With().Str("component", "engine").Logger(),
		placeholderBase: placeholderBase,
		inflight:        make(map[int]struct{}),
	}
}

// Suspend suspends the given tab. The registry record is persisted before
// the original tab is closed, so a crash mid-transition never loses the
// record for the surviving tab.
func (e *Engine) Suspend(ctx context.Context, tabID int, reason registry.Reason) SuspendResult {
	if !e.acquire(tabID) {
		// A suspend for this tab is already in flight; treat it as done.
		return SuspendResult{Success: true, Already: true}
	}
	defer e.release(tabID)

	tab, err := e.host.Tab(ctx, tabID)
	if err != nil {
		return e.suspendFailed(reason, "", err)
	}

	if _, ok := e.registry.Get(tabID); ok || IsPlaceholder(e.placeholderBase, tab.URL) {
		return SuspendResult{Success: true, Already: true}
	}

	if !e.policy.Eligible(tab, reason, e.settings.Current()) {
		return SuspendResult{Ignored: true}
	}

	rec := registry.TabRecord{
		URL:           tab.URL,
		Title:         tab.Title,
		FavIcon:       tab.FavIconURL,
		SuspendedAt:   time.Now().UTC(),
		Reason:        reason,
		OriginalTabID: tab.ID,
		WindowID:      tab.WindowID,
		Index:         tab.Index,
		Pinned:        tab.Pinned,
		WasActive:     tab.Active,
	}
	placeholder := PlaceholderURL(e.placeholderBase, tab.URL, tab.Title, tab.FavIconURL)

	if res, ok := e.suspendByReplace(ctx, tab, rec, placeholder); ok {
		return res
	}
	return e.suspendByNavigate(ctx, tab, rec, placeholder)
}

// suspendByReplace creates a placeholder tab next to the original and closes
// the original. ok is false when the sequence failed and the caller should
// fall back to in-place navigation.
func (e *Engine) suspendByReplace(ctx context.Context, tab host.Tab, rec registry.TabRecord, placeholder string) (SuspendResult, bool) {
	created, err := e.host.Create(ctx, host.CreateOptions{
		WindowID: tab.WindowID,
		Index:    tab.Index + 1,
		URL:      placeholder,
		Active:   tab.Active,
		Pinned:   tab.Pinned,
	})
	if err != nil {
		e.logger.Warn().Err(err).Int("tab", tab.ID).Msg("placeholder create failed, falling back to navigate")
		return SuspendResult{}, false
	}

	// Slot and group placement are cosmetic; failures are deliberately
	// ignored.
	if created.Index != tab.Index+1 {
		_ = e.host.Move(ctx, created.ID, tab.Index+1)
	}
	if tab.GroupID != host.NoGroup {
		_ = e.host.Group(ctx, created.ID, tab.GroupID)
	}

	rec.Strategy = registry.StrategyReplace
	rec.PlaceholderTabID = created.ID
	if err := e.registry.Put(created.ID, rec); err != nil {
		e.logger.Error().Err(err).Int("tab", tab.ID).Msg("record persist failed, falling back to navigate")
		return SuspendResult{}, false
	}

	if err := e.host.Remove(ctx, tab.ID); err != nil {
		e.logger.Warn().Err(err).Int("tab", tab.ID).Msg("closing original failed, falling back to navigate")
		// Undo the half-built replacement so the fallback does not leave a
		// second placeholder for the same page.
		if delErr := e.registry.Delete(created.ID); delErr != nil {
			e.logger.Error().Err(delErr).Int("tab", created.ID).Msg("rollback delete failed")
		}
		_ = e.host.Remove(ctx, created.ID)
		return SuspendResult{}, false
	}

	e.updateGauge()
	e.recordSuspend(rec.Reason, registry.StrategyReplace, "ok")
	e.logger.Info().Int("tab", tab.ID).Int("placeholder", created.ID).
		Str("reason", string(rec.Reason)).Msg("tab suspended (replace)")
	return SuspendResult{Success: true, Replaced: true}, true
}

// suspendByNavigate rewrites the tab's own address to the placeholder URL.
// The record is persisted before the navigation executes.
func (e *Engine) suspendByNavigate(ctx context.Context, tab host.Tab, rec registry.TabRecord, placeholder string) SuspendResult {
	rec.Strategy = registry.StrategyNavigate
	rec.PlaceholderTabID = 0
	if err := e.registry.Put(tab.ID, rec); err != nil {
		return e.suspendFailed(rec.Reason, registry.StrategyNavigate, err)
	}

	if _, err := e.host.Update(ctx, tab.ID, host.UpdateOptions{URL: &placeholder}); err != nil {
		// Navigation never happened; drop the record so the tab is not
		// trapped behind a phantom suspension.
		if delErr := e.registry.Delete(tab.ID); delErr != nil {
			e.logger.Error().Err(delErr).Int("tab", tab.ID).Msg("rollback delete failed")
		}
		return e.suspendFailed(rec.Reason, registry.StrategyNavigate, err)
	}

	e.updateGauge()
	e.recordSuspend(rec.Reason, registry.StrategyNavigate, "ok")
	e.logger.Info().Int("tab", tab.ID).Str("reason", string(rec.Reason)).Msg("tab suspended (navigate)")
	return SuspendResult{Success: true, Navigated: true}
}

// Unsuspend restores a suspended tab to its original address. The record is
// deleted (and persisted) before navigation, so a crash during restore never
// leaves a dangling record pointing at a tab that is no longer a placeholder.
func (e *Engine) Unsuspend(ctx context.Context, tabID int) RestoreResult {
	rec, ok := e.registry.Get(tabID)
	if !ok {
		return RestoreResult{Success: true, NotSuspended: true}
	}

	if err := e.registry.Delete(tabID); err != nil {
		e.recordRestore(rec.Strategy, "error")
		return RestoreResult{Success: false, Error: err.Error()}
	}
	e.updateGauge()

	opts := host.UpdateOptions{URL: &rec.URL}
	if rec.Strategy == registry.StrategyReplace {
		active := true
		pinned := rec.Pinned
		opts.Active = &active
		opts.Pinned = &pinned
	}

	if _, err := e.host.Update(ctx, tabID, opts); err != nil {
		// Deliberately not rolled back: restoration failure must not
		// re-trap the user behind a phantom suspended record.
		e.logger.Warn().Err(err).Int("tab", tabID).Msg("restore navigation failed")
		e.recordRestore(rec.Strategy, "error")
		return RestoreResult{Success: false, Restored: rec.Strategy, Error: err.Error()}
	}

	e.recordRestore(rec.Strategy, "ok")
	e.logger.Info().Int("tab", tabID).Str("strategy", string(rec.Strategy)).Msg("tab restored")
	return RestoreResult{Success: true, Restored: rec.Strategy}
}

// Restore handles a restore request originating from the placeholder page
// itself. If no record exists (for example after a registry wipe) the tab is
// navigated to the fallback URL the placeholder carried.
func (e *Engine) Restore(ctx context.Context, tabID int, fallbackURL string) RestoreResult {
	if _, ok := e.registry.Get(tabID); ok {
		return e.Unsuspend(ctx, tabID)
	}
	if fallbackURL == "" {
		return RestoreResult{Success: false, NotSuspended: true, Error: "no record and no fallback url"}
	}
	if _, err := e.host.Update(ctx, tabID, host.UpdateOptions{URL: &fallbackURL}); err != nil {
		return RestoreResult{Success: false, Fallback: true, Error: err.Error()}
	}
	return RestoreResult{Success: true, Fallback: true}
}

// SuspendAll suspends every tab, optionally skipping focused ones. One bad
// tab never aborts the batch.
func (e *Engine) SuspendAll(ctx context.Context, includeActive bool) BatchResult {
	tabs, err := e.host.Tabs(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("tab enumeration failed")
		return BatchResult{}
	}

	count := 0
	for _, tab := range tabs {
		if !includeActive && tab.Active {
			continue
		}
		res := e.Suspend(ctx, tab.ID, registry.ReasonManual)
		if res.Success && (res.Replaced || res.Navigated) {
			count++
		}
	}
	return BatchResult{Success: true, Count: count}
}

// SuspendOthers suspends every tab except the focused ones.
func (e *Engine) SuspendOthers(ctx context.Context) BatchResult {
	return e.SuspendAll(ctx, false)
}

// UnsuspendAll restores every suspended tab.
func (e *Engine) UnsuspendAll(ctx context.Context) BatchResult {
	count := 0
	for tabID := range e.registry.Snapshot() {
		res := e.Unsuspend(ctx, tabID)
		if res.Success && !res.NotSuspended {
			count++
		}
	}
	return BatchResult{Success: true, Count: count}
}

// SuspendedData returns the record for a suspended tab, or nil. When the
// registry has no record but the tab is showing the placeholder page (for
// example after the database was wiped), a minimal record is reconstructed
// from the placeholder URL parameters.
func (e *Engine) SuspendedData(ctx context.Context, tabID int) *registry.TabRecord {
	if rec, ok := e.registry.Get(tabID); ok {
		return &rec
	}
	tab, err := e.host.Tab(ctx, tabID)
	if err != nil {
		return nil
	}
	original, title, favicon, ok := ParsePlaceholder(e.placeholderBase, tab.URL)
	if !ok {
		return nil
	}
	return &registry.TabRecord{
		URL:           original,
		Title:         title,
		FavIcon:       favicon,
		OriginalTabID: tabID,
		WindowID:      tab.WindowID,
		Index:         tab.Index,
		Strategy:      registry.StrategyNavigate,
	}
}

// HandleTabRemoved drops the record and keeps the registry orphan-free when
// a suspended tab is closed.
func (e *Engine) HandleTabRemoved(tabID int) {
	if _, ok := e.registry.Get(tabID); !ok {
		return
	}
	if err := e.registry.Delete(tabID); err != nil {
		e.logger.Error().Err(err).Int("tab", tabID).Msg("failed to drop record for closed tab")
		return
	}
	e.updateGauge()
	e.logger.Debug().Int("tab", tabID).Msg("dropped record for closed tab")
}

// HandleTabUpdated drops the record when a placeholder tab navigates away
// from the placeholder page (the user typed a new address, for example).
func (e *Engine) HandleTabUpdated(tabID int, url string) {
	if IsPlaceholder(e.placeholderBase, url) {
		return
	}
	if _, ok := e.registry.Get(tabID); !ok {
		return
	}
	if err := e.registry.Delete(tabID); err != nil {
		e.logger.Error().Err(err).Int("tab", tabID).Msg("failed to drop stale record")
		return
	}
	e.updateGauge()
	e.logger.Debug().Int("tab", tabID).Str("url", url).Msg("dropped record after navigation away from placeholder")
}

func (e *Engine) suspendFailed(reason registry.Reason, strategy registry.Strategy, err error) SuspendResult {
	e.recordSuspend(reason, strategy, "error")
	return SuspendResult{Error: err.Error()}
}

func (e *Engine) acquire(tabID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[tabID]; busy {
		return false
	}
	e.inflight[tabID] = struct{}{}
	return true
}

func (e *Engine) release(tabID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, tabID)
}

func (e *Engine) updateGauge() {
	if e.metrics != nil {
		e.metrics.SuspendedTabs.Set(float64(e.registry.Len()))
	}
}

func (e *Engine) recordSuspend(reason registry.Reason, strategy registry.Strategy, status string) {
	if e.metrics != nil {
		e.metrics.RecordSuspend(string(reason), string(strategy), status)
	}
}

func (e *Engine) recordRestore(strategy registry.Strategy, status string) {
	if e.metrics != nil {
		e.metrics.RecordRestore(string(strategy), status)
	}
}
