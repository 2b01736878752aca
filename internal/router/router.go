// Package router dispatches external command requests onto the engine,
// settings store and scheduler. The action set is a closed enum with an
// exhaustive switch — unknown actions produce a generic failure rather than
// a panic or a silent drop.
package router

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tabnap/tabnap/internal/engine"
	"github.com/tabnap/tabnap/internal/host"
	"github.com/tabnap/tabnap/internal/registry"
	"github.com/tabnap/tabnap/internal/settings"
	"github.com/tabnap/tabnap/internal/shortcuts"
)

// Action identifies a command.
type Action string

const (
	ActionGetSettings         Action = "getSettings"
	ActionSaveSettings        Action = "saveSettings"
	ActionUpdateSettings      Action = "updateSettings"
	ActionGetShortcuts        Action = "getChromeShortcuts"
	ActionSuspendTab          Action = "suspendTab"
	ActionSuspendCurrentTab   Action = "suspendCurrentTab"
	ActionUnsuspendTab        Action = "unsuspendTab"
	ActionSuspendAllTabs      Action = "suspendAllTabs"
	ActionSuspendAll          Action = "suspendAll"
	ActionSuspendOtherTabs    Action = "suspendOtherTabs"
	ActionUnsuspendAllTabs    Action = "unsuspendAllTabs"
	ActionUnsuspendAll        Action = "unsuspendAll"
	ActionGetSuspendedTabData Action = "getSuspendedTabData"
	ActionRestoreTab          Action = "restoreTab"
	ActionActivityPing        Action = "activityPing"
)

// Request is a command envelope. TabID targets an explicit tab; when zero,
// the sender's own tab and then the active tab are tried in that order.
type Request struct {
	Action      Action            `json:"action"`
	TabID       int               `json:"tabId,omitempty"`
	SenderTabID int               `json:"senderTabId,omitempty"`
	Settings    *settings.Partial `json:"settings,omitempty"`
	URL         string            `json:"url,omitempty"`
}

// Response is the uniform result envelope; only the fields relevant to the
// dispatched action are populated.
type Response struct {
	Success      bool                `json:"success"`
	Error        string              `json:"error,omitempty"`
	Already      bool                `json:"already,omitempty"`
	Ignored      bool                `json:"ignored,omitempty"`
	Replaced     bool                `json:"replaced,omitempty"`
	Navigated    bool                `json:"navigated,omitempty"`
	NotSuspended bool                `json:"notSuspended,omitempty"`
	Restored     registry.Strategy   `json:"restored,omitempty"`
	Fallback     bool                `json:"fallback,omitempty"`
	Count        int                 `json:"count,omitempty"`
	OK           bool                `json:"ok,omitempty"`
	Settings     *settings.Settings  `json:"settings,omitempty"`
	Shortcuts    map[string]string   `json:"shortcuts,omitempty"`
	Record       *registry.TabRecord `json:"record,omitempty"`
}

// Pinger receives content activity notifications. Implemented by the
// scheduler.
type Pinger interface {
	ActivityPing(tabID int)
}

// Router maps actions onto core operations.
type Router struct {
	engine    *engine.Engine
	settings  *settings.Store
	pinger    Pinger
	shortcuts *shortcuts.Table
	host      host.Host
	logger    zerolog.Logger
}

// New creates a Router.
func New(
	eng *engine.Engine,
	st *settings.Store,
	pinger Pinger,
	table *shortcuts.Table,
	h host.Host,
	logger zerolog.Logger,
) *Router {
	return &Router{
		engine:    eng,
		settings:  st,
		pinger:    pinger,
		shortcuts: table,
		host:      h,
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// Dispatch executes a request and returns its result. The caller is expected
// to hold its response channel open for the duration of the call.
func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	switch req.Action {
	case ActionGetSettings:
		cfg := r.settings.Current()
		return Response{Success: true, Settings: &cfg}

	case ActionSaveSettings, ActionUpdateSettings:
		if req.Settings == nil {
			return Response{Error: "missing settings payload"}
		}
		saved, err := r.settings.Save(*req.Settings)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Success: true, Settings: &saved}

	case ActionGetShortcuts:
		return Response{Success: true, Shortcuts: r.shortcuts.Map()}

	case ActionSuspendTab, ActionSuspendCurrentTab:
		tabID, err := r.resolveTab(ctx, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		res := r.engine.Suspend(ctx, tabID, registry.ReasonManual)
		return Response{
			Success:   res.Success,
			Already:   res.Already,
			Ignored:   res.Ignored,
			Replaced:  res.Replaced,
			Navigated: res.Navigated,
			Error:     res.Error,
		}

	case ActionUnsuspendTab:
		tabID, err := r.resolveTab(ctx, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		res := r.engine.Unsuspend(ctx, tabID)
		return Response{
			Success:      res.Success,
			NotSuspended: res.NotSuspended,
			Restored:     res.Restored,
			Error:        res.Error,
		}

	case ActionSuspendAllTabs, ActionSuspendAll:
		res := r.engine.SuspendAll(ctx, true)
		return Response{Success: res.Success, Count: res.Count}

	case ActionSuspendOtherTabs:
		res := r.engine.SuspendOthers(ctx)
		return Response{Success: res.Success, Count: res.Count}

	case ActionUnsuspendAllTabs, ActionUnsuspendAll:
		res := r.engine.UnsuspendAll(ctx)
		return Response{Success: res.Success, Count: res.Count}

	case ActionGetSuspendedTabData:
		tabID, err := r.resolveTab(ctx, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Success: true, Record: r.engine.SuspendedData(ctx, tabID)}

	case ActionRestoreTab:
		tabID, err := r.resolveTab(ctx, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		res := r.engine.Restore(ctx, tabID, req.URL)
		return Response{
			Success:      res.Success,
			NotSuspended: res.NotSuspended,
			Restored:     res.Restored,
			Fallback:     res.Fallback,
			Error:        res.Error,
		}

	case ActionActivityPing:
		tabID, err := r.resolveTab(ctx, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		r.pinger.ActivityPing(tabID)
		return Response{Success: true, OK: true}

	default:
		r.logger.Warn().Str("action", string(req.Action)).Msg("unknown action")
		return Response{Error: "unknown action: " + string(req.Action)}
	}
}

// CommandAction maps a host keybinding command name to its action. ok is
// false for unknown command names.
func CommandAction(command string) (Action, bool) {
	switch command {
	case shortcuts.CmdSuspendCurrentTab:
		return ActionSuspendCurrentTab, true
	case shortcuts.CmdUnsuspendCurrentTab:
		return ActionUnsuspendTab, true
	case shortcuts.CmdSuspendOtherTabs:
		return ActionSuspendOtherTabs, true
	case shortcuts.CmdSuspendAllTabs:
		return ActionSuspendAllTabs, true
	case shortcuts.CmdUnsuspendAllTabs:
		return ActionUnsuspendAllTabs, true
	default:
		return "", false
	}
}

// resolveTab picks the target tab: explicit id, then the sender's own tab,
// then the active tab in the current window.
func (r *Router) resolveTab(ctx context.Context, req Request) (int, error) {
	if req.TabID > 0 {
		return req.TabID, nil
	}
	if req.SenderTabID > 0 {
		return req.SenderTabID, nil
	}
	tab, err := r.host.ActiveTab(ctx)
	if err != nil {
		return 0, err
	}
	return tab.ID, nil
}
