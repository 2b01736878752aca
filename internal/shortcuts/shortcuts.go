// Package shortcuts holds the keyboard shortcut table shown to users and
// used to resolve host keybinding commands.
package shortcuts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Command names as registered with the browser host.
const (
	CmdSuspendCurrentTab   = "suspend-current-tab"
	CmdUnsuspendCurrentTab = "unsuspend-current-tab"
	CmdSuspendOtherTabs    = "suspend-other-tabs"
	CmdSuspendAllTabs      = "suspend-all-tabs"
	CmdUnsuspendAllTabs    = "unsuspend-all-tabs"
)

// Table maps command names to their display shortcut. An empty shortcut
// means the command is registered but unbound.
type Table struct {
	entries map[string]string
}

// Defaults returns the built-in shortcut table.
func Defaults() *Table {
	return &Table{entries: map[string]string{
		CmdSuspendCurrentTab:   "Ctrl+Shift+S",
		CmdUnsuspendCurrentTab: "Ctrl+Shift+U",
		CmdSuspendOtherTabs:    "Ctrl+Shift+O",
		CmdSuspendAllTabs:      "",
		CmdUnsuspendAllTabs:    "",
	}}
}

// Load reads a YAML override file on top of the defaults. Only known
// command names are accepted; an empty path returns the defaults as-is.
func Load(path string) (*Table, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shortcuts file: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse shortcuts file: %w", err)
	}
	for cmd, shortcut := range overrides {
		if _, known := t.entries[cmd]; !known {
			return nil, fmt.Errorf("unknown command %q in shortcuts file", cmd)
		}
		t.entries[cmd] = shortcut
	}
	return t, nil
}

// Shortcut returns the binding for a command and whether the command exists.
func (t *Table) Shortcut(command string) (string, bool) {
	s, ok := t.entries[command]
	return s, ok
}

// Map returns a copy of the full table.
func (t *Table) Map() map[string]string {
	out := make(map[string]string, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}
