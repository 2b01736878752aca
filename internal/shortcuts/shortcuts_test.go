package shortcuts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	table := Defaults()

	s, ok := table.Shortcut(CmdSuspendCurrentTab)
	require.True(t, ok)
	assert.Equal(t, "Ctrl+Shift+S", s)

	s, ok = table.Shortcut(CmdSuspendAllTabs)
	require.True(t, ok)
	assert.Empty(t, s, "suspend-all ships unbound")

	_, ok = table.Shortcut("no-such-command")
	assert.False(t, ok)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	table, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Map(), table.Map())
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shortcuts.yaml")
	data := "suspend-current-tab: Alt+S\nsuspend-all-tabs: Alt+Shift+A\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	table, err := Load(path)
	require.NoError(t, err)

	s, _ := table.Shortcut(CmdSuspendCurrentTab)
	assert.Equal(t, "Alt+S", s)
	s, _ = table.Shortcut(CmdSuspendAllTabs)
	assert.Equal(t, "Alt+Shift+A", s)

	// Untouched entries keep their defaults.
	s, _ = table.Shortcut(CmdUnsuspendCurrentTab)
	assert.Equal(t, "Ctrl+Shift+U", s)
}

func TestLoadRejectsUnknownCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shortcuts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus-command: Ctrl+X\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus-command")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shortcuts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestMapIsCopy(t *testing.T) {
	table := Defaults()
	m := table.Map()
	m[CmdSuspendCurrentTab] = "mutated"

	s, _ := table.Shortcut(CmdSuspendCurrentTab)
	assert.Equal(t, "Ctrl+Shift+S", s)
}
