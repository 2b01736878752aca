package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabnap/tabnap/internal/engine"
	"github.com/tabnap/tabnap/internal/health"
	"github.com/tabnap/tabnap/internal/host"
	"github.com/tabnap/tabnap/internal/metrics"
	"github.com/tabnap/tabnap/internal/policy"
	"github.com/tabnap/tabnap/internal/registry"
	"github.com/tabnap/tabnap/internal/router"
	"github.com/tabnap/tabnap/internal/settings"
	"github.com/tabnap/tabnap/internal/shortcuts"
	"github.com/tabnap/tabnap/internal/storage"
)

const placeholderBase = "chrome-extension://tabnap/suspended.html"

type fixture struct {
	host   *host.MemHost
	server *Server
}

type nopPinger struct{}

func (nopPinger) ActivityPing(int) {}

func setup(t *testing.T) *fixture {
	t.Helper()
	kv, err := storage.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	h := host.NewMemHost()
	reg := registry.New(kv, zerolog.Nop())
	st := settings.NewStore(kv, zerolog.Nop())
	st.Load()
	eng := engine.New(h, reg, st, policy.New(placeholderBase), nil, placeholderBase, zerolog.Nop())
	rt := router.New(eng, st, nopPinger{}, shortcuts.Defaults(), h, zerolog.Nop())

	checker := health.NewChecker(zerolog.Nop())
	checker.Register("db", health.DatabaseCheck(kv))

	srv := NewServer(Config{ListenAddr: ":0"}, rt, checker, metrics.New(), zerolog.Nop())
	return &fixture{host: h, server: srv}
}

func (f *fixture) post(t *testing.T, path string, body interface{}) (*http.Response, router.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)

	var out router.Response
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Ready  bool                     `json:"ready"`
		Checks map[string]health.Status `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Ready)
	assert.Equal(t, health.StatusOK, body.Checks["db"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "tabnap_suspended_tabs")
}

func TestCommandSuspendTab(t *testing.T) {
	f := setup(t)
	tab := f.host.Add(host.Tab{WindowID: 1, URL: "https://example.com/a"})

	resp, out := f.post(t, "/api/v1/command", router.Request{
		Action: router.ActionSuspendTab,
		TabID:  tab.ID,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	assert.True(t, out.Replaced)
}

func TestCommandGetSettings(t *testing.T) {
	f := setup(t)

	resp, out := f.post(t, "/api/v1/command", router.Request{Action: router.ActionGetSettings})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, out.Success)
	require.NotNil(t, out.Settings)
	assert.Equal(t, settings.DefaultAutoSuspendTime, out.Settings.AutoSuspendTime)
}

func TestCommandMissingAction(t *testing.T) {
	f := setup(t)

	resp, _ := f.post(t, "/api/v1/command", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommandMalformedBody(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/command", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNamedCommand(t *testing.T) {
	f := setup(t)
	f.host.Add(host.Tab{WindowID: 1, URL: "https://example.com/a", Active: true})

	resp, out := f.post(t, "/api/v1/commands/"+shortcuts.CmdSuspendCurrentTab, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
}

func TestNamedCommandUnknown(t *testing.T) {
	f := setup(t)

	resp, _ := f.post(t, "/api/v1/commands/no-such-command", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownActionReturnsEnvelopeFailure(t *testing.T) {
	f := setup(t)

	resp, out := f.post(t, "/api/v1/command", router.Request{Action: "mystery"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "mystery")
}
