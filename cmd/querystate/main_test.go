package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/config"
	"github.com/goliatone/go-query-state/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, rt *runtime, stdin string, args ...string) cliResult {
	t.Helper()
	t.Setenv(envConfig, "")

	cmd := newRootCmdWith(rt)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func memoryRuntime() *runtime {
	return &runtime{store: state.NewMemoryStore[querystate.SharedState]()}
}

func decodeState(t *testing.T, out string) querystate.SharedState {
	t.Helper()
	var snapshot querystate.SharedState
	require.NoError(t, json.Unmarshal([]byte(out), &snapshot), out)
	return snapshot
}

func TestStatePutAndGet(t *testing.T) {
	rt := memoryRuntime()
	input := `{
		"time": {"from": "now-7d", "to": "now"},
		"query": {"query": "status:200", "language": "kuery"},
		"filters": [
			{"meta": {"key": "host"}, "query": {"match_phrase": {"host": "a"}}, "$state": {"store": "globalState"}},
			{"meta": {"key": "path"}, "query": {"match_phrase": {"path": "/"}}}
		]
	}`

	res := runCLI(t, rt, input, "state", "put", "--app", "discover")
	require.NoError(t, res.err, res.stderr)
	var metas map[string]state.Meta
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &metas))
	assert.NotEmpty(t, metas["global"].ETag)
	assert.NotEmpty(t, metas["app/discover"].ETag)

	res = runCLI(t, rt, "", "state", "get", "--app", "discover")
	require.NoError(t, res.err, res.stderr)
	got := decodeState(t, res.stdout)
	require.NotNil(t, got.Time)
	assert.Equal(t, "now-7d", got.Time.From)
	require.NotNil(t, got.Query)
	assert.Equal(t, "status:200", got.Query.Query)
	require.Len(t, got.Filters, 2)
	assert.Equal(t, querystate.FilterStoreGlobal, got.Filters[0].Store())
	assert.Equal(t, querystate.FilterStoreApp, got.Filters[1].Store())

	res = runCLI(t, rt, "", "state", "get", "--app", "dashboards")
	require.NoError(t, res.err, res.stderr)
	other := decodeState(t, res.stdout)
	assert.Nil(t, other.Query, "app partition is private")
	require.Len(t, other.Filters, 1, "pinned filter is shared")
}

func TestStatePutRejectsInvalidInput(t *testing.T) {
	rt := memoryRuntime()

	res := runCLI(t, rt, `{"time": {"from": "whenever", "to": "now"}}`, "state", "put")
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, state.ErrInvalidSnapshot)
	assert.Equal(t, exitUsage, exitCode(res.err))

	res = runCLI(t, rt, `{not json`, "state", "put")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, exitCode(res.err))
}

func TestStateGetMissingApp(t *testing.T) {
	res := runCLI(t, memoryRuntime(), "", "state", "get", "--app", "nothing")
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, state.ErrNotFound)
	assert.Equal(t, exitError, exitCode(res.err))
}

func TestStateTraceAndDelete(t *testing.T) {
	rt := memoryRuntime()
	res := runCLI(t, rt, `{"time": {"from": "now-1h", "to": "now"}, "query": {"query": "x", "language": "kuery"}}`, "state", "put", "-a", "discover")
	require.NoError(t, res.err, res.stderr)

	res = runCLI(t, rt, "", "state", "trace", "time", "-a", "discover")
	require.NoError(t, res.err, res.stderr)
	var trace []state.Provenance
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &trace))
	require.Len(t, trace, 2)
	assert.False(t, trace[0].Found)
	assert.True(t, trace[1].Found)
	assert.Equal(t, "global", trace[1].Ref)

	res = runCLI(t, rt, "", "state", "trace", "nope")
	assert.Equal(t, exitUsage, exitCode(res.err))

	res = runCLI(t, rt, "", "state", "delete", "-a", "discover", "-p", "app")
	require.NoError(t, res.err, res.stderr)
	res = runCLI(t, rt, "", "state", "get", "-a", "discover")
	require.NoError(t, res.err, res.stderr)
	assert.Nil(t, decodeState(t, res.stdout).Query)

	res = runCLI(t, rt, "", "state", "delete", "-p", "user")
	assert.Equal(t, exitUsage, exitCode(res.err))
}

func TestSyncAppliesServiceChangesAndSaves(t *testing.T) {
	rt := memoryRuntime()

	res := runCLI(t, rt, "", "sync", "--app", "discover", "--from", "now-1h", "--query", "status:200", "--refresh", "10s", "--pause", "false")
	require.NoError(t, res.err, res.stderr)
	synced := decodeState(t, res.stdout)
	require.NotNil(t, synced.Time)
	assert.Equal(t, querystate.TimeRange{From: "now-1h", To: "now"}, *synced.Time)
	require.NotNil(t, synced.Query)
	assert.Equal(t, querystate.Query{Query: "status:200", Language: "kuery"}, *synced.Query)
	require.NotNil(t, synced.RefreshInterval)
	assert.Equal(t, querystate.RefreshInterval{Pause: false, Value: 10000}, *synced.RefreshInterval)

	res = runCLI(t, rt, "", "state", "get", "--app", "discover")
	require.NoError(t, res.err, res.stderr)
	stored := decodeState(t, res.stdout)
	assert.Equal(t, *synced.Time, *stored.Time)
	assert.Equal(t, *synced.Query, *stored.Query)
}

func TestSyncRestoresStoredState(t *testing.T) {
	rt := memoryRuntime()
	res := runCLI(t, rt, `{"time": {"from": "now-30d", "to": "now"}, "query": {"query": "a:b", "language": "kuery"}}`, "state", "put", "-a", "discover")
	require.NoError(t, res.err, res.stderr)

	res = runCLI(t, rt, "", "sync", "-a", "discover", "--dry-run")
	require.NoError(t, res.err, res.stderr)
	synced := decodeState(t, res.stdout)
	assert.Equal(t, "now-30d", synced.Time.From)
	assert.Equal(t, "a:b", synced.Query.Query)
	assert.NotNil(t, synced.RefreshInterval, "service defaults fill missing keys")
}

func TestSyncRejectsInvalidChanges(t *testing.T) {
	rt := memoryRuntime()

	res := runCLI(t, rt, "", "sync", "--from", "not-a-date")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, exitCode(res.err))

	res = runCLI(t, rt, "", "sync", "--query", "status:(", "--dry-run")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, exitCode(res.err))

	res = runCLI(t, rt, "", "sync", "--pause", "maybe")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, exitCode(res.err))
}

func TestSyncReportsMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "querystate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: discover\nactivity:\n  enabled: true\n  metrics: true\nlog:\n  level: info\n  format: json\n"), 0o600))

	res := runCLI(t, memoryRuntime(), "", "--config", path, "sync", "--from", "now-2h", "--dry-run")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stderr, `"msg":"sync metric"`)
	assert.Contains(t, res.stderr, "querystate_sync_events_total")
}

func TestMatchFiltersDocuments(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{
		"time": {"from": "now-15m", "to": "now"},
		"query": {"query": "status:200", "language": "kuery"},
		"filters": [{"meta": {"negate": true}, "query": {"match_phrase": {"host": "internal"}}}]
	}`), 0o600))

	docs := strings.Join([]string{
		`{"id": 1, "status": 200, "host": "web", "@timestamp": "2024-06-01T11:55:00Z"}`,
		`{"id": 2, "status": 404, "host": "web", "@timestamp": "2024-06-01T11:56:00Z"}`,
		`{"id": 3, "status": 200, "host": "internal", "@timestamp": "2024-06-01T11:57:00Z"}`,
		`{"id": 4, "status": 200, "host": "web", "@timestamp": "2024-05-01T11:57:00Z"}`,
	}, "\n")

	res := runCLI(t, memoryRuntime(), docs, "match", "--state", statePath, "--now", "2024-06-01T12:00:00Z")
	require.NoError(t, res.err, res.stderr)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 1, res.stdout)
	assert.Contains(t, lines[0], `"id":1`)

	res = runCLI(t, memoryRuntime(), docs, "match", "--state", statePath, "--now", "2024-06-01T12:00:00Z", "--query", "status:404", "--count")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "1", strings.TrimSpace(res.stdout))

	res = runCLI(t, memoryRuntime(), docs, "match", "--state", "-")
	assert.Equal(t, exitUsage, exitCode(res.err))
}

func TestTimeBounds(t *testing.T) {
	res := runCLI(t, memoryRuntime(), "", "time", "bounds", "--from", "now-1h", "--now", "2024-06-01T12:00:00Z")
	require.NoError(t, res.err, res.stderr)
	var out boundsOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "now-1h", out.From)
	assert.Equal(t, "now", out.To)
	assert.Equal(t, "2024-06-01T11:00:00Z", out.Min.UTC().Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, "2024-06-01T12:00:00Z", out.Max.UTC().Format("2006-01-02T15:04:05Z07:00"))

	res = runCLI(t, memoryRuntime(), "", "time", "bounds", "--from", "garbage")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, exitCode(res.err))
}

func TestQueryCommands(t *testing.T) {
	res := runCLI(t, memoryRuntime(), "", "query", "languages")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "kuery\n")
	assert.Contains(t, res.stdout, "cel\n")

	res = runCLI(t, memoryRuntime(), "", "query", "validate", "status:200 and not host:internal")
	require.NoError(t, res.err)
	assert.Equal(t, "ok\n", res.stdout)

	res = runCLI(t, memoryRuntime(), "", "query", "validate", "-l", "expr", "status ==")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, exitCode(res.err))

	res = runCLI(t, memoryRuntime(), "", "query", "validate", "-l", "sql", "select 1")
	require.Error(t, res.err)
}

func TestInvalidConfigIsUsageError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "querystate.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"loud\"\n"), 0o600))

	res := runCLI(t, memoryRuntime(), "", "--config", path, "query", "languages")
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, config.ErrInvalid)
	assert.Equal(t, exitUsage, exitCode(res.err))
}

func TestNewLoggerUsesJSONOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.Default())
	logger.Info("hello", "k", "v")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), buf.String())

	buf.Reset()
	cfg := config.Default()
	cfg.Log.Format = "text"
	newLogger(&buf, cfg).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	assert.Equal(t, exitError, exitCode(errors.New("boom")))
}
