package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/coinsync/internal/engine"
	"github.com/roach88/coinsync/internal/testutil"
)

// fakeRemote adapts ScriptedUsers to Remote.
type fakeRemote struct {
	*testutil.ScriptedUsers
}

func (fakeRemote) Close() error { return nil }

// migratingRemote also supports Migrate.
type migratingRemote struct {
	fakeRemote
	migrations int
}

func (m *migratingRemote) Migrate(context.Context) error {
	m.migrations++
	return nil
}

// syncBuffer is a bytes.Buffer safe for the watch goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// cliHarness runs commands against one local cache and one scripted users
// table. Each run builds a fresh root command.
type cliHarness struct {
	t         *testing.T
	users     *testutil.ScriptedUsers
	source    *engine.MemorySource
	cachePath string
	remote    Remote
	opened    int
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	// keep retries fast and ignore any developer environment
	t.Setenv("COINSYNC_RETRY_BASE", "1ms")
	t.Setenv("COINSYNC_DSN", "")

	users := testutil.NewScriptedUsers()
	return &cliHarness{
		t:         t,
		users:     users,
		source:    engine.NewMemorySource(),
		cachePath: filepath.Join(t.TempDir(), "cache.db"),
		remote:    fakeRemote{users},
	}
}

func (h *cliHarness) options() *RootOptions {
	return &RootOptions{
		OpenRemote: func(context.Context, string) (Remote, error) {
			h.opened++
			return h.remote, nil
		},
		OpenSource: func(string, *slog.Logger) engine.ChangeSource {
			return h.source
		},
	}
}

// run executes args and returns stdout.
func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	err := h.runWith(context.Background(), stdout, stderr, nil, args...)
	return stdout.String(), err
}

func (h *cliHarness) runWith(ctx context.Context, stdout, stderr io.Writer, stdin io.Reader, args ...string) error {
	cmd := newRootCommand(h.options())
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if stdin == nil {
		stdin = &bytes.Buffer{}
	}
	cmd.SetIn(stdin)
	cmd.SetArgs(append([]string{"--cache", h.cachePath}, args...))
	return cmd.ExecuteContext(ctx)
}

// decodeData unmarshals the data field of a JSON response into v.
func decodeData(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)
	if v != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, v))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}
