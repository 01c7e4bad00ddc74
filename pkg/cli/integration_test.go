//go:build integration

package cli_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/wraith/internal/state"
	"github.com/poltergeist/wraith/pkg/cli"
	werrors "github.com/poltergeist/wraith/pkg/errors"
)

const shellApps = `version: "1.0"
apps:
  - name: web
    input: ["src/web/*.ts"]
    command: 'mkdir -p "$WRAITH_OUT_DIR" && cat $WRAITH_ENTRIES > "$WRAITH_OUT_DIR/main.js" && echo "$WRAITH_MODE $NODE_ENV $API_URL" > "$WRAITH_OUT_DIR/env.txt"'
    plugins:
      - type: copy
        options:
          files:
            - from: src/web/index.html
              to: index.html
  - name: api
    appType: node
    hardWatch: true
    input: ["src/api/index.ts"]
    output: dist/api/
    command: 'mkdir -p "$WRAITH_OUT_DIR" && cp $WRAITH_ENTRIES "$WRAITH_OUT_DIR/index.js"'
`

// realCLI runs commands with the shell bundler
func (h *harness) realCLI() *cli.CLI {
	cfg := cli.NewConfig()
	cfg.Version = "integration"
	return cli.NewCLIWithOutput(cfg, h.out, h.errOut, cli.WithExitFunc(h.exit))
}

func (h *harness) runReal(ctx context.Context, args ...string) error {
	return h.realCLI().ExecuteContext(ctx, append([]string{"--root", h.root, "-v", "error"}, args...))
}

func readState(t *testing.T, root, app string) *state.AppState {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, ".wraith-cache", "state", app+".json"))
	if err != nil {
		return nil
	}
	var st state.AppState
	require.NoError(t, json.Unmarshal(data, &st))
	return &st
}

// TestEndToEndBuild tests a complete production build through the shell bundler
func TestEndToEndBuild(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	h := newHarness(t, shellApps)
	h.write(t, "src/web/index.html", "<html></html>")

	require.NoError(t, h.runReal(context.Background(), "build"))

	assert.Equal(t, "export {}", h.read(t, "dist/public/static/web/main.js"))
	assert.Equal(t, "production production http://localhost\n", h.read(t, "dist/public/static/web/env.txt"))
	assert.Equal(t, "<html></html>", h.read(t, "dist/public/static/web/index.html"))
	assert.Equal(t, "export {}", h.read(t, "dist/api/index.js"))
	assert.Equal(t, []int{werrors.ExitOK}, h.exitCodes())

	st := readState(t, h.root, "web")
	require.NotNil(t, st)
	assert.Equal(t, 1, st.BuildCount)
}

// TestBuildFailureRecovery checks a failing bundle command is reported without failing the run
func TestBuildFailureRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	h := newHarness(t, strings.Replace(shellApps, `mkdir -p "$WRAITH_OUT_DIR" && cat`, `echo "error: broken" && exit 2 && cat`, 1))

	require.NoError(t, h.runReal(context.Background(), "build", "web"))

	st := readState(t, h.root, "web")
	require.NotNil(t, st)
	assert.Equal(t, 1, st.FailureCount)
	assert.Contains(t, st.LastError, "broken")
	assert.Contains(t, h.out.String(), "1 of 1 app(s) failed to build")
}

// TestHardWatchRestart edits a source file during a dev session and waits for the
// bundler to be replaced
func TestHardWatchRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	h := newHarness(t, shellApps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.runReal(ctx, "dev", "api")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(h.out.String(), "Watching 1 app(s)")
	}, 10*time.Second, 20*time.Millisecond)

	first := readState(t, h.root, "api")
	require.NotNil(t, first)
	require.NotEmpty(t, first.WatcherID)

	h.write(t, "src/api/index.ts", "export const v = 2")

	require.Eventually(t, func() bool {
		st := readState(t, h.root, "api")
		return st != nil && st.RestartCount == 1 && st.WatcherID != "" && st.WatcherID != first.WatcherID
	}, 10*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(h.root, "dist/api/index.js"))
		return err == nil && string(data) == "export const v = 2"
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("dev did not stop")
	}

	st := readState(t, h.root, "api")
	require.NotNil(t, st)
	assert.Empty(t, st.WatcherID)
	assert.Equal(t, "done", string(st.State))
}
