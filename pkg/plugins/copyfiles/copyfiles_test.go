package copyfiles

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/plugin"
	"github.com/poltergeist/wraith/pkg/types"
)

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "static", "img"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "robots.txt"), []byte("User-agent: *"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "img", "logo.svg"), []byte("<svg/>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "favicon.ico"), []byte("ico"), 0644))
	return root
}

func buildInput() *plugin.BuildInput {
	return &plugin.BuildInput{
		App:   &types.ExtendedAppOptions{Name: "web", AppOptions: types.AppOptions{Output: "dist/web"}},
		Event: &types.BuildEvent{Type: types.BuildEventSuccess},
	}
}

func TestPlugin_CopiesFilesAndDirectories(t *testing.T) {
	root := setupProject(t)
	p := New("", Options{Files: []Rule{
		{From: "static/robots.txt", To: "robots.txt"},
		{From: "static/img", To: "assets/img"},
		{From: "static/*.{txt,ico}", To: "root"},
	}}, root, logger.Discard())
	assert.Equal(t, "copy", p.Name())

	require.NoError(t, p.AfterBuild(context.Background(), buildInput()))

	out := filepath.Join(root, "dist", "web")
	assert.FileExists(t, filepath.Join(out, "robots.txt"))
	assert.FileExists(t, filepath.Join(out, "assets", "img", "logo.svg"))
	assert.FileExists(t, filepath.Join(out, "root", "favicon.ico"))
	assert.FileExists(t, filepath.Join(out, "root", "robots.txt"))
}

func TestPlugin_SkipsFailedBuilds(t *testing.T) {
	root := setupProject(t)
	p := New("", Options{Files: []Rule{{From: "static/robots.txt", To: "robots.txt"}}}, root, logger.Discard())

	in := buildInput()
	in.Event = nil
	in.BuildErr = errors.New("compile error")
	require.NoError(t, p.AfterBuild(context.Background(), in))
	assert.NoFileExists(t, filepath.Join(root, "dist", "web", "robots.txt"))
}

func TestPlugin_MissingSourceFails(t *testing.T) {
	root := setupProject(t)
	p := New("assets", Options{Files: []Rule{{From: "static/missing.txt", To: "x"}}, ExitCode: 2}, root, logger.Discard())

	err := p.AfterBuild(context.Background(), buildInput())
	require.Error(t, err)
	assert.Equal(t, werrors.KindPlugin, werrors.KindOf(err))
	assert.Equal(t, 2, werrors.ExitCodeFor(err))
}
