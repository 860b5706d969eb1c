package assets

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

func TestEmbeddedFiles(t *testing.T) {
	for _, name := range []string{"index.html", "css/tracker.css", "js/api.js"} {
		_, err := fs.Stat(Files(), name)
		assert.NoError(t, err, name)
	}
}

func TestCollectIsIdempotent(t *testing.T) {
	root := t.TempDir()

	first, err := Collect(root)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Copied)
	assert.Zero(t, first.Unchanged)

	data, err := os.ReadFile(filepath.Join(root, "css", "tracker.css"))
	require.NoError(t, err)
	assert.Contains(t, string(data), ".balance")

	second, err := Collect(root)
	require.NoError(t, err)
	assert.Zero(t, second.Copied)
	assert.Equal(t, 3, second.Unchanged)
}

func TestCollectOverwritesChangedFiles(t *testing.T) {
	root := t.TempDir()
	src := fstest.MapFS{
		"app.css":     {Data: []byte("v2")},
		"img/logo.sv": {Data: []byte("<svg/>")},
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.css"), []byte("v1"), 0o644))

	result, err := CollectFS(src, root)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Copied)

	data, err := os.ReadFile(filepath.Join(root, "app.css"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestCollectRequiresRoot(t *testing.T) {
	_, err := Collect("")
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
}
