package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIgnores(t *testing.T) {
	l := NewIgnoreList(t.TempDir(), nil)

	ignored := []string{
		"node_modules/react/index.js",
		"src/node_modules/x.js",
		".git/HEAD",
		"dist/bundle.js",
		"data/app.db",
		"data/app.db-journal",
		".DS_Store",
		"sub/.DS_Store",
		"package-lock.json",
		"yarn.lock",
		".partsync/partsync.lock",
	}
	for _, p := range ignored {
		assert.True(t, l.Ignored(p), p)
	}

	kept := []string{
		"src/app.ts",
		"README.md",
		"dist.md",
		"database/schema.sql",
	}
	for _, p := range kept {
		assert.False(t, l.Ignored(p), p)
	}
}

func TestExtraGlobs(t *testing.T) {
	l := NewIgnoreList(t.TempDir(), []string{"**/*.log", "tmp/**"})

	assert.True(t, l.Ignored("debug.log"))
	assert.True(t, l.Ignored("deep/nested/trace.log"))
	assert.True(t, l.Ignored("tmp/scratch.ts"))
	assert.False(t, l.Ignored("src/logger.ts"))
}

func TestIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ignoreFileName),
		[]byte("# build output\nout/\n*.generated.ts\n"),
		0o644,
	))

	l := NewIgnoreList(dir, nil)
	assert.True(t, l.Ignored("out/main.js"))
	assert.True(t, l.Ignored("src/api.generated.ts"))
	assert.False(t, l.Ignored("src/api.ts"))
}

func TestInvalidGlobSkipped(t *testing.T) {
	l := NewIgnoreList(t.TempDir(), []string{"[bad"})
	assert.False(t, l.Ignored("anything.ts"))
}
