package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePyTest = `"""module docstring"""

def test_ping():
    """checks the ping case"""
    return {"prompt": "ping"}


def test_pong():
    return {"prompt": "pong"}


def helper():
    pass
`

func writeSample(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test_sample.py"), []byte(samplePyTest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helpers.py"), []byte("def helper(): pass\n"), 0o644))
}

func TestScannerListTests(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir)

	s, err := NewScanner(dir, nil)
	require.NoError(t, err)

	descs, errText := s.ListTests(context.Background())
	require.Empty(t, errText)
	require.Len(t, descs, 2)

	require.Equal(t, "test_sample::test_ping", descs[0].QualifiedName)
	require.Equal(t, "checks the ping case", descs[0].Docstring)
	require.Equal(t, "test_sample::test_pong", descs[1].QualifiedName)
	require.Empty(t, descs[1].Docstring)
}

func TestScannerCacheReusedUntilReload(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir)

	s, err := NewScanner(dir, nil)
	require.NoError(t, err)

	first, _ := s.ListTests(context.Background())
	require.Len(t, first, 2)

	// Add a new test file directly; without invalidation the cache for
	// unrelated files is untouched but the new file is still picked up
	// because it was never cached.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test_extra.py"), []byte("def test_extra():\n    pass\n"), 0o644))

	second, _ := s.ListTests(context.Background())
	require.Len(t, second, 3)

	require.NoError(t, s.Reload(context.Background()))
	third, _ := s.ListTests(context.Background())
	require.Len(t, third, 3)
}

func TestScannerExcludes(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir)
	sub := filepath.Join(dir, ".venv", "lib")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "test_vendored.py"), []byte("def test_vendored():\n    pass\n"), 0o644))

	s, err := NewScanner(dir, []string{"**/.venv/**"})
	require.NoError(t, err)

	descs, _ := s.ListTests(context.Background())
	require.Len(t, descs, 2)
}
