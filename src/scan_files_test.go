package pcopy

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files (slash-separated relative path to content) and
// empty directories under root.
func writeTree(t *testing.T, root string, files map[string]string, emptyDirs ...string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	for _, rel := range emptyDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(rel)), 0o755))
	}
}

// expectedDirs lists every directory below the root implied by files and emptyDirs.
func expectedDirs(files map[string]string, emptyDirs ...string) []string {
	seen := map[string]struct{}{}
	add := func(dir string) {
		for dir != "." && dir != "" {
			seen[dir] = struct{}{}
			dir = path.Dir(dir)
		}
	}
	for rel := range files {
		add(path.Dir(rel))
	}
	for _, d := range emptyDirs {
		add(d)
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func sampleTree() map[string]string {
	files := map[string]string{
		"root1.txt": "a",
		"root2.txt": "bb",
	}
	for i := range 25 {
		files[fmt.Sprintf("d%02d/f%02d.txt", i, i)] = fmt.Sprintf("file %d", i)
		files[fmt.Sprintf("d%02d/nested/n.txt", i)] = "nested"
		files[fmt.Sprintf("d%02d/nested/deeper/x/y.bin", i)] = string(make([]byte, i*10))
	}
	return files
}

func splitQueue(queue []WorkItem) (files, dirs []string) {
	for _, item := range queue {
		rel := filepath.ToSlash(item.Entry.RelPath)
		switch item.Kind {
		case ItemFile:
			files = append(files, rel)
		case ItemDirectory:
			dirs = append(dirs, rel)
		}
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs
}

func TestScanTreeIsComplete(t *testing.T) {
	root := t.TempDir()
	files := sampleTree()
	writeTree(t, root, files, "empty", "d03/also-empty")

	var wantFiles []string
	var wantBytes uint64
	for rel, content := range files {
		wantFiles = append(wantFiles, rel)
		wantBytes += uint64(len(content))
	}
	sort.Strings(wantFiles)
	wantDirs := expectedDirs(files, "empty", "d03/also-empty")

	for _, threads := range []int{1, 2, 3, 8, 32} {
		t.Run(fmt.Sprintf("threads=%d", threads), func(t *testing.T) {
			result, err := ScanTree(t.Context(), root, ScanOptions{Threads: threads})
			require.NoError(t, err)

			gotFiles, gotDirs := splitQueue(result.Queue)
			assert.Equal(t, wantFiles, gotFiles)
			assert.Equal(t, wantDirs, gotDirs)
			assert.Equal(t, Found(uint64(len(files)), wantBytes), result.Found)
			assert.Equal(t, len(wantDirs), result.Dirs)
			assert.Zero(t, result.Errors)

			for _, item := range result.Queue {
				assert.True(t, filepath.IsAbs(item.Entry.Path))
				assert.Equal(t, filepath.Join(root, item.Entry.RelPath), item.Entry.Path)
				assert.Equal(t, item.Kind == ItemDirectory, item.Entry.IsDir)
				assert.NotEqual(t, ItemDone, item.Kind)
			}
		})
	}
}

func TestScanTreeEmptyRoot(t *testing.T) {
	for _, threads := range []int{0, 1, 4} {
		result, err := ScanTree(t.Context(), t.TempDir(), ScanOptions{Threads: threads})
		require.NoError(t, err)
		assert.Empty(t, result.Queue)
		assert.Equal(t, Accumulator{}, result.Found)
	}
}

func TestScanTreeSnapshotsMetadata(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "0123456789"})

	result, err := ScanTree(t.Context(), root, ScanOptions{Threads: 2})
	require.NoError(t, err)
	require.Len(t, result.Queue, 1)

	fi, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	entry := result.Queue[0].Entry
	assert.Equal(t, int64(10), entry.Size)
	assert.True(t, fi.ModTime().Equal(entry.ModTime))
}

func TestScanTreeMissingRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	_, err := ScanTree(t.Context(), missing, ScanOptions{Threads: 4})
	require.Error(t, err)
	assert.Equal(t, Other, KindOf(err))

	result, err := ScanTree(t.Context(), missing, ScanOptions{Threads: 4, ContinueOnError: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Empty(t, result.Queue)
}

func TestScanTreeUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"ok/a.txt":     "a",
		"locked/b.txt": "b",
	})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	_, err := ScanTree(t.Context(), root, ScanOptions{Threads: 2})
	assert.Equal(t, AccessDenied, KindOf(err))

	result, err := ScanTree(t.Context(), root, ScanOptions{Threads: 2, ContinueOnError: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	files, dirs := splitQueue(result.Queue)
	assert.Equal(t, []string{"ok/a.txt"}, files)
	assert.Equal(t, []string{"locked", "ok"}, dirs)
}

func TestScanTreeExcludes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.txt":            "k",
		"scratch.tmp":         "t",
		"sub/also.tmp":        "t",
		"sub/keep.go":         "g",
		"node_modules/x/y.js": "y",
		"build/out.bin":       "b",
		"notadir/build":       "file named build",
	})

	result, err := ScanTree(t.Context(), root, ScanOptions{
		Threads:  3,
		Excludes: []string{"**/*.tmp", "node_modules", "**/build/"},
	})
	require.NoError(t, err)

	files, dirs := splitQueue(result.Queue)
	assert.Equal(t, []string{"keep.txt", "notadir/build", "sub/keep.go"}, files)
	assert.Equal(t, []string{"notadir", "sub"}, dirs)
	assert.Equal(t, uint64(3), result.Found.FileCountFound)
}

func TestScanTreeInvalidExclude(t *testing.T) {
	_, err := ScanTree(t.Context(), t.TempDir(), ScanOptions{Excludes: []string{"[unterminated"}})
	assert.Equal(t, Other, KindOf(err))
}

func TestScanTreeSymlinks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"real/target.txt": "target"})
	require.NoError(t, os.Symlink(filepath.Join(root, "real", "target.txt"), filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "loop")))
	require.NoError(t, os.Symlink(filepath.Join(root, "gone"), filepath.Join(root, "dangling")))

	result, err := ScanTree(t.Context(), root, ScanOptions{Threads: 2})
	require.NoError(t, err)

	files, dirs := splitQueue(result.Queue)
	assert.Equal(t, []string{"link.txt", "real/target.txt"}, files)
	assert.Equal(t, []string{"real"}, dirs)
	assert.Equal(t, Found(2, 12), result.Found)
}

func TestScanTreeCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, sampleTree())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := ScanTree(ctx, root, ScanOptions{Threads: 4})
	assert.ErrorIs(t, err, context.Canceled)
}
