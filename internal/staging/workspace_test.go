package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"room-capture/internal/domain"
)

func writeImages(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("IMG_%04d.HEIC", i))
		require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	}
}

func TestScanImagesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.PNG", "notes.txt", ".hidden.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o755))

	images, err := NewStager(t.TempDir()).ScanImages(dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.PNG"), filepath.Join(dir, "b.jpg")}, images)
}

func TestScanImagesEmptyFolderReportsNoImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644))

	_, err := NewStager(t.TempDir()).ScanImages(dir)
	require.True(t, errors.Is(err, domain.ErrNoImages), "error = %v", err)
	require.True(t, errors.Is(err, domain.ErrIO), "no images belongs to the io class: %v", err)
	require.Equal(t, domain.ErrorKindNoImages, domain.KindOf(err))
	require.NotEmpty(t, domain.NoticeFor(err).Hint)
}

func TestScanImagesMissingFolderIsIOError(t *testing.T) {
	_, err := NewStager(t.TempDir()).ScanImages(filepath.Join(t.TempDir(), "missing"))
	require.True(t, errors.Is(err, domain.ErrIO), "error = %v", err)
}

func TestCreateWorkspaceCopyAndCleanup(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeImages(t, src, 12)

	stager := NewStager(root)
	images, err := stager.ScanImages(src)
	require.NoError(t, err)
	require.Len(t, images, 12)

	ws, err := stager.CreateWorkspace()
	require.NoError(t, err)
	require.Equal(t, root, filepath.Dir(ws.Root))
	require.DirExists(t, ws.InputsDir())
	require.DirExists(t, ws.OutputDir())

	staged, err := stager.CopyInputs(context.Background(), ws, images)
	require.NoError(t, err)
	require.Len(t, staged, 12)
	for _, path := range staged {
		require.FileExists(t, path)
	}
	require.Equal(t, filepath.Join(ws.OutputDir(), "model.usdz"), ws.OutputPath("model.usdz"))

	require.NoError(t, stager.Cleanup(ws))
	require.NoDirExists(t, ws.Root)
	require.NoError(t, stager.Cleanup(ws))
}

func TestCreateWorkspaceFailureIsIOError(t *testing.T) {
	stager := NewStagerForTests(
		t.TempDir(),
		func(string, string) (string, error) { return "", errors.New("disk full") },
		os.RemoveAll,
	)

	_, err := stager.CreateWorkspace()
	require.True(t, errors.Is(err, domain.ErrIO), "error = %v", err)
	require.Equal(t, domain.ErrorKindIO, domain.KindOf(err))
}

func TestCopyInputsStopsOnCancel(t *testing.T) {
	src := t.TempDir()
	writeImages(t, src, 3)
	stager := NewStager(t.TempDir())
	images, err := stager.ScanImages(src)
	require.NoError(t, err)
	ws, err := stager.CreateWorkspace()
	require.NoError(t, err)
	t.Cleanup(func() { _ = stager.Cleanup(ws) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	staged, err := stager.CopyInputs(ctx, ws, images)
	require.True(t, errors.Is(err, context.Canceled), "error = %v", err)
	require.Empty(t, staged)
}

func TestMoveFileReplacesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.usdz")
	dst := filepath.Join(dir, "b.usdz")
	require.NoError(t, os.WriteFile(src, []byte("model"), 0o644))

	require.NoError(t, MoveFile(src, dst))
	require.NoFileExists(t, src)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "model", string(data))
}
