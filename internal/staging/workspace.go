// Package staging manages the process-owned temporary workspace a capture
// job reads its inputs from and writes its artifacts into.
package staging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"

	"room-capture/internal/domain"
)

const (
	inputsDir = "inputs"
	outputDir = "output"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".heif": true,
	".tif":  true,
	".tiff": true,
}

// Workspace is a job-owned temporary directory tree.
type Workspace struct {
	Root string
}

// InputsDir holds copied input samples.
func (w Workspace) InputsDir() string {
	return filepath.Join(w.Root, inputsDir)
}

// OutputDir holds engine output before it is renamed or exported.
func (w Workspace) OutputDir() string {
	return filepath.Join(w.Root, outputDir)
}

// OutputPath returns the staged location for an artifact file name.
func (w Workspace) OutputPath(name string) string {
	return filepath.Join(w.OutputDir(), filepath.Base(name))
}

// Stager creates and removes workspaces under a single root.
type Stager struct {
	root      string
	mkdirTemp func(dir, pattern string) (string, error)
	mkdirAll  func(path string, perm os.FileMode) error
	removeAll func(path string) error
	readDir   func(name string) ([]os.DirEntry, error)
}

// NewStager builds a stager rooted at dir. An empty dir means os.TempDir.
func NewStager(dir string) *Stager {
	return &Stager{
		root:      dir,
		mkdirTemp: os.MkdirTemp,
		mkdirAll:  os.MkdirAll,
		removeAll: os.RemoveAll,
		readDir:   os.ReadDir,
	}
}

// ScanImages lists qualifying images in dir, sorted by name. Hidden files
// and subdirectories are skipped.
func (s *Stager) ScanImages(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.Mark(errors.New("input folder is required"), domain.ErrIO)
	}

	entries, err := s.readDir(dir)
	if err != nil {
		return nil, markIO(errors.Wrapf(err, "read input folder %s", dir))
	}

	images := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(name))] {
			images = append(images, filepath.Join(dir, name))
		}
	}
	if len(images) == 0 {
		return nil, errors.WithHint(
			errors.Mark(errors.Wrapf(domain.ErrNoImages, "no qualifying images in %s", dir), domain.ErrIO),
			"Add .jpg, .png or .heic photos of the object to the folder and try again.",
		)
	}

	sort.Strings(images)
	return images, nil
}

// CreateWorkspace makes a fresh workspace with inputs/ and output/ dirs.
func (s *Stager) CreateWorkspace() (Workspace, error) {
	root, err := s.mkdirTemp(s.root, "room-capture-*")
	if err != nil {
		return Workspace{}, markIO(errors.Wrap(err, "create temporary workspace"))
	}

	ws := Workspace{Root: root}
	for _, dir := range []string{ws.InputsDir(), ws.OutputDir()} {
		if err := s.mkdirAll(dir, 0o755); err != nil {
			_ = s.removeAll(root)
			return Workspace{}, markIO(errors.Wrapf(err, "create workspace directory %s", dir))
		}
	}
	return ws, nil
}

// CopyInputs copies files into the workspace inputs directory and returns
// the staged paths. Cancellation is checked between files.
func (s *Stager) CopyInputs(ctx context.Context, ws Workspace, files []string) ([]string, error) {
	staged := make([]string, 0, len(files))
	for _, src := range files {
		if err := ctx.Err(); err != nil {
			return staged, err
		}

		dst := filepath.Join(ws.InputsDir(), filepath.Base(src))
		if err := CopyFile(src, dst); err != nil {
			return staged, err
		}
		staged = append(staged, dst)
	}
	return staged, nil
}

// Cleanup removes the workspace. Removing an absent workspace is a no-op.
func (s *Stager) Cleanup(ws Workspace) error {
	if ws.Root == "" {
		return nil
	}
	if err := s.removeAll(ws.Root); err != nil {
		return markIO(errors.Wrapf(err, "remove workspace %s", ws.Root))
	}
	return nil
}

// CopyFile copies src to dst, creating or truncating dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return markIO(errors.Wrapf(err, "open %s", src))
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return markIO(errors.Wrapf(err, "create %s", dst))
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return markIO(errors.Wrapf(err, "copy %s", src))
	}
	if err := out.Close(); err != nil {
		return markIO(errors.Wrapf(err, "flush %s", dst))
	}
	return nil
}

// MoveFile renames src to dst, copying across filesystems when needed.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return markIO(errors.Wrapf(err, "move %s", src))
	}

	if err := CopyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return markIO(errors.Wrapf(err, "remove %s", src))
	}
	return nil
}

// markIO classifies err as a filesystem failure.
func markIO(err error) error {
	return errors.WithHint(
		errors.Mark(err, domain.ErrIO),
		"Check free disk space and folder permissions, then start a new capture.",
	)
}

// NewStagerForTests constructs a stager with injectable dependencies.
func NewStagerForTests(
	dir string,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
) *Stager {
	return &Stager{
		root:      dir,
		mkdirTemp: mkdirTemp,
		mkdirAll:  os.MkdirAll,
		removeAll: removeAll,
		readDir:   os.ReadDir,
	}
}
