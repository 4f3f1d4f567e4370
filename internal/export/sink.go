package export

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	goruntime "runtime"

	"github.com/cockroachdb/errors"
)

// FileManagerSink reveals exported files in the platform file manager.
type FileManagerSink struct {
	start func(name string, args ...string) error
}

// NewFileManagerSink builds a sink that launches the OS file manager.
func NewFileManagerSink() *FileManagerSink {
	return &FileManagerSink{
		start: func(name string, args ...string) error {
			return exec.Command(name, args...).Start()
		},
	}
}

// Export opens the folder holding the first path.
func (s *FileManagerSink) Export(_ context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.New("nothing to export")
	}
	return s.Open(filepath.Dir(paths[0]))
}

// Open shows dir in the file manager.
func (s *FileManagerSink) Open(dir string) error {
	name, args := fileManagerCommand(goruntime.GOOS, dir)
	if err := s.start(name, args...); err != nil {
		return errors.Wrap(err, "launch file manager")
	}
	return nil
}

// fileManagerCommand returns the launcher for goos.
func fileManagerCommand(goos, dir string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{dir}
	case "windows":
		return "explorer", []string{filepath.Clean(dir)}
	default:
		return "xdg-open", []string{dir}
	}
}

// WriterSink prints exported paths, one per line.
type WriterSink struct {
	W io.Writer
}

// Export writes paths to W.
func (s WriterSink) Export(_ context.Context, paths []string) error {
	for _, path := range paths {
		if _, err := fmt.Fprintln(s.W, path); err != nil {
			return err
		}
	}
	return nil
}

// FixedName is a prompter that always answers with Name; an empty Name
// acts like a dismissed prompt.
type FixedName struct {
	Name string
}

// ProposeFilename returns the fixed name.
func (p FixedName) ProposeFilename(_ context.Context, _ string) (string, bool, error) {
	if p.Name == "" {
		return "", false, nil
	}
	return p.Name, true, nil
}
