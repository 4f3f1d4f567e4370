// Package export moves a finished artifact out of the job workspace under
// a user-chosen name and hands it to a share sink.
package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"room-capture/internal/domain"
	"room-capture/internal/staging"
)

const sidecarExt = ".json"

// Prompter asks the user for an artifact name. ok is false when the user
// dismissed the prompt.
type Prompter interface {
	ProposeFilename(ctx context.Context, defaultName string) (name string, ok bool, err error)
}

// Sink receives exported file paths, e.g. a system share sheet.
type Sink interface {
	Export(ctx context.Context, paths []string) error
}

// Flow runs propose, rename and export for one staged artifact.
type Flow struct {
	destDir  string
	prompter Prompter
	sink     Sink
	logger   *zap.Logger
	stat     func(string) (os.FileInfo, error)
	remove   func(string) error
	move     func(src, dst string) error
}

// NewFlow builds an export flow writing into destDir.
func NewFlow(destDir string, prompter Prompter, sink Sink, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		destDir:  destDir,
		prompter: prompter,
		sink:     sink,
		logger:   logger,
		stat:     os.Stat,
		remove:   os.Remove,
		move:     staging.MoveFile,
	}
}

// Run names, relocates and exports artifact. A dismissed or failed prompt
// keeps the default name; export never blocks on naming.
func (f *Flow) Run(ctx context.Context, artifact domain.StagedArtifact) (domain.StagedArtifact, error) {
	name := f.ProposeFilename(ctx, DefaultName(artifact))

	renamed, err := f.Rename(artifact, name)
	if err != nil {
		return artifact, err
	}
	if err := f.Export(ctx, renamed); err != nil {
		return renamed, err
	}
	return renamed, nil
}

// ProposeFilename asks the prompter for a name and falls back to
// defaultName when none is given.
func (f *Flow) ProposeFilename(ctx context.Context, defaultName string) string {
	if f.prompter == nil {
		return defaultName
	}

	name, ok, err := f.prompter.ProposeFilename(ctx, defaultName)
	if err != nil {
		f.logger.Warn("filename prompt failed, keeping default name", zap.Error(err))
		return defaultName
	}
	if !ok {
		return defaultName
	}
	if clean := sanitizeName(name, filepath.Ext(defaultName)); clean != "" {
		return clean
	}
	return defaultName
}

// Rename moves the artifact and its sidecar into the destination directory
// as newName. An existing artifact of the same name is replaced.
func (f *Flow) Rename(artifact domain.StagedArtifact, newName string) (domain.StagedArtifact, error) {
	src := artifact.Path()
	if src == "" {
		return artifact, errors.Mark(errors.New("artifact has no file"), domain.ErrIO)
	}
	ext := filepath.Ext(src)
	base := sanitizeName(newName, ext)
	if base == "" {
		base = strings.TrimSuffix(filepath.Base(src), ext)
	}

	if err := os.MkdirAll(f.destDir, 0o755); err != nil {
		return artifact, errors.Mark(errors.Wrapf(err, "create export directory %s", f.destDir), domain.ErrIO)
	}

	dst := filepath.Join(f.destDir, base+ext)
	if err := f.place(src, dst); err != nil {
		return artifact, err
	}
	artifact.FinalPath = dst

	if artifact.SidecarPath != "" {
		sidecarDst := filepath.Join(f.destDir, base+sidecarExt)
		if err := f.place(artifact.SidecarPath, sidecarDst); err != nil {
			f.logger.Warn("sidecar not relocated", zap.String("path", artifact.SidecarPath), zap.Error(err))
		} else {
			artifact.SidecarPath = sidecarDst
		}
	}
	return artifact, nil
}

// Export hands the artifact and sidecar paths to the sink.
func (f *Flow) Export(ctx context.Context, artifact domain.StagedArtifact) error {
	if f.sink == nil {
		return nil
	}

	paths := []string{artifact.Path()}
	if artifact.SidecarPath != "" {
		paths = append(paths, artifact.SidecarPath)
	}
	if err := f.sink.Export(ctx, paths); err != nil {
		return errors.Wrap(err, "export artifact")
	}
	return nil
}

// place moves src to dst, resolving a name conflict by removing the prior
// file. Only a failed removal surfaces the conflict.
func (f *Flow) place(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}

	err := f.checkFree(dst)
	if errors.Is(err, domain.ErrRenameConflict) {
		f.logger.Info("replacing existing artifact", zap.String("path", dst))
		if rmErr := f.remove(dst); rmErr != nil {
			return errors.WithSecondaryError(err, errors.Mark(rmErr, domain.ErrIO))
		}
	} else if err != nil {
		return err
	}

	return f.move(src, dst)
}

func (f *Flow) checkFree(dst string) error {
	_, err := f.stat(dst)
	switch {
	case err == nil:
		return errors.Wrapf(domain.ErrRenameConflict, "%s", filepath.Base(dst))
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return errors.Mark(errors.Wrapf(err, "inspect %s", dst), domain.ErrIO)
	}
}

// DefaultName is the staged file name of artifact.
func DefaultName(artifact domain.StagedArtifact) string {
	return filepath.Base(artifact.Path())
}

// sanitizeName strips directories and the artifact extension from name.
func sanitizeName(name, ext string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "-", "\\", "-", ":", "-").Replace(name)
	if ext != "" && strings.EqualFold(filepath.Ext(name), ext) {
		name = name[:len(name)-len(ext)]
	}
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// NewFlowForTests builds a flow with an injectable remove step.
func NewFlowForTests(destDir string, prompter Prompter, sink Sink, remove func(string) error) *Flow {
	f := NewFlow(destDir, prompter, sink, nil)
	f.remove = remove
	return f
}
