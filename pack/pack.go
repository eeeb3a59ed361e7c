package pack

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/relmatrix/relmatrix/build"
	"github.com/relmatrix/relmatrix/matrix"
	"github.com/relmatrix/relmatrix/util"
)

// Format is the archive encoding used for one target's bundle.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTarXz Format = "tarxz"
)

// Extension returns the file suffix an archive of this format carries,
// without a leading dot.
func (f Format) Extension() string {
	if f == FormatZip {
		return "zip"
	}
	return "tar.xz"
}

// formatsByFamily is the total mapping from host family to archive format.
// Adding a family means adding a row here, nothing else.
var formatsByFamily = map[matrix.HostFamily]Format{
	matrix.FamilyLinux:   FormatTarXz,
	matrix.FamilyMacOS:   FormatTarXz,
	matrix.FamilyWindows: FormatZip,
}

// FormatFor resolves the archive format for a host family. An unmapped
// family is a configuration defect, reported as an UnknownFamilyError, never
// silently defaulted.
func FormatFor(target matrix.TargetSpec) (Format, error) {
	format, ok := formatsByFamily[target.Family]
	if !ok {
		return "", &matrix.UnknownFamilyError{Triple: target.Triple, Family: target.Family}
	}
	return format, nil
}

// Bundle is the packaged deliverable for one target.
type Bundle struct {
	Target      matrix.TargetSpec `json:"target"`
	ArchivePath string            `json:"archive_path"`
	Format      Format            `json:"format"`
}

// Options configures packaging for a run; the same options apply to every
// target.
type Options struct {
	// Tool names the released binary and prefixes the staging directory
	// and archive.
	Tool string

	// DistDir receives the staging directories and the finished
	// archives.
	DistDir string

	// AuxFiles are copied next to the binary in every staging
	// directory.
	AuxFiles []string
}

func (o Options) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(o.Tool == "", "tool name must be set")
	catcher.NewWhen(o.DistDir == "", "dist directory must be set")
	for _, f := range o.AuxFiles {
		if _, err := os.Stat(f); err != nil {
			catcher.Wrapf(err, "auxiliary file '%s'", f)
		}
	}
	return catcher.Resolve()
}

// Package stages one successfully built target and produces its archive.
// Callers must only pass outcomes with Success set; anything else is a
// programmer error.
func Package(ctx context.Context, outcome build.Outcome, opts Options) (*Bundle, error) {
	if !outcome.Success {
		return nil, errors.Errorf("refusing to package failed build of '%s'", outcome.Target.Triple)
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid packaging options")
	}

	target := outcome.Target

	format, err := FormatFor(target)
	if err != nil {
		return nil, err
	}

	baseName := opts.Tool + "-" + target.Triple
	stagingDir := filepath.Join(opts.DistDir, baseName)
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "problem creating staging directory for '%s'", target.Triple)
	}

	binaryName := target.BinaryName(opts.Tool)
	if err := util.CopyFile(outcome.BinaryPath, filepath.Join(stagingDir, binaryName)); err != nil {
		return nil, errors.Wrapf(err, "problem staging binary for '%s'", target.Triple)
	}

	for _, aux := range opts.AuxFiles {
		if err := util.CopyFile(aux, filepath.Join(stagingDir, filepath.Base(aux))); err != nil {
			return nil, errors.Wrapf(err, "problem staging auxiliary file for '%s'", target.Triple)
		}
	}

	archivePath := filepath.Join(opts.DistDir, baseName+"."+format.Extension())

	switch format {
	case FormatZip:
		err = writeZip(ctx, archivePath, stagingDir, baseName)
	case FormatTarXz:
		err = writeTarXz(ctx, archivePath, stagingDir, baseName)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "problem archiving '%s'", target.Triple)
	}

	grip.Info(message.Fields{
		"message": "packaged target",
		"triple":  target.Triple,
		"archive": archivePath,
		"format":  string(format),
	})

	return &Bundle{
		Target:      target,
		ArchivePath: archivePath,
		Format:      format,
	}, nil
}
