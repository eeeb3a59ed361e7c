package pack

import (
	"archive/tar"
	"archive/zip"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/relmatrix/relmatrix/build"
	"github.com/relmatrix/relmatrix/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func stageInputs(t *testing.T) (build.Outcome, Options) {
	t.Helper()

	dir := t.TempDir()

	binary := filepath.Join(dir, "built-binary")
	require.NoError(t, ioutil.WriteFile(binary, []byte("#!/bin/sh\n"), 0755))

	license := filepath.Join(dir, "LICENSE")
	require.NoError(t, ioutil.WriteFile(license, []byte("license text"), 0644))
	readme := filepath.Join(dir, "README.md")
	require.NoError(t, ioutil.WriteFile(readme, []byte("readme text"), 0644))

	outcome := build.Outcome{
		Target:     matrix.TargetSpec{Triple: "x86_64-unknown-linux-musl", Family: matrix.FamilyLinux},
		BinaryPath: binary,
		Success:    true,
	}
	opts := Options{
		Tool:     "mytool",
		DistDir:  filepath.Join(dir, "dist"),
		AuxFiles: []string{license, readme},
	}
	require.NoError(t, os.MkdirAll(opts.DistDir, 0755))

	return outcome, opts
}

func listTarXz(t *testing.T, path string) []string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	xzReader, err := xz.NewReader(f)
	require.NoError(t, err)
	tarReader := tar.NewReader(xzReader)

	names := []string{}
	for {
		hdr, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func listZip(t *testing.T, path string) []string {
	t.Helper()

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	names := []string{}
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestFormatFor(t *testing.T) {
	for family, expected := range map[matrix.HostFamily]Format{
		matrix.FamilyLinux:   FormatTarXz,
		matrix.FamilyMacOS:   FormatTarXz,
		matrix.FamilyWindows: FormatZip,
	} {
		format, err := FormatFor(matrix.TargetSpec{Triple: "t", Family: family})
		assert.NoError(t, err)
		assert.Equal(t, expected, format)
	}

	_, err := FormatFor(matrix.TargetSpec{Triple: "t", Family: "beos"})
	require.Error(t, err)
	assert.True(t, matrix.IsUnknownFamily(err))
}

func TestFormatExtension(t *testing.T) {
	assert.Equal(t, "zip", FormatZip.Extension())
	assert.Equal(t, "tar.xz", FormatTarXz.Extension())
}

func TestPackageLinuxTarget(t *testing.T) {
	outcome, opts := stageInputs(t)

	bundle, err := Package(context.Background(), outcome, opts)
	require.NoError(t, err)

	assert.Equal(t, FormatTarXz, bundle.Format)
	assert.Equal(t, filepath.Join(opts.DistDir, "mytool-x86_64-unknown-linux-musl.tar.xz"), bundle.ArchivePath)

	names := listTarXz(t, bundle.ArchivePath)
	sort.Strings(names)
	assert.Equal(t, []string{
		"mytool-x86_64-unknown-linux-musl/LICENSE",
		"mytool-x86_64-unknown-linux-musl/README.md",
		"mytool-x86_64-unknown-linux-musl/mytool",
	}, names)
}

func TestPackageWindowsTarget(t *testing.T) {
	outcome, opts := stageInputs(t)
	outcome.Target = matrix.TargetSpec{Triple: "x86_64-pc-windows-msvc", Family: matrix.FamilyWindows}

	bundle, err := Package(context.Background(), outcome, opts)
	require.NoError(t, err)

	assert.Equal(t, FormatZip, bundle.Format)
	assert.Equal(t, filepath.Join(opts.DistDir, "mytool-x86_64-pc-windows-msvc.zip"), bundle.ArchivePath)

	names := listZip(t, bundle.ArchivePath)
	sort.Strings(names)
	assert.Equal(t, []string{
		"mytool-x86_64-pc-windows-msvc/LICENSE",
		"mytool-x86_64-pc-windows-msvc/README.md",
		"mytool-x86_64-pc-windows-msvc/mytool.exe",
	}, names)
}

func TestPackageStagingDirectoryLayout(t *testing.T) {
	outcome, opts := stageInputs(t)

	_, err := Package(context.Background(), outcome, opts)
	require.NoError(t, err)

	staged := filepath.Join(opts.DistDir, "mytool-x86_64-unknown-linux-musl")
	entries, err := ioutil.ReadDir(staged)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	info, err := os.Stat(filepath.Join(staged, "mytool"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestPackageDeterministicListing(t *testing.T) {
	outcome, opts := stageInputs(t)

	first, err := Package(context.Background(), outcome, opts)
	require.NoError(t, err)
	firstNames := listTarXz(t, first.ArchivePath)

	second, err := Package(context.Background(), outcome, opts)
	require.NoError(t, err)
	secondNames := listTarXz(t, second.ArchivePath)

	assert.Equal(t, firstNames, secondNames)
	assert.True(t, sort.StringsAreSorted(firstNames))
}

func TestPackageRefusesFailedOutcome(t *testing.T) {
	outcome, opts := stageInputs(t)
	outcome.Success = false

	_, err := Package(context.Background(), outcome, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to package")
}

func TestPackageUnknownFamilyIsFatal(t *testing.T) {
	outcome, opts := stageInputs(t)
	outcome.Target = matrix.TargetSpec{Triple: "mips-unknown-plan9", Family: "plan9"}

	_, err := Package(context.Background(), outcome, opts)
	require.Error(t, err)
	assert.True(t, matrix.IsUnknownFamily(err))
}

func TestPackageMissingAuxFile(t *testing.T) {
	outcome, opts := stageInputs(t)
	opts.AuxFiles = append(opts.AuxFiles, filepath.Join(t.TempDir(), "NOTICE"))

	_, err := Package(context.Background(), outcome, opts)
	assert.Error(t, err)
}
