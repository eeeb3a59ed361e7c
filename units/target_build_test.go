package units

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/relmatrix/relmatrix/build"
	"github.com/relmatrix/relmatrix/matrix"
	"github.com/relmatrix/relmatrix/pack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeJobFixtures(t *testing.T, native string) (*build.Runner, pack.Options) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test toolchain is a POSIX shell")
	}

	dir := t.TempDir()
	runner, err := build.NewRunner(build.Options{
		Tool:    "mytool",
		Native:  native,
		WorkDir: filepath.Join(dir, "work"),
	})
	require.NoError(t, err)

	license := filepath.Join(dir, "LICENSE")
	require.NoError(t, ioutil.WriteFile(license, []byte("license"), 0644))

	return runner, pack.Options{
		Tool:     "mytool",
		DistDir:  filepath.Join(dir, "dist"),
		AuxFiles: []string{license},
	}
}

func TestTargetBuildJobProducesBundle(t *testing.T) {
	runner, packOpts := makeJobFixtures(t, `/bin/sh -c "printf bin > ${output}"`)
	target := matrix.TargetSpec{Triple: "x86_64-unknown-linux-musl", Family: matrix.FamilyLinux}

	j := NewTargetBuildJob(runner, packOpts, target, "v1.0.0")
	assert.Equal(t, "target-build.v1.0.0.x86_64-unknown-linux-musl", j.ID())

	j.Run(context.Background())

	require.NoError(t, j.Error())
	assert.True(t, j.Outcome.Success)
	require.NotNil(t, j.Bundle)
	assert.Equal(t, pack.FormatTarXz, j.Bundle.Format)
}

func TestTargetBuildJobContainsBuildFailure(t *testing.T) {
	runner, packOpts := makeJobFixtures(t, `/bin/sh -c "echo no such target >&2; exit 2"`)
	target := matrix.TargetSpec{Triple: "x86_64-unknown-linux-musl", Family: matrix.FamilyLinux}

	j := NewTargetBuildJob(runner, packOpts, target, "v1.0.0")
	j.Run(context.Background())

	// a toolchain failure is an outcome, not a job error
	assert.NoError(t, j.Error())
	assert.False(t, j.Outcome.Success)
	assert.Contains(t, j.Outcome.ErrorDetail, "no such target")
	assert.Nil(t, j.Bundle)
}

func TestTargetBuildJobReportsPackagingDefects(t *testing.T) {
	runner, packOpts := makeJobFixtures(t, `/bin/sh -c "printf bin > ${output}"`)
	target := matrix.TargetSpec{Triple: "mips-unknown-plan9", Family: "plan9"}

	j := NewTargetBuildJob(runner, packOpts, target, "v1.0.0")
	j.Run(context.Background())

	assert.True(t, j.Outcome.Success)
	assert.Nil(t, j.Bundle)
	require.Error(t, j.Error())
	assert.Contains(t, j.Error().Error(), "unrecognized host family")
}

func TestTargetBuildJobWithoutRunner(t *testing.T) {
	j := makeTargetBuildJob()
	j.Run(context.Background())
	assert.Error(t, j.Error())
}
