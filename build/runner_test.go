package build

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mongodb/jasper/mock"
	"github.com/mongodb/jasper/options"
	"github.com/relmatrix/relmatrix/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test toolchain is a POSIX shell")
	}
}

func makeRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	if opts.Tool == "" {
		opts.Tool = "mytool"
	}
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	r, err := NewRunner(opts)
	require.NoError(t, err)
	return r
}

func TestNewRunnerValidatesOptions(t *testing.T) {
	_, err := NewRunner(Options{})
	assert.Error(t, err)

	_, err = NewRunner(Options{Tool: "mytool", WorkDir: t.TempDir()})
	assert.Error(t, err)

	_, err = NewRunner(Options{Tool: "mytool", WorkDir: t.TempDir(), Native: "cc"})
	assert.NoError(t, err)
}

func TestBuildNativeTarget(t *testing.T) {
	skipWindows(t)

	workDir := t.TempDir()
	r := makeRunner(t, Options{
		Native:  `/bin/sh -c "printf native > ${output}"`,
		WorkDir: workDir,
	})

	target := matrix.TargetSpec{Triple: "x86_64-unknown-linux-musl", Family: matrix.FamilyLinux}
	outcome := r.Build(context.Background(), target)

	require.True(t, outcome.Success, outcome.ErrorDetail)
	assert.Equal(t, filepath.Join(workDir, target.Triple, "mytool"), outcome.BinaryPath)

	content, err := ioutil.ReadFile(outcome.BinaryPath)
	require.NoError(t, err)
	assert.Equal(t, "native", string(content))
}

func TestBuildDispatchesCrossCommand(t *testing.T) {
	skipWindows(t)

	r := makeRunner(t, Options{
		Native:  `/bin/sh -c "printf native > ${output}"`,
		Cross:   `/bin/sh -c "printf cross > ${output}"`,
		WorkDir: t.TempDir(),
	})

	target := matrix.TargetSpec{Triple: "aarch64-unknown-linux-musl", Family: matrix.FamilyLinux, Cross: true}
	outcome := r.Build(context.Background(), target)

	require.True(t, outcome.Success, outcome.ErrorDetail)
	content, err := ioutil.ReadFile(outcome.BinaryPath)
	require.NoError(t, err)
	assert.Equal(t, "cross", string(content))
}

func TestBuildFailureCapturesDiagnostics(t *testing.T) {
	skipWindows(t)

	r := makeRunner(t, Options{
		Native: `/bin/sh -c "echo linker exploded >&2; exit 1"`,
	})

	outcome := r.Build(context.Background(), matrix.TargetSpec{Triple: "x86_64-apple-darwin", Family: matrix.FamilyMacOS})

	assert.False(t, outcome.Success)
	assert.Empty(t, outcome.BinaryPath)
	assert.Contains(t, outcome.ErrorDetail, "linker exploded")
}

func TestBuildFailsWhenNoBinaryProduced(t *testing.T) {
	skipWindows(t)

	r := makeRunner(t, Options{Native: "/bin/sh -c true"})

	outcome := r.Build(context.Background(), matrix.TargetSpec{Triple: "x86_64-unknown-linux-musl", Family: matrix.FamilyLinux})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorDetail, "no binary")
}

func TestBuildHonorsTimeout(t *testing.T) {
	skipWindows(t)

	r := makeRunner(t, Options{
		Native:  `/bin/sh -c "sleep 10"`,
		Timeout: 100 * time.Millisecond,
	})

	start := time.Now()
	outcome := r.Build(context.Background(), matrix.TargetSpec{Triple: "x86_64-unknown-linux-musl", Family: matrix.FamilyLinux})

	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.ErrorDetail)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBuildAppliesEnvironment(t *testing.T) {
	skipWindows(t)

	r := makeRunner(t, Options{
		Native:      `/bin/sh -c "printf %s $MARKER > ${output}"`,
		Environment: map[string]string{"MARKER": "from-options"},
	})

	target := matrix.TargetSpec{
		Triple: "x86_64-unknown-linux-musl",
		Family: matrix.FamilyLinux,
		Params: map[string]interface{}{
			"env": map[string]interface{}{"MARKER": "from-params"},
		},
	}
	outcome := r.Build(context.Background(), target)

	require.True(t, outcome.Success, outcome.ErrorDetail)
	content, err := ioutil.ReadFile(outcome.BinaryPath)
	require.NoError(t, err)
	assert.Equal(t, "from-params", string(content))
}

func TestBuildAssemblesCommandLine(t *testing.T) {
	manager := &mock.Manager{}
	manager.Create = func(opts *options.Create) mock.Process {
		proc := mock.Process{}
		proc.ProcInfo.Options = *opts
		return proc
	}

	workDir := t.TempDir()
	target := matrix.TargetSpec{
		Triple: "x86_64-pc-windows-msvc",
		Family: matrix.FamilyWindows,
		Params: map[string]interface{}{"extra_args": []interface{}{"--quiet"}},
	}

	// pre-create the output so the post-build existence check passes even
	// though the mocked toolchain writes nothing.
	outputPath := filepath.Join(workDir, target.Triple, "mytool.exe")
	require.NoError(t, ioutil.WriteFile(mkdirFor(t, outputPath), []byte("bin"), 0755))

	r := makeRunner(t, Options{
		Native:   "cc -o ${output} --target ${triple} main.c",
		Features: []string{"--enable", "self-update"},
		WorkDir:  workDir,
		Jasper:   manager,
	})

	outcome := r.Build(context.Background(), target)
	require.True(t, outcome.Success, outcome.ErrorDetail)

	require.Len(t, manager.Procs, 1)
	args := manager.Procs[0].(*mock.Process).ProcInfo.Options.Args
	assert.Equal(t, []string{
		"cc", "-o", outputPath, "--target", target.Triple, "main.c",
		"--enable", "self-update", "--quiet",
	}, args)
}

func mkdirFor(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	return path
}
