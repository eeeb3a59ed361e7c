package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/google/shlex"
	"github.com/mitchellh/mapstructure"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/jasper"
	"github.com/pkg/errors"
	"github.com/relmatrix/relmatrix/matrix"
	"github.com/relmatrix/relmatrix/util"
)

const outputCap = 1024 * 1024

// Outcome records the result of one target's build. A failed build is data,
// not an error: the runner only returns errors for conditions that should
// stop the caller (invalid configuration), never for toolchain failures.
type Outcome struct {
	Target      matrix.TargetSpec `json:"target"`
	BinaryPath  string            `json:"binary_path,omitempty"`
	Success     bool              `json:"success"`
	ErrorDetail string            `json:"error_detail,omitempty"`
}

// Options configures a Runner.
type Options struct {
	// Tool is the name of the binary the toolchain produces.
	Tool string

	// Native and Cross are command templates. The runner expands
	// ${tool}, ${triple}, and ${output} in them; ${output} is the path
	// the toolchain must write the finished binary to.
	Native string
	Cross  string

	// Features are opaque arguments appended to every expanded command,
	// unaltered.
	Features []string

	// WorkDir is the parent of the per-target workspaces.
	WorkDir string

	Environment map[string]string

	// Timeout bounds a single target's build. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration

	// Jasper is the process manager used to run the toolchain. A
	// default synchronized manager is created when unset.
	Jasper jasper.Manager
}

func (o *Options) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(o.Tool == "", "tool name must be set")
	catcher.NewWhen(o.Native == "", "native build command must be set")
	catcher.NewWhen(o.WorkDir == "", "working directory must be set")

	if o.Jasper == nil {
		jpm, err := jasper.NewSynchronizedManager(false)
		if err != nil {
			catcher.Wrap(err, "problem constructing process manager")
		}
		o.Jasper = jpm
	}

	return catcher.Resolve()
}

// Runner invokes the build capability for individual targets, each in its
// own workspace directory under the configured working directory.
type Runner struct {
	opts Options
}

func NewRunner(opts Options) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid build options")
	}
	return &Runner{opts: opts}, nil
}

// targetParams are the freeform per-target parameters a matrix row can
// carry, decoded from its params map.
type targetParams struct {
	Env       map[string]string `mapstructure:"env"`
	ExtraArgs []string          `mapstructure:"extra_args"`
}

// Build runs the toolchain for one target and reports the outcome. Failures
// of the toolchain itself are contained in the Outcome so that one target
// can never abort its siblings.
func (r *Runner) Build(ctx context.Context, target matrix.TargetSpec) Outcome {
	outcome := Outcome{Target: target}

	workspace := filepath.Join(r.opts.WorkDir, target.Triple)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		outcome.ErrorDetail = errors.Wrapf(err, "problem creating workspace for '%s'", target.Triple).Error()
		return outcome
	}

	outputPath := filepath.Join(workspace, target.BinaryName(r.opts.Tool))

	args, env, err := r.commandFor(target, outputPath)
	if err != nil {
		outcome.ErrorDetail = err.Error()
		return outcome
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	output := util.NewCappedWriter(outputCap)

	grip.Info(message.Fields{
		"message": "starting build",
		"triple":  target.Triple,
		"cross":   target.Cross,
		"command": strings.Join(args, " "),
	})

	err = r.opts.Jasper.CreateCommand(ctx).Add(args).
		Directory(workspace).Environment(env).
		SetCombinedWriter(output).Run(ctx)
	if err != nil {
		outcome.ErrorDetail = diagnostic(output.String(), err)
		return outcome
	}

	if !utility.FileExists(outputPath) {
		outcome.ErrorDetail = errors.Errorf("toolchain reported success but produced no binary at '%s'", outputPath).Error()
		return outcome
	}

	outcome.BinaryPath = outputPath
	outcome.Success = true
	return outcome
}

// commandFor assembles the argv and environment for one target, dispatching
// on whether it needs the cross-compilation command.
func (r *Runner) commandFor(target matrix.TargetSpec, outputPath string) ([]string, map[string]string, error) {
	template := r.opts.Native
	if target.Cross {
		template = r.opts.Cross
	}
	if template == "" {
		return nil, nil, errors.Errorf("no build command configured for target '%s'", target.Triple)
	}

	expanded := strings.NewReplacer(
		"${tool}", r.opts.Tool,
		"${triple}", target.Triple,
		"${output}", outputPath,
	).Replace(template)

	args, err := shlex.Split(expanded)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "problem splitting build command for '%s'", target.Triple)
	}
	args = append(args, r.opts.Features...)

	params := targetParams{}
	if err := mapstructure.Decode(target.Params, &params); err != nil {
		return nil, nil, errors.Wrapf(err, "problem decoding params for '%s'", target.Triple)
	}
	args = append(args, params.ExtraArgs...)

	env := map[string]string{}
	for k, v := range r.opts.Environment {
		env[k] = v
	}
	for k, v := range params.Env {
		env[k] = v
	}

	return args, env, nil
}

// diagnostic preserves the toolchain's own output verbatim, falling back to
// the process error when the toolchain printed nothing.
func diagnostic(output string, err error) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return err.Error()
	}
	return output
}
