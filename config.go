package relmatrix

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/relmatrix/relmatrix/matrix"
	yaml "gopkg.in/yaml.v2"
)

// Settings holds the full configuration for a pipeline run. It is read once
// at process start and treated as immutable afterwards.
type Settings struct {
	// Tool is the name of the binary being released. It prefixes every
	// staging directory and archive name.
	Tool string `yaml:"tool"`

	// Owner and Repo identify the repository whose release the pipeline
	// publishes to.
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`

	// WorkDir holds the per-target build workspaces; DistDir receives the
	// finished archives.
	WorkDir string `yaml:"work_dir"`
	DistDir string `yaml:"dist_dir"`

	// AuxFiles are copied into every staging directory next to the
	// binary (license, readme, notice texts).
	AuxFiles []string `yaml:"aux_files"`

	// Targets is the build matrix. Empty means the built-in default
	// matrix.
	Targets []matrix.TargetSpec `yaml:"targets"`

	Build   BuildSettings   `yaml:"build"`
	Publish PublishSettings `yaml:"publish"`
}

// BuildSettings configures how the toolchain is invoked. Native and Cross
// are command templates; the runner expands ${triple}, ${tool}, and
// ${output} before splitting them into argv.
type BuildSettings struct {
	Native string `yaml:"native"`
	Cross  string `yaml:"cross"`

	// Features are opaque extra arguments appended to every build
	// command, e.g. the flags that enable the tool's self-update
	// capability.
	Features []string `yaml:"features,omitempty"`

	Env map[string]string `yaml:"env,omitempty"`

	TimeoutSecs int `yaml:"timeout_secs,omitempty"`
}

func (s BuildSettings) Timeout() time.Duration {
	if s.TimeoutSecs <= 0 {
		return DefaultBuildTimeout
	}
	return time.Duration(s.TimeoutSecs) * time.Second
}

type PublishSettings struct {
	// Token is never read from the file; it comes from the environment.
	Token string `yaml:"-"`

	MaxAttempts       int  `yaml:"max_attempts,omitempty"`
	UploadTimeoutSecs int  `yaml:"upload_timeout_secs,omitempty"`
	MinDelayMillis    int  `yaml:"min_delay_ms,omitempty"`
	MaxDelayMillis    int  `yaml:"max_delay_ms,omitempty"`
	SkipChecksums     bool `yaml:"skip_checksums,omitempty"`
}

// RetryOptions translates the configured bounds into the retry policy the
// publisher hands to utility.Retry.
func (s PublishSettings) RetryOptions() utility.RetryOptions {
	opts := utility.RetryOptions{
		MaxAttempts: s.MaxAttempts,
		MinDelay:    DefaultPublishMinDelay,
		MaxDelay:    DefaultPublishMaxDelay,
	}
	if s.MinDelayMillis > 0 {
		opts.MinDelay = time.Duration(s.MinDelayMillis) * time.Millisecond
	}
	if s.MaxDelayMillis > 0 {
		opts.MaxDelay = time.Duration(s.MaxDelayMillis) * time.Millisecond
	}
	return opts
}

func (s PublishSettings) UploadTimeout() time.Duration {
	if s.UploadTimeoutSecs <= 0 {
		return DefaultUploadTimeout
	}
	return time.Duration(s.UploadTimeoutSecs) * time.Second
}

// NewSettings reads, defaults, and validates a settings file.
func NewSettings(path string) (*Settings, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading configuration file '%s'", path)
	}

	settings := &Settings{}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, errors.Wrapf(err, "problem parsing configuration file '%s'", path)
	}

	settings.fillDefaults()

	if err := settings.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration in '%s'", path)
	}

	return settings, nil
}

func (s *Settings) fillDefaults() {
	if s.WorkDir == "" {
		s.WorkDir = DefaultWorkDir
	}
	if s.DistDir == "" {
		s.DistDir = DefaultDistDir
	}
	if len(s.Targets) == 0 {
		s.Targets = matrix.DefaultTargets()
	}
	if s.Publish.MaxAttempts <= 0 {
		s.Publish.MaxAttempts = DefaultPublishAttempts
	}
	if s.Publish.Token == "" {
		s.Publish.Token = os.Getenv(TokenEnvVar)
	}
}

func (s *Settings) Validate() error {
	catcher := grip.NewBasicCatcher()

	catcher.NewWhen(s.Tool == "", "tool name must be set")
	catcher.NewWhen(s.Owner == "", "repository owner must be set")
	catcher.NewWhen(s.Repo == "", "repository name must be set")
	catcher.NewWhen(s.Build.Native == "", "build.native command template must be set")

	hasCross := false
	for _, t := range s.Targets {
		hasCross = hasCross || t.Cross
	}
	catcher.NewWhen(hasCross && s.Build.Cross == "", "build.cross command template must be set when the matrix contains cross targets")

	catcher.Add(matrix.Validate(s.Targets))

	return catcher.Resolve()
}
