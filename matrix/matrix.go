package matrix

import (
	"io/ioutil"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// HostFamily is the operating system family a target runs on. The set of
// families is closed; packaging decisions (archive format, binary suffix)
// branch on it via total lookup tables.
type HostFamily string

const (
	FamilyLinux   HostFamily = "linux"
	FamilyMacOS   HostFamily = "macos"
	FamilyWindows HostFamily = "windows"
)

func (f HostFamily) Known() bool {
	switch f {
	case FamilyLinux, FamilyMacOS, FamilyWindows:
		return true
	}
	return false
}

// TargetSpec is one row of the build matrix. It is configuration data, fixed
// before the pipeline starts, and never mutated by it.
type TargetSpec struct {
	// Triple identifies the platform/arch/ABI combination, e.g.
	// x86_64-unknown-linux-musl. Unique across the matrix.
	Triple string     `yaml:"triple" json:"triple"`
	Family HostFamily `yaml:"family" json:"family"`

	// Cross indicates the target needs the cross-compilation command
	// rather than the native one.
	Cross bool `yaml:"cross,omitempty" json:"cross,omitempty"`

	// Params carries freeform per-target build parameters (extra argv,
	// environment overrides). The build runner decodes them.
	Params map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// BinaryName returns the file name the tool's executable carries inside the
// staging directory for this target.
func (t TargetSpec) BinaryName(tool string) string {
	if t.Family == FamilyWindows {
		return tool + ".exe"
	}
	return tool
}

// UnknownFamilyError marks a target whose host family is outside the closed
// set. It is a configuration defect, never a transient condition, and aborts
// the run rather than degrading it.
type UnknownFamilyError struct {
	Triple string
	Family HostFamily
}

func (e *UnknownFamilyError) Error() string {
	return "unrecognized host family '" + string(e.Family) + "' for target '" + e.Triple + "'"
}

// IsUnknownFamily reports whether err (or its cause) is an
// UnknownFamilyError.
func IsUnknownFamily(err error) bool {
	if err == nil {
		return false
	}
	_, ok := errors.Cause(err).(*UnknownFamilyError)
	return ok
}

// DefaultTargets returns the built-in release matrix.
func DefaultTargets() []TargetSpec {
	return []TargetSpec{
		{Triple: "x86_64-unknown-linux-musl", Family: FamilyLinux},
		{Triple: "aarch64-unknown-linux-musl", Family: FamilyLinux, Cross: true},
		{Triple: "x86_64-apple-darwin", Family: FamilyMacOS},
		{Triple: "aarch64-apple-darwin", Family: FamilyMacOS},
		{Triple: "x86_64-pc-windows-msvc", Family: FamilyWindows},
		{Triple: "aarch64-pc-windows-msvc", Family: FamilyWindows, Cross: true},
	}
}

// Validate checks matrix-level invariants: triples are unique and non-empty,
// and every family is recognized.
func Validate(targets []TargetSpec) error {
	catcher := grip.NewBasicCatcher()
	seen := map[string]bool{}
	for _, t := range targets {
		if t.Triple == "" {
			catcher.New("target with empty triple")
			continue
		}
		if seen[t.Triple] {
			catcher.Errorf("duplicate target triple '%s'", t.Triple)
		}
		seen[t.Triple] = true

		if !t.Family.Known() {
			catcher.Add(&UnknownFamilyError{Triple: t.Triple, Family: t.Family})
		}
	}
	return catcher.Resolve()
}

// Load reads a matrix definition from a YAML file. The file replaces the
// built-in matrix wholesale rather than merging with it.
func Load(path string) ([]TargetSpec, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading matrix file '%s'", path)
	}

	targets := []TargetSpec{}
	if err := yaml.Unmarshal(data, &targets); err != nil {
		return nil, errors.Wrapf(err, "problem parsing matrix file '%s'", path)
	}

	if err := Validate(targets); err != nil {
		return nil, errors.Wrapf(err, "invalid matrix in '%s'", path)
	}

	return targets, nil
}
