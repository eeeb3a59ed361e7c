package relmatrix

import "time"

const (
	// ClientVersion is the release version of the relmatrix binary itself.
	ClientVersion = "2026-08-20"

	// DefaultConfigFile is the settings file the CLI reads when --conf is
	// not given.
	DefaultConfigFile = "relmatrix.yml"

	// ChecksumsFileName is published alongside the per-target archives.
	ChecksumsFileName = "SHA256SUMS"

	TokenEnvVar = "RELMATRIX_GITHUB_TOKEN"
)

const (
	DefaultWorkDir = "build"
	DefaultDistDir = "dist"

	DefaultBuildTimeout  = 30 * time.Minute
	DefaultUploadTimeout = 10 * time.Minute

	DefaultPublishAttempts = 5
	DefaultPublishMinDelay = time.Second
	DefaultPublishMaxDelay = time.Minute
)
