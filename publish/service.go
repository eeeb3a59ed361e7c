package publish

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ReleaseHandle identifies the remote release record the whole run publishes
// to. There is exactly one per pipeline run.
type ReleaseHandle struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Tag   string `json:"tag"`
}

func (h ReleaseHandle) String() string {
	return fmt.Sprintf("%s/%s@%s", h.Owner, h.Repo, h.Tag)
}

func (h ReleaseHandle) Validate() error {
	if h.Owner == "" || h.Repo == "" || h.Tag == "" {
		return errors.Errorf("incomplete release handle '%s'", h)
	}
	return nil
}

// ReleaseService is the slice of the release host's API the publisher
// needs. Implementations must never modify release metadata (title, notes)
// through these operations.
type ReleaseService interface {
	// EnsureRelease resolves the handle to a release, creating a bare
	// tag-only record if none exists, and returns its identifier.
	EnsureRelease(ctx context.Context, release ReleaseHandle) (int64, error)

	// ListAssets returns the names of the assets currently attached to
	// the release, mapped to their identifiers.
	ListAssets(ctx context.Context, release ReleaseHandle, releaseID int64) (map[string]int64, error)

	// DeleteAsset detaches one asset.
	DeleteAsset(ctx context.Context, release ReleaseHandle, assetID int64) error

	// UploadAsset attaches the file at path under the given asset name.
	UploadAsset(ctx context.Context, release ReleaseHandle, releaseID int64, name, path string) error
}

// transientError marks failures worth retrying: network problems and
// service-side errors, as opposed to authentication or permission problems.
type transientError struct {
	error
}

func (transientError) Transient() bool { return true }

// MakeTransient marks an error as retryable.
func MakeTransient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err}
}

// IsTransient reports whether an error anywhere in the chain was marked
// retryable.
func IsTransient(err error) bool {
	for err != nil {
		if t, ok := err.(interface{ Transient() bool }); ok {
			return t.Transient()
		}
		err = errors.Unwrap(err)
	}
	return false
}
