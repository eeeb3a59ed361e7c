package publish

import (
	"context"
	"path/filepath"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/relmatrix/relmatrix/pack"
)

// LocalAsset is one file to attach to the release: a packaged bundle or a
// companion file such as the checksums manifest.
type LocalAsset struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// AssetsFromBundles converts packaged bundles into publishable assets. The
// asset name is the archive's file name, which is how the release host keys
// create-or-update.
func AssetsFromBundles(bundles []pack.Bundle) []LocalAsset {
	assets := make([]LocalAsset, 0, len(bundles))
	for _, b := range bundles {
		assets = append(assets, LocalAsset{
			Name: filepath.Base(b.ArchivePath),
			Path: b.ArchivePath,
		})
	}
	return assets
}

// AssetResult records what publishing one asset did.
type AssetResult struct {
	Name      string `json:"name"`
	Action    Action `json:"action,omitempty"`
	Published bool   `json:"published"`
	Error     string `json:"error,omitempty"`
}

// Result is the publisher's report for a whole batch. OK is true only when
// every asset was attached.
type Result struct {
	Assets []AssetResult `json:"assets"`
	OK     bool          `json:"ok"`
}

// Options configures a Publisher.
type Options struct {
	Service ReleaseService

	// Retry bounds the attempts made for each remote operation.
	Retry utility.RetryOptions

	// UploadTimeout bounds a single asset's upload, including its
	// retries.
	UploadTimeout time.Duration
}

func (o Options) Validate() error {
	if o.Service == nil {
		return errors.New("release service must be set")
	}
	return nil
}

// Publisher attaches assets to a release with create-or-update semantics.
// Asset uploads are independent: one asset's terminal failure never blocks
// the others, and nothing the publisher does touches assets it was not
// given or the release's metadata.
type Publisher struct {
	opts Options
}

func NewPublisher(opts Options) (*Publisher, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid publisher options")
	}
	return &Publisher{opts: opts}, nil
}

// Publish attaches every asset to the release. It returns an error only
// when the release itself cannot be resolved; per-asset failures are
// recorded in the result.
func (p *Publisher) Publish(ctx context.Context, release ReleaseHandle, assets []LocalAsset) (*Result, error) {
	if err := release.Validate(); err != nil {
		return nil, err
	}

	var releaseID int64
	err := utility.Retry(ctx, func() (bool, error) {
		id, err := p.opts.Service.EnsureRelease(ctx, release)
		releaseID = id
		return IsTransient(err), err
	}, p.opts.Retry)
	if err != nil {
		return nil, errors.Wrapf(err, "problem resolving release '%s'", release)
	}

	result := &Result{OK: true}
	for _, asset := range assets {
		res := p.publishOne(ctx, release, releaseID, asset)
		result.OK = result.OK && res.Published
		result.Assets = append(result.Assets, res)
	}

	return result, nil
}

// publishOne runs the create-or-update cycle for a single asset. The
// existing-asset check runs inside the retry loop so that an interrupted
// upload attempt cannot strand a half-written asset of the same name.
func (p *Publisher) publishOne(ctx context.Context, release ReleaseHandle, releaseID int64, asset LocalAsset) AssetResult {
	res := AssetResult{Name: asset.Name}

	if p.opts.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.UploadTimeout)
		defer cancel()
	}

	err := utility.Retry(ctx, func() (bool, error) {
		existing, err := p.opts.Service.ListAssets(ctx, release, releaseID)
		if err != nil {
			return IsTransient(err), err
		}

		action := Reconcile(existing, asset.Name)
		if res.Action == "" {
			res.Action = action
		}
		if action == ActionReplace {
			if err := p.opts.Service.DeleteAsset(ctx, release, existing[asset.Name]); err != nil {
				return IsTransient(err), err
			}
		}

		if err := p.opts.Service.UploadAsset(ctx, release, releaseID, asset.Name, asset.Path); err != nil {
			return IsTransient(err), err
		}
		return false, nil
	}, p.opts.Retry)
	if err != nil {
		res.Error = err.Error()
		grip.Error(message.WrapError(err, message.Fields{
			"message": "failed to publish asset",
			"asset":   asset.Name,
			"release": release.String(),
		}))
		return res
	}

	res.Published = true
	grip.Info(message.Fields{
		"message": "published asset",
		"asset":   asset.Name,
		"action":  string(res.Action),
		"release": release.String(),
	})
	return res
}
