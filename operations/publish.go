package operations

import (
	"context"
	"path/filepath"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/relmatrix/relmatrix"
	"github.com/relmatrix/relmatrix/pack"
	"github.com/relmatrix/relmatrix/publish"
	"github.com/urfave/cli"
)

// Publish returns the command that uploads already-packaged archives from
// the dist directory to the release, without building anything. Re-running
// it converges: existing assets of the same name are replaced, nothing else
// on the release is touched.
func Publish() cli.Command {
	return cli.Command{
		Name:   "publish",
		Usage:  "publish the archives in the dist directory to a release tag",
		Flags:  addConfFlag(addMatrixFlag(addTagFlag()...)...),
		Before: requireStringFlag(tagFlagName),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go handleInterrupt(cancel)

			settings, err := loadSettings(c)
			if err != nil {
				return err
			}

			assets := []publish.LocalAsset{}
			for _, target := range settings.Targets {
				format, err := pack.FormatFor(target)
				if err != nil {
					return err
				}
				name := settings.Tool + "-" + target.Triple + "." + format.Extension()
				path := filepath.Join(settings.DistDir, name)
				if !utility.FileExists(path) {
					grip.Warning(message.Fields{
						"message": "skipping target with no archive on disk",
						"triple":  target.Triple,
						"path":    path,
					})
					continue
				}
				assets = append(assets, publish.LocalAsset{Name: name, Path: path})
			}
			if len(assets) == 0 {
				return errors.Errorf("no archives found in '%s'", settings.DistDir)
			}

			sums := filepath.Join(settings.DistDir, relmatrix.ChecksumsFileName)
			if utility.FileExists(sums) {
				assets = append(assets, publish.LocalAsset{Name: relmatrix.ChecksumsFileName, Path: sums})
			}

			svc, err := publish.NewGitHubService(settings.Publish.Token)
			if err != nil {
				return err
			}
			publisher, err := publish.NewPublisher(publish.Options{
				Service:       svc,
				Retry:         settings.Publish.RetryOptions(),
				UploadTimeout: settings.Publish.UploadTimeout(),
			})
			if err != nil {
				return err
			}

			release := publish.ReleaseHandle{Owner: settings.Owner, Repo: settings.Repo, Tag: c.String(tagFlagName)}
			result, err := publisher.Publish(ctx, release, assets)
			if err != nil {
				return err
			}

			if !result.OK {
				return errors.Errorf("one or more assets failed to publish to '%s'", release)
			}

			grip.Infof("published %d assets to '%s'", len(result.Assets), release)
			return nil
		},
	}
}
