package operations

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/relmatrix/relmatrix/build"
	"github.com/relmatrix/relmatrix/pack"
	"github.com/urfave/cli"
)

// Package returns the command that packages an already-built binary for one
// target without building or publishing anything.
func Package() cli.Command {
	return cli.Command{
		Name:  "package",
		Usage: "stage and archive an existing binary for one matrix target",
		Flags: addConfFlag(
			cli.StringFlag{
				Name:  tripleFlagName,
				Usage: "matrix triple to package for",
			},
			cli.StringFlag{
				Name:  binaryFlagName,
				Usage: "path to the built binary",
			},
		),
		Before: mergeBeforeFuncs(
			requireStringFlag(tripleFlagName),
			requireStringFlag(binaryFlagName),
		),
		Action: func(c *cli.Context) error {
			settings, err := loadSettings(c)
			if err != nil {
				return err
			}

			triple := c.String(tripleFlagName)
			for _, target := range settings.Targets {
				if target.Triple != triple {
					continue
				}

				bundle, err := pack.Package(context.Background(), build.Outcome{
					Target:     target,
					BinaryPath: c.String(binaryFlagName),
					Success:    true,
				}, pack.Options{
					Tool:     settings.Tool,
					DistDir:  settings.DistDir,
					AuxFiles: settings.AuxFiles,
				})
				if err != nil {
					return err
				}

				grip.Infof("wrote archive '%s'", bundle.ArchivePath)
				return nil
			}

			return errors.Errorf("target '%s' is not in the matrix", triple)
		},
	}
}
