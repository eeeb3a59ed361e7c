package operations

import (
	"github.com/relmatrix/relmatrix"
	"github.com/relmatrix/relmatrix/matrix"
	"github.com/urfave/cli"
)

const (
	confFlagName    = "conf"
	tagFlagName     = "tag"
	targetsFlagName = "targets"
	matrixFlagName  = "matrix"
	jsonFlagName    = "json"
	tripleFlagName  = "triple"
	binaryFlagName  = "binary"
)

// loadSettings reads the configuration file and applies the matrix file
// override when one was given.
func loadSettings(c *cli.Context) (*relmatrix.Settings, error) {
	settings, err := relmatrix.NewSettings(c.String(confFlagName))
	if err != nil {
		return nil, err
	}

	if path := c.String(matrixFlagName); path != "" {
		targets, err := matrix.Load(path)
		if err != nil {
			return nil, err
		}
		settings.Targets = targets
	}

	return settings, nil
}

func addConfFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  confFlagName + ", c",
		Usage: "path to the pipeline configuration file",
		Value: relmatrix.DefaultConfigFile,
	})
}

func addMatrixFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  matrixFlagName + ", m",
		Usage: "path to a matrix file that replaces the configured targets",
	})
}

func addTagFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  tagFlagName + ", t",
		Usage: "release tag to build and publish for",
	})
}
