package operations

import (
	"github.com/cheynewallace/tabby"
	"github.com/relmatrix/relmatrix/pack"
	"github.com/urfave/cli"
)

// Targets returns the command that prints the configured build matrix.
func Targets() cli.Command {
	return cli.Command{
		Name:    "targets",
		Aliases: []string{"list-targets"},
		Usage:   "list the build matrix with each target's packaging decisions",
		Flags:   addConfFlag(addMatrixFlag()...),
		Action: func(c *cli.Context) error {
			settings, err := loadSettings(c)
			if err != nil {
				return err
			}

			t := tabby.New()
			t.AddHeader("TRIPLE", "FAMILY", "CROSS", "FORMAT", "BINARY")
			for _, target := range settings.Targets {
				format, err := pack.FormatFor(target)
				if err != nil {
					return err
				}
				cross := ""
				if target.Cross {
					cross = "cross"
				}
				t.AddLine(target.Triple, string(target.Family), cross, format.Extension(), target.BinaryName(settings.Tool))
			}
			t.Print()

			return nil
		},
	}
}
