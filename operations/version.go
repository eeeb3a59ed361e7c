package operations

import (
	"fmt"

	"github.com/relmatrix/relmatrix"
	"github.com/urfave/cli"
)

// Version returns the command that prints the CLI's own version.
func Version() cli.Command {
	return cli.Command{
		Name:  "version",
		Usage: "print the version of this binary",
		Action: func(c *cli.Context) error {
			fmt.Println("relmatrix", relmatrix.ClientVersion)
			return nil
		},
	}
}
