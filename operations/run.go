package operations

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/relmatrix/relmatrix/pipeline"
	"github.com/urfave/cli"
)

// Run returns the command that executes the whole pipeline for one release
// tag: build every matrix target, package what built, publish what packaged.
func Run() cli.Command {
	return cli.Command{
		Name:  "run",
		Usage: "build, package, and publish every matrix target for a release tag",
		Flags: addConfFlag(addMatrixFlag(addTagFlag(
			cli.StringSliceFlag{
				Name:  targetsFlagName,
				Usage: "restrict the run to the given target triple; may be specified more than once",
			},
			cli.BoolFlag{
				Name:  jsonFlagName,
				Usage: "emit the run report as JSON instead of a table",
			},
			cli.IntFlag{
				Name:  "workers, j",
				Usage: "number of parallel build tasks",
			},
		)...)...),
		Before: requireStringFlag(tagFlagName),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go handleInterrupt(cancel)

			settings, err := loadSettings(c)
			if err != nil {
				return err
			}

			p, err := pipeline.New(pipeline.Options{
				Settings: settings,
				Workers:  c.Int("workers"),
			})
			if err != nil {
				return err
			}

			report, err := p.Run(ctx, c.String(tagFlagName), c.StringSlice(targetsFlagName))
			if err != nil {
				return err
			}

			if c.Bool(jsonFlagName) {
				if err := report.WriteJSON(os.Stdout); err != nil {
					return err
				}
			} else {
				report.WriteTable(os.Stdout)
			}

			if report.Failed() {
				return errors.New("run failed: no target was published")
			}
			if !report.OK {
				return errors.New("one or more targets did not fully publish")
			}
			return nil
		},
	}
}

func handleInterrupt(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	grip.Infof("received signal '%s', canceling run", sig)
	cancel()
}
