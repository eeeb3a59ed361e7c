package units

import (
	"context"
	"fmt"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/dependency"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/relmatrix/relmatrix/build"
	"github.com/relmatrix/relmatrix/matrix"
	"github.com/relmatrix/relmatrix/pack"
)

const targetBuildJobName = "target-build"

func init() {
	registry.AddJobType(targetBuildJobName, func() amboy.Job {
		return makeTargetBuildJob()
	})
}

// TargetBuildJob carries one target through build and packaging. Build
// failures are recorded in the Outcome and never become job errors, so one
// target's toolchain failure cannot poison the queue; packaging problems
// become job errors because they are defects, not expected outcomes.
type TargetBuildJob struct {
	Target   matrix.TargetSpec `bson:"target" json:"target" yaml:"target"`
	job.Base `bson:"metadata" json:"metadata" yaml:"metadata"`

	// Outcome and Bundle are populated by Run for the pipeline to
	// collect after the queue drains.
	Outcome build.Outcome `bson:"outcome" json:"outcome" yaml:"outcome"`
	Bundle  *pack.Bundle  `bson:"bundle,omitempty" json:"bundle,omitempty" yaml:"bundle,omitempty"`

	runner   *build.Runner
	packOpts pack.Options
}

func makeTargetBuildJob() *TargetBuildJob {
	j := &TargetBuildJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    targetBuildJobName,
				Version: 0,
			},
		},
	}

	j.SetDependency(dependency.NewAlways())

	return j
}

// NewTargetBuildJob constructs the job for one matrix row. The tag scopes
// the job ID so re-runs for different releases never collide.
func NewTargetBuildJob(runner *build.Runner, packOpts pack.Options, target matrix.TargetSpec, tag string) *TargetBuildJob {
	j := makeTargetBuildJob()
	j.runner = runner
	j.packOpts = packOpts
	j.Target = target
	j.SetID(fmt.Sprintf("%s.%s.%s", targetBuildJobName, tag, target.Triple))
	return j
}

func (j *TargetBuildJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	if j.runner == nil {
		j.AddError(fmt.Errorf("job '%s' has no build runner", j.ID()))
		return
	}

	j.Outcome = j.runner.Build(ctx, j.Target)
	if !j.Outcome.Success {
		return
	}

	bundle, err := pack.Package(ctx, j.Outcome, j.packOpts)
	if err != nil {
		j.AddError(err)
		return
	}
	j.Bundle = bundle
}
