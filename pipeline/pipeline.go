package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/queue"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/jasper"
	"github.com/pkg/errors"
	"github.com/relmatrix/relmatrix"
	"github.com/relmatrix/relmatrix/build"
	"github.com/relmatrix/relmatrix/matrix"
	"github.com/relmatrix/relmatrix/pack"
	"github.com/relmatrix/relmatrix/publish"
	"github.com/relmatrix/relmatrix/units"
)

// Options assembles a Pipeline's collaborators. Service and Jasper exist as
// injection points; production callers leave them unset.
type Options struct {
	Settings *relmatrix.Settings
	Service  publish.ReleaseService
	Jasper   jasper.Manager

	// Workers bounds the parallel build tasks. Zero means one per CPU.
	Workers int
}

// Pipeline drives one release run: fan out a build-and-package job per
// target, join, then publish every produced bundle to the release.
type Pipeline struct {
	opts Options
}

func New(opts Options) (*Pipeline, error) {
	if opts.Settings == nil {
		return nil, errors.New("pipeline requires settings")
	}
	if opts.Service == nil {
		svc, err := publish.NewGitHubService(opts.Settings.Publish.Token)
		if err != nil {
			return nil, errors.Wrap(err, "problem constructing release service")
		}
		opts.Service = svc
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Pipeline{opts: opts}, nil
}

// Run executes the pipeline for one release tag. The only slice, when
// non-empty, restricts the run to the named triples for partial re-runs.
// Errors are returned only for fatal configuration defects or a failure to
// resolve the release itself; per-target and per-asset failures live in the
// report.
func (p *Pipeline) Run(ctx context.Context, tag string, only []string) (*Report, error) {
	settings := p.opts.Settings

	targets, err := selectTargets(settings.Targets, only)
	if err != nil {
		return nil, err
	}

	// an unmapped host family is a defect in the matrix; fail the whole
	// run before producing anything rather than continuing with bad
	// output.
	for _, target := range targets {
		if _, err := pack.FormatFor(target); err != nil {
			return nil, errors.Wrap(err, "invalid build matrix")
		}
	}

	runner, err := build.NewRunner(build.Options{
		Tool:        settings.Tool,
		Native:      settings.Build.Native,
		Cross:       settings.Build.Cross,
		Features:    settings.Build.Features,
		WorkDir:     settings.WorkDir,
		Environment: settings.Build.Env,
		Timeout:     settings.Build.Timeout(),
		Jasper:      p.opts.Jasper,
	})
	if err != nil {
		return nil, err
	}

	packOpts := pack.Options{
		Tool:     settings.Tool,
		DistDir:  settings.DistDir,
		AuxFiles: settings.AuxFiles,
	}
	if err := os.MkdirAll(settings.DistDir, 0755); err != nil {
		return nil, errors.Wrap(err, "problem creating dist directory")
	}
	if err := packOpts.Validate(); err != nil {
		return nil, err
	}

	jobs, err := p.runTargets(ctx, runner, packOpts, targets, tag)
	if err != nil {
		return nil, err
	}

	report := &Report{Tag: tag}
	bundles := []pack.Bundle{}
	for _, j := range jobs {
		tr := TargetReport{
			Triple:   j.Target.Triple,
			Built:    j.Outcome.Success,
			Packaged: j.Bundle != nil,
		}
		switch {
		case !j.Outcome.Success:
			tr.Error = j.Outcome.ErrorDetail
		case j.Error() != nil:
			tr.Error = j.Error().Error()
		}
		if j.Bundle != nil {
			bundles = append(bundles, *j.Bundle)
		}
		report.Targets = append(report.Targets, tr)
	}

	if err := ctx.Err(); err != nil {
		// cancelled runs must not publish partially produced artifacts.
		return nil, errors.Wrap(err, "run canceled")
	}

	if len(bundles) > 0 {
		if err := p.publishBundles(ctx, tag, bundles, report); err != nil {
			return nil, err
		}
	}

	report.OK = len(report.Targets) > 0
	for _, tr := range report.Targets {
		report.OK = report.OK && tr.Published
	}
	// the checksum manifest and any other companion asset count too; a
	// release with a missing manifest is not a fully published release.
	for _, res := range report.Assets {
		report.OK = report.OK && res.Published
	}

	grip.Info(message.Fields{
		"message": "pipeline run finished",
		"tag":     tag,
		"targets": len(report.Targets),
		"bundles": len(bundles),
		"ok":      report.OK,
	})

	return report, nil
}

// runTargets fans one job per target out onto a local queue and waits for
// every job to reach a terminal state. The queue runs every job to
// completion regardless of individual job errors.
func (p *Pipeline) runTargets(ctx context.Context, runner *build.Runner, packOpts pack.Options, targets []matrix.TargetSpec, tag string) ([]*units.TargetBuildJob, error) {
	q := queue.NewLocalLimitedSize(p.opts.Workers, len(targets)+1)
	if err := q.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "problem starting work queue")
	}
	defer q.Runner().Close(ctx)

	jobs := make([]*units.TargetBuildJob, 0, len(targets))
	for _, target := range targets {
		j := units.NewTargetBuildJob(runner, packOpts, target, tag)
		if err := q.Put(ctx, j); err != nil {
			return nil, errors.Wrapf(err, "problem enqueueing build for '%s'", target.Triple)
		}
		jobs = append(jobs, j)
	}

	if !amboy.WaitInterval(ctx, q, 50*time.Millisecond) {
		return nil, errors.New("run canceled while builds were in flight")
	}

	return jobs, nil
}

// publishBundles attaches every bundle, plus the checksum manifest, to the
// release and folds the per-asset results back into the report.
func (p *Pipeline) publishBundles(ctx context.Context, tag string, bundles []pack.Bundle, report *Report) error {
	settings := p.opts.Settings

	assets := publish.AssetsFromBundles(bundles)
	if !settings.Publish.SkipChecksums {
		sums, err := writeChecksums(settings.DistDir, assets)
		if err != nil {
			return err
		}
		assets = append(assets, publish.LocalAsset{Name: relmatrix.ChecksumsFileName, Path: sums})
	}

	publisher, err := publish.NewPublisher(publish.Options{
		Service:       p.opts.Service,
		Retry:         settings.Publish.RetryOptions(),
		UploadTimeout: settings.Publish.UploadTimeout(),
	})
	if err != nil {
		return err
	}

	release := publish.ReleaseHandle{Owner: settings.Owner, Repo: settings.Repo, Tag: tag}
	result, err := publisher.Publish(ctx, release, assets)
	if err != nil {
		return err
	}

	report.Assets = result.Assets

	published := map[string]bool{}
	for _, res := range result.Assets {
		published[res.Name] = res.Published
	}
	for i := range report.Targets {
		for _, b := range bundles {
			if b.Target.Triple == report.Targets[i].Triple {
				name := filepath.Base(b.ArchivePath)
				report.Targets[i].Published = published[name]
				if !published[name] && report.Targets[i].Error == "" {
					report.Targets[i].Error = assetError(result.Assets, name)
				}
			}
		}
	}

	return nil
}

func assetError(results []publish.AssetResult, name string) string {
	for _, res := range results {
		if res.Name == name {
			return res.Error
		}
	}
	return ""
}

func selectTargets(targets []matrix.TargetSpec, only []string) ([]matrix.TargetSpec, error) {
	if err := matrix.Validate(targets); err != nil {
		return nil, errors.Wrap(err, "invalid build matrix")
	}
	if len(only) == 0 {
		return targets, nil
	}

	byTriple := map[string]matrix.TargetSpec{}
	for _, t := range targets {
		byTriple[t.Triple] = t
	}

	selected := make([]matrix.TargetSpec, 0, len(only))
	for _, triple := range only {
		t, ok := byTriple[triple]
		if !ok {
			return nil, errors.Errorf("target '%s' is not in the matrix", triple)
		}
		selected = append(selected, t)
	}
	return selected, nil
}

// writeChecksums produces the SHA256SUMS manifest over every archive, in
// the conventional "<hex digest>  <filename>" format.
func writeChecksums(distDir string, assets []publish.LocalAsset) (string, error) {
	manifest := ""
	for _, asset := range assets {
		f, err := os.Open(asset.Path)
		if err != nil {
			return "", errors.Wrapf(err, "problem opening '%s'", asset.Path)
		}

		h := sha256.New()
		_, err = io.Copy(h, f)
		grip.Debug(f.Close())
		if err != nil {
			return "", errors.Wrapf(err, "problem hashing '%s'", asset.Path)
		}

		manifest += fmt.Sprintf("%x  %s\n", h.Sum(nil), asset.Name)
	}

	path := filepath.Join(distDir, relmatrix.ChecksumsFileName)
	if err := ioutil.WriteFile(path, []byte(manifest), 0644); err != nil {
		return "", errors.Wrap(err, "problem writing checksum manifest")
	}
	return path, nil
}
