package pipeline

import (
	"encoding/json"
	"io"
	"text/tabwriter"

	"github.com/cheynewallace/tabby"
	"github.com/pkg/errors"
	"github.com/relmatrix/relmatrix/publish"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// TargetReport is the terminal state of one matrix row.
type TargetReport struct {
	Triple    string `json:"triple"`
	Built     bool   `json:"built"`
	Packaged  bool   `json:"packaged"`
	Published bool   `json:"published"`
	Error     string `json:"error,omitempty"`
}

// Report aggregates the run: every target's terminal state plus the
// per-asset publish results.
type Report struct {
	Tag     string                `json:"tag"`
	Targets []TargetReport        `json:"targets"`
	Assets  []publish.AssetResult `json:"assets,omitempty"`

	// OK is true only when every target built, packaged, and published.
	OK bool `json:"ok"`
}

// Failed reports whether the run produced nothing at all, which is the
// only per-target condition that makes the run itself a failure.
func (r *Report) Failed() bool {
	for _, t := range r.Targets {
		if t.Published {
			return false
		}
	}
	return true
}

func status(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

// WriteTable renders the report as a human-readable summary table: one row
// per target, then one row per published asset so that companion assets
// such as the checksum manifest are visible too.
func (r *Report) WriteTable(w io.Writer) {
	t := tabby.NewCustom(newTabWriter(w))
	t.AddHeader("TARGET", "BUILT", "PACKAGED", "PUBLISHED", "ERROR")
	for _, target := range r.Targets {
		t.AddLine(target.Triple, status(target.Built), status(target.Packaged), status(target.Published), target.Error)
	}
	t.Print()

	if len(r.Assets) == 0 {
		return
	}

	at := tabby.NewCustom(newTabWriter(w))
	at.AddHeader("ASSET", "ACTION", "PUBLISHED", "ERROR")
	for _, asset := range r.Assets {
		at.AddLine(asset.Name, string(asset.Action), status(asset.Published), asset.Error)
	}
	at.Print()
}

// WriteJSON renders the report for machine consumers.
func (r *Report) WriteJSON(w io.Writer) error {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "problem marshalling report")
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return errors.Wrap(err, "problem writing report")
}
