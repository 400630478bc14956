package bench

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/mhdali93/poolbench/pkg/config"
)

// ModeTiming is one mode's timing for one phase.
type ModeTiming struct {
	Mode         config.Mode `json:"mode"`
	Seconds      float64     `json:"seconds"`
	OpsPerSecond float64     `json:"ops_per_second"`
	// ImprovementPct is the time saved relative to direct mode.
	// Positive means faster than opening a connection per operation.
	ImprovementPct float64 `json:"improvement_pct"`
}

// PhaseComparison lines the modes up for one phase.
type PhaseComparison struct {
	Phase   string       `json:"phase"`
	Timings []ModeTiming `json:"timings"`
}

// Report is the full outcome of a compare run.
type Report struct {
	Timestamp   time.Time         `json:"timestamp"`
	Backend     string            `json:"backend"`
	Operations  int               `json:"operations"`
	Workers     int               `json:"workers"`
	Results     []*RunResult      `json:"results"`
	Comparisons []PhaseComparison `json:"comparisons,omitempty"`
	Resources   *ResourceUsage    `json:"resources,omitempty"`
}

// BuildReport assembles a report from one or more run results. When a
// direct-mode result is present, per-phase comparisons are computed
// against it as the baseline.
func BuildReport(results []*RunResult, usage *ResourceUsage) *Report {
	rep := &Report{
		Timestamp: time.Now().UTC(),
		Results:   results,
		Resources: usage,
	}
	if len(results) > 0 {
		rep.Backend = results[0].Backend
		rep.Operations = results[0].Phases[0].Operations
		rep.Workers = results[0].Workers
	}

	baseline := make(map[string]float64)
	for _, res := range results {
		if res.Mode != config.ModeDirect {
			continue
		}
		for _, pr := range res.Phases {
			baseline[pr.Phase] = pr.Seconds
		}
	}

	for _, phase := range phases {
		cmp := PhaseComparison{Phase: phase}
		for _, res := range results {
			pr, ok := phaseResult(res, phase)
			if !ok {
				continue
			}
			t := ModeTiming{
				Mode:         res.Mode,
				Seconds:      pr.Seconds,
				OpsPerSecond: pr.OpsPerSecond,
			}
			if base, ok := baseline[phase]; ok && base > 0 {
				t.ImprovementPct = (base - pr.Seconds) / base * 100
			}
			cmp.Timings = append(cmp.Timings, t)
		}
		if len(cmp.Timings) > 0 {
			rep.Comparisons = append(rep.Comparisons, cmp)
		}
	}
	return rep
}

func phaseResult(res *RunResult, phase string) (PhaseResult, bool) {
	for _, pr := range res.Phases {
		if pr.Phase == phase {
			return pr, true
		}
	}
	return PhaseResult{}, false
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := gojson.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes a human-readable summary table.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Benchmark report: %s backend, %d operations per phase, %d workers\n",
		r.Backend, r.Operations, r.Workers)
	fmt.Fprintf(w, "Generated: %s\n\n", r.Timestamp.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tMODE\tSECONDS\tOPS/SEC\tVS DIRECT")
	for _, cmp := range r.Comparisons {
		for _, t := range cmp.Timings {
			vs := "baseline"
			if t.Mode != config.ModeDirect {
				vs = fmt.Sprintf("%+.1f%%", t.ImprovementPct)
			}
			fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.0f\t%s\n",
				cmp.Phase, t.Mode, t.Seconds, t.OpsPerSecond, vs)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, res := range r.Results {
		if res.PoolStats == nil {
			continue
		}
		s := res.PoolStats
		fmt.Fprintf(w, "\nPool %q: capacity=%d acquires=%d releases=%d waited=%d invalid_releases=%d\n",
			res.Name, s.Capacity, s.Acquires, s.Releases, s.Waited, s.InvalidReleases)
	}

	if r.Resources != nil {
		fmt.Fprintf(w, "\nResources: cpu=%.1f%% rss=%dMB goroutines=%d threads=%d fds=%d\n",
			r.Resources.CPUPercent,
			r.Resources.MemoryRSS/(1024*1024),
			r.Resources.GoroutineCount,
			r.Resources.ThreadCount,
			r.Resources.OpenFDs)
	}
	return nil
}
