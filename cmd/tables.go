package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mergestat/timediff"
	"github.com/overmindtech/tokengen/pipeline"
	"github.com/overmindtech/tokengen/state"
)

func renderSummaries(w io.Writer, summaries []pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Region", "Accounts", "Tokens", "Failed", "Time", "Output"})

	total := 0
	for _, s := range summaries {
		if s.Skipped {
			t.AppendRow(table.Row{s.Region, "-", "-", "-", "-", "skipped, no account file"})
			continue
		}
		total += s.Succeeded
		t.AppendRow(table.Row{
			s.Region,
			s.TotalAccounts,
			s.Succeeded,
			s.Failed,
			fmt.Sprintf("%dm %ds", s.ElapsedSeconds/60, s.ElapsedSeconds%60),
			s.Output,
		})
	}
	t.AppendFooter(table.Row{"Total", "", total})

	t.Render()
}

func renderHistory(w io.Writer, runs []*state.Run, cp *state.Checkpoint, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Run", "Started", "Regions", "Tokens", "Status"})

	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID.String(),
			timediff.TimeDiff(run.StartedAt, timediff.WithStartTime(now)),
			strings.Join(run.Regions, ","),
			run.Total,
			runStatus(run, cp),
		})
	}

	t.Render()
}

func runStatus(run *state.Run, cp *state.Checkpoint) string {
	switch {
	case cp != nil && cp.RunID == run.ID:
		return Yellow.Color("waiting for resume")
	case run.Published:
		return Green.Color("published")
	case run.Error != "":
		return Red.Color("failed: " + run.Error)
	case run.NeedsIntervention:
		return "needed intervention"
	default:
		return "not published"
	}
}
