package summary

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// Reporter renders a run summary for humans
type Reporter struct {
	out   io.Writer
	color bool
}

// NewReporter creates a reporter writing to out
func NewReporter(out io.Writer, color bool) *Reporter {
	return &Reporter{out: out, color: color}
}

// Report writes the summary table followed by failures and pending examples
func (r *Reporter) Report(s *models.RunSummary) error {
	sections := []string{r.formatTable(s), formatFailures(s), formatPending(s)}
	for _, section := range sections {
		if section == "" {
			continue
		}
		if _, err := io.WriteString(r.out, section); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) formatTable(s *models.RunSummary) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("Run %s", s.RunID))

	t.AppendHeader(table.Row{"#", "Browser", "Duration", "Examples", "Failures", "Pending", "Exit", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "Browser", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Examples", Align: text.AlignRight},
		{Name: "Failures", Align: text.AlignRight},
		{Name: "Pending", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
	})

	var examples, failures, pending int
	for _, o := range s.Outcomes {
		row := table.Row{o.Index, o.Browser, formatDuration(o.Duration()), "-", "-", "-", o.ExitCode, statusString(o.Passed())}
		if payload, ok := models.DecodeResultPayload(o.Payload); ok {
			row[3], row[4], row[5] = payload.Examples, len(payload.Failures), len(payload.Pending)
			examples += payload.Examples
			failures += len(payload.Failures)
			pending += len(payload.Pending)
		}
		t.AppendRow(row)
	}

	passed := s.OverallExitCode == 0
	if r.color {
		if passed {
			t.SetStyle(table.StyleColoredBlackOnGreenWhite)
		} else {
			t.SetStyle(table.StyleColoredBlackOnRedWhite)
		}
	}

	t.AppendFooter(table.Row{
		"TOTAL", fmt.Sprintf("%d workers", len(s.Outcomes)), formatDuration(s.EndTime.Sub(s.StartTime)),
		examples, failures, pending, s.OverallExitCode, statusString(passed),
	})

	t.Render()
	return buf.String()
}

func formatFailures(s *models.RunSummary) string {
	var b strings.Builder
	for _, o := range s.Outcomes {
		if o.Err != "" {
			fmt.Fprintf(&b, "  [%d] %s: %s\n", o.Index, o.Browser, o.Err)
		}
		payload, ok := models.DecodeResultPayload(o.Payload)
		if !ok {
			continue
		}
		for _, f := range payload.Failures {
			fmt.Fprintf(&b, "  [%d] %s: %s\n", o.Index, o.Browser, f.Description)
			if f.Message != "" {
				fmt.Fprintf(&b, "      %s\n", strings.ReplaceAll(strings.TrimSpace(f.Message), "\n", "\n      "))
			}
			if f.Location != "" {
				fmt.Fprintf(&b, "      # %s\n", f.Location)
			}
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "\nFailures:\n" + b.String()
}

func formatPending(s *models.RunSummary) string {
	var b strings.Builder
	for _, o := range s.Outcomes {
		payload, ok := models.DecodeResultPayload(o.Payload)
		if !ok {
			continue
		}
		for _, p := range payload.Pending {
			fmt.Fprintf(&b, "  [%d] %s: %s\n", o.Index, o.Browser, p.Description)
			if p.Message != "" {
				fmt.Fprintf(&b, "      # %s\n", p.Message)
			}
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "\nPending:\n" + b.String()
}

func statusString(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
