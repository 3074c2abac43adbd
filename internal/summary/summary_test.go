package summary

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

func outcomesWithCodes(codes ...int) []models.WorkerOutcome {
	out := make([]models.WorkerOutcome, len(codes))
	for i, c := range codes {
		out[i] = models.WorkerOutcome{Index: i, Browser: "browser", ExitCode: c}
	}
	return out
}

func TestSummarizeExitCode(t *testing.T) {
	start := time.Now()
	end := start.Add(time.Minute)

	tests := []struct {
		name  string
		codes []int
		want  int
	}{
		{"all pass", []int{0, 0, 0}, 0},
		{"one fails", []int{0, 1, 0}, 1},
		{"high exit code", []int{0, 0, 143}, 1},
		{"no workers", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize("run", outcomesWithCodes(tt.codes...), start, end)
			assert.Equal(t, tt.want, s.OverallExitCode)
			assert.Equal(t, start, s.StartTime)
			assert.Equal(t, end, s.EndTime)
			assert.Len(t, s.Outcomes, len(tt.codes))
		})
	}
}

func TestSummarizeKeepsOrder(t *testing.T) {
	s := Summarize("run", outcomesWithCodes(0, 1, 0), time.Now(), time.Now())
	for i, o := range s.Outcomes {
		assert.Equal(t, i, o.Index)
	}
	require.Len(t, s.Failed(), 1)
	assert.Equal(t, 1, s.Failed()[0].Index)
}

func TestReport(t *testing.T) {
	start := time.Now()
	outcomes := []models.WorkerOutcome{
		{
			Index: 0, Browser: "chrome_win10", ExitCode: 0,
			Payload:   []byte(`{"examples":4,"pending":[{"description":"checkout with PayPal","message":"not implemented"}]}`),
			StartedAt: start, FinishedAt: start.Add(2 * time.Second),
		},
		{
			Index: 1, Browser: "safari_ios", ExitCode: 1,
			Payload:   []byte(`{"examples":4,"failures":[{"description":"header renders","message":"expected diff < 0.1","location":"spec/header_spec.rb:12"}]}`),
			StartedAt: start, FinishedAt: start.Add(3 * time.Second),
		},
		{
			Index: 2, Browser: "ie11", ExitCode: 1, Err: "no remote sessions available after 10 attempts",
			Payload: []byte("opaque bytes"),
		},
	}
	s := Summarize("abc", outcomes, start, start.Add(5*time.Second))

	var buf bytes.Buffer
	require.NoError(t, NewReporter(&buf, false).Report(s))
	out := buf.String()

	assert.Contains(t, out, "Run abc")
	assert.Contains(t, out, "chrome_win10")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "Failures:")
	assert.Contains(t, out, "header renders")
	assert.Contains(t, out, "spec/header_spec.rb:12")
	assert.Contains(t, out, "no remote sessions available")
	assert.Contains(t, out, "Pending:")
	assert.Contains(t, out, "checkout with PayPal")
}

func TestReportAllPassedHasNoDumps(t *testing.T) {
	s := Summarize("ok", outcomesWithCodes(0, 0), time.Now(), time.Now())

	var buf bytes.Buffer
	require.NoError(t, NewReporter(&buf, true).Report(s))
	assert.NotContains(t, buf.String(), "Failures:")
	assert.NotContains(t, buf.String(), "Pending:")
	assert.Contains(t, buf.String(), "PASS")
}
