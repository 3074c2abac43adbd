package summary

import (
	"time"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// Summarize merges worker outcomes into a run summary. The overall exit code
// is 1 if any worker exited non-zero, otherwise 0.
func Summarize(runID string, outcomes []models.WorkerOutcome, start, end time.Time) *models.RunSummary {
	exitCode := 0
	for _, o := range outcomes {
		if o.ExitCode != 0 {
			exitCode = 1
			break
		}
	}

	return &models.RunSummary{
		RunID:           runID,
		StartTime:       start,
		EndTime:         end,
		Outcomes:        append([]models.WorkerOutcome(nil), outcomes...),
		OverallExitCode: exitCode,
	}
}
