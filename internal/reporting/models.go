package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for a window.
// Department is optional.
type CallsSummaryRequest struct {
	Range      TimeRange `json:"range"`
	Department string    `json:"department,omitempty"`
}

// StageCoverage counts how many calls reached each pipeline stage.
type StageCoverage struct {
	Recorded    int `json:"recorded"`
	Transcribed int `json:"transcribed"`
	Analyzed    int `json:"analyzed"`
	Degraded    int `json:"degraded"`
	Replied     int `json:"replied"`
	Voiced      int `json:"voiced"`
}

type CallsSummary struct {
	Range      TimeRange `json:"range"`
	Department string    `json:"department,omitempty"`

	TotalCalls     int `json:"totalCalls"`
	CompletedCalls int `json:"completedCalls"`
	MissedCalls    int `json:"missedCalls"`
	FailedCalls    int `json:"failedCalls"`
	OngoingCalls   int `json:"ongoingCalls"`

	TotalDurationSeconds   int `json:"totalDurationSeconds"`
	AverageDurationSeconds int `json:"averageDurationSeconds"`

	BySentiment  map[string]int `json:"bySentiment"`
	ByPriority   map[string]int `json:"byPriority"`
	ByDepartment map[string]int `json:"byDepartment"`

	Stages StageCoverage `json:"stages"`
}
