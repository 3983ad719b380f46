package lifecycle

import (
	"strings"

	"regionwatch/internal/types"
)

// engineStatuses maps execution engine vocabularies onto the canonical job
// states. Keys are upper case.
var engineStatuses = map[string]types.JobStatus{
	// canonical
	"SUBMITTED": types.JobStatusSubmitted,
	"RUNNING":   types.JobStatusRunning,
	"SUCCEEDED": types.JobStatusSucceeded,
	"FAILED":    types.JobStatusFailed,

	// AWS Batch
	"PENDING":  types.JobStatusSubmitted,
	"RUNNABLE": types.JobStatusSubmitted,
	"STARTING": types.JobStatusRunning,

	// serverless GPU job APIs
	"IN_QUEUE":    types.JobStatusSubmitted,
	"IN_PROGRESS": types.JobStatusRunning,
	"COMPLETED":   types.JobStatusSucceeded,
	"CANCELLED":   types.JobStatusFailed,
	"TIMED_OUT":   types.JobStatusFailed,
}

// MapEngineStatus converts an engine status to a canonical state. The second
// result is false for statuses it does not recognise.
func MapEngineStatus(status string) (types.JobStatus, bool) {
	s, ok := engineStatuses[strings.ToUpper(strings.TrimSpace(status))]
	return s, ok
}

func rank(s types.JobStatus) int {
	switch s {
	case types.JobStatusSubmitted:
		return 0
	case types.JobStatusRunning:
		return 1
	case types.JobStatusSucceeded, types.JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from one state to another is a
// forward move along submitted -> running -> {succeeded, failed}. Skipping
// running is allowed; terminal states accept nothing.
func CanTransition(from, to types.JobStatus) bool {
	if from.Terminal() {
		return false
	}
	rf, rt := rank(from), rank(to)
	return rf >= 0 && rt > rf
}
