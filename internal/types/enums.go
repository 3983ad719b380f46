package types

import "strings"

// Mode is the processing mode of a region.
type Mode string

const (
	ModeScheduled  Mode = "scheduled"
	ModeOnNewScene Mode = "onNewScene"
	ModeDisabled   Mode = "disabled"
)

// Priority selects the execution lane a region's jobs are submitted to.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityStandard Priority = "standard"
	PriorityHigh     Priority = "high"
)

// OrDefault returns p, or PriorityStandard when p is empty.
func (p Priority) OrDefault() Priority {
	if p == "" {
		return PriorityStandard
	}
	return p
}

// Valid reports whether p is one of the known priorities. Empty is valid and
// means PriorityStandard.
func (p Priority) Valid() bool {
	switch p {
	case "", PriorityLow, PriorityStandard, PriorityHigh:
		return true
	}
	return false
}

// JobStatus is the canonical lifecycle state of a Job.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether s accepts no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// ParseJobStatus matches the canonical status names case-insensitively.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch JobStatus(strings.ToLower(strings.TrimSpace(s))) {
	case JobStatusSubmitted:
		return JobStatusSubmitted, true
	case JobStatusRunning:
		return JobStatusRunning, true
	case JobStatusSucceeded:
		return JobStatusSucceeded, true
	case JobStatusFailed:
		return JobStatusFailed, true
	}
	return "", false
}

// TriggerKind records what started a Job.
type TriggerKind string

const (
	TriggerKindSchedule TriggerKind = "schedule"
	TriggerKindScene    TriggerKind = "scene"
)

// RegionEventType is the kind of change carried by a RegionChangedEvent.
type RegionEventType string

const (
	RegionCreated RegionEventType = "created"
	RegionUpdated RegionEventType = "updated"
	RegionDeleted RegionEventType = "deleted"
)
