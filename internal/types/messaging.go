package types

import "time"

// RegionChangedEvent is published by the region registry whenever a region is
// created, updated or deleted. Old is absent on create and New is absent on
// delete.
type RegionChangedEvent struct {
	EventType RegionEventType `json:"eventType,omitempty"`
	Old       *Region         `json:"old,omitempty"`
	New       *Region         `json:"new,omitempty"`
}

// ScheduleFiringMessage is the payload a recurring trigger delivers when it
// fires. ScheduleDateTime is filled in by the trigger service.
type ScheduleFiringMessage struct {
	RegionID         string `json:"regionId" validate:"required"`
	GroupID          string `json:"groupId,omitempty"`
	ScheduleDateTime string `json:"scheduleDateTime,omitempty"`
}

// JobStatusMessage is a status change reported by the execution engine.
// Status uses the engine's own vocabulary.
type JobStatusMessage struct {
	Handle string `json:"handle" validate:"required"`
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// JobTerminalEvent is emitted once a job reaches succeeded or failed.
type JobTerminalEvent struct {
	JobID      string    `json:"jobId"`
	RegionID   string    `json:"regionId"`
	GroupID    string    `json:"groupId"`
	PolygonID  string    `json:"polygonId,omitempty"`
	Status     JobStatus `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
