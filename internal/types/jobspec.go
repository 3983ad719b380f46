package types

import "time"

// JobSpec is the document submitted to the execution engine for one job.
type JobSpec struct {
	JobID            string      `json:"jobId"`
	RegionID         string      `json:"regionId"`
	GroupID          string      `json:"groupId"`
	PolygonID        string      `json:"polygonId,omitempty"`
	Priority         Priority    `json:"priority"`
	TriggerKind      TriggerKind `json:"triggerKind"`
	ScheduleDateTime time.Time   `json:"scheduleDateTime"`
	SceneID          string      `json:"sceneId,omitempty"`
	Collection       string      `json:"collection,omitempty"`
	OutputPrefix     string      `json:"outputPrefix"`
	Geometry         Geometry    `json:"geometry"`
	Exclusions       []Geometry  `json:"exclusions,omitempty"`
	State            Snapshot    `json:"state"`
	// InputLocation points at the staged copy of this document, when staging
	// is enabled.
	InputLocation string `json:"inputLocation,omitempty"`
}
