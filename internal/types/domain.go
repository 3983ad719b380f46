package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProcessingConfig is the processing configuration of a region as stored by
// the region registry.
type ProcessingConfig struct {
	Mode               Mode     `json:"mode" validate:"required,oneof=scheduled onNewScene disabled"`
	Priority           Priority `json:"priority,omitempty" validate:"omitempty,oneof=low standard high"`
	ScheduleExpression string   `json:"scheduleExpression,omitempty"`
	ScheduleTimezone   string   `json:"scheduleTimezone,omitempty"`
}

// UnmarshalJSON accepts the legacy scheduleExpressionTimezone field as an alias
// of scheduleTimezone.
func (c *ProcessingConfig) UnmarshalJSON(data []byte) error {
	type plain ProcessingConfig
	var aux struct {
		plain
		LegacyTimezone string `json:"scheduleExpressionTimezone,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = ProcessingConfig(aux.plain)
	if c.ScheduleTimezone == "" {
		c.ScheduleTimezone = aux.LegacyTimezone
	}
	return nil
}

// ProcessingMode is the tagged form of a ProcessingConfig. Its concrete type is
// exactly one of Disabled, Scheduled or OnNewScene.
type ProcessingMode interface {
	processingMode()
}

// Disabled regions never start jobs.
type Disabled struct{}

// Scheduled regions start jobs from a recurring trigger.
type Scheduled struct {
	Expression string
	// Timezone is an IANA zone name; empty means UTC.
	Timezone string
	Priority Priority
}

// OnNewScene regions start jobs when matching imagery arrives.
type OnNewScene struct {
	Priority Priority
}

func (Disabled) processingMode()   {}
func (Scheduled) processingMode()  {}
func (OnNewScene) processingMode() {}

// Variant converts the stored configuration into its tagged form. A scheduled
// configuration without an expression and an unknown mode are rejected.
func (c ProcessingConfig) Variant() (ProcessingMode, error) {
	if !c.Priority.Valid() {
		return nil, NewAppError(ErrCodeValidationProcessingMode,
			fmt.Sprintf("unknown priority %q", c.Priority), nil)
	}
	switch c.Mode {
	case ModeDisabled:
		return Disabled{}, nil
	case ModeScheduled:
		if c.ScheduleExpression == "" {
			return nil, NewAppError(ErrCodeInvalidScheduleExpression,
				"scheduled mode requires a schedule expression", nil)
		}
		return Scheduled{
			Expression: c.ScheduleExpression,
			Timezone:   c.ScheduleTimezone,
			Priority:   c.Priority.OrDefault(),
		}, nil
	case ModeOnNewScene:
		return OnNewScene{Priority: c.Priority.OrDefault()}, nil
	default:
		return nil, NewAppError(ErrCodeValidationProcessingMode,
			fmt.Sprintf("unknown processing mode %q", c.Mode), nil)
	}
}

// Region is a geographic area of interest. It is owned by the region registry
// and read-only here.
type Region struct {
	ID               string           `json:"id" validate:"required"`
	GroupID          string           `json:"groupId" validate:"required"`
	Name             string           `json:"name,omitempty"`
	BoundingGeometry Geometry         `json:"boundingGeometry"`
	ProcessingConfig ProcessingConfig `json:"processingConfig"`
	// Attributes are processing-relevant region attributes copied into each
	// job's snapshot.
	Attributes Snapshot          `json:"attributes,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt,omitempty"`
}

// Polygon is a sub-geometry of a region. Jobs triggered by a scene are scoped
// to the polygons the scene touches.
type Polygon struct {
	ID         string     `json:"id"`
	RegionID   string     `json:"regionId"`
	Name       string     `json:"name,omitempty"`
	Boundary   Geometry   `json:"boundary"`
	Exclusions []Geometry `json:"exclusions,omitempty"`
	State      Snapshot   `json:"state,omitempty"`
}

// Job is one submission to the execution engine.
type Job struct {
	ID               string      `json:"id"`
	RegionID         string      `json:"regionId"`
	GroupID          string      `json:"groupId"`
	PolygonID        string      `json:"polygonId,omitempty"`
	TriggerKind      TriggerKind `json:"triggerKind"`
	TriggerKey       string      `json:"triggerKey"`
	ScheduleDateTime time.Time   `json:"scheduleDateTime"`
	OutputPrefix     string      `json:"outputPrefix"`
	State            Snapshot    `json:"state"`
	Priority         Priority    `json:"priority"`
	Status           JobStatus   `json:"status"`
	// EngineHandle is assigned at submission and never changes.
	EngineHandle string     `json:"engineHandle"`
	StatusReason string     `json:"statusReason,omitempty"`
	NotifiedAt   *time.Time `json:"notifiedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// ScheduleRegistration records the recurring trigger owned for a region.
type ScheduleRegistration struct {
	RegionID    string    `json:"regionId"`
	TriggerName string    `json:"triggerName"`
	Expression  string    `json:"expression"`
	Timezone    string    `json:"timezone,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SceneNotification announces new imagery covering some geometry. It follows
// the STAC item layout; only the fields used for matching are decoded.
type SceneNotification struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Geometry   Geometry  `json:"geometry"`
	BBox       []float64 `json:"bbox,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// UnmarshalJSON also reads the timestamp from STAC properties.datetime.
func (n *SceneNotification) UnmarshalJSON(data []byte) error {
	type plain SceneNotification
	var aux struct {
		plain
		Properties struct {
			Datetime time.Time `json:"datetime"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*n = SceneNotification(aux.plain)
	if n.Timestamp.IsZero() {
		n.Timestamp = aux.Properties.Datetime
	}
	return nil
}

// Footprint returns the scene geometry, falling back to its bbox.
func (n SceneNotification) Footprint() (Geometry, error) {
	if !n.Geometry.IsEmpty() {
		return n.Geometry, nil
	}
	if len(n.BBox) == 0 {
		return Geometry{}, NewAppError(ErrCodeValidationInvalidGeometry, "scene has neither geometry nor bbox", nil)
	}
	b, err := BoundFromBBox(n.BBox)
	if err != nil {
		return Geometry{}, NewAppError(ErrCodeValidationInvalidGeometry, "invalid scene bbox", err)
	}
	return NewGeometry(b), nil
}
