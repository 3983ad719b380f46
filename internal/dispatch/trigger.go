package dispatch

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"regionwatch/internal/types"
)

// RegionWide is the target key of a job that covers the whole region rather
// than one of its polygons.
const RegionWide = ""

// Trigger is what caused a dispatch. Its concrete type is ScheduleTrigger or
// SceneTrigger.
type Trigger interface {
	Kind() types.TriggerKind
	// Key identifies the firing. Jobs started by the same trigger share it.
	Key() string
	FiredAt() time.Time
	skipped() mapset.Set[string]
}

// ScheduleTrigger is a recurring trigger firing.
type ScheduleTrigger struct {
	ScheduleDateTime time.Time
	// Skip holds target keys already dispatched for this firing.
	Skip mapset.Set[string]
}

// SceneTrigger is a scene notification matched to a region.
type SceneTrigger struct {
	Notification types.SceneNotification
	// Skip holds target keys already dispatched for this scene.
	Skip mapset.Set[string]
}

func (t ScheduleTrigger) Kind() types.TriggerKind { return types.TriggerKindSchedule }
func (t ScheduleTrigger) Key() string {
	return t.ScheduleDateTime.UTC().Format(time.RFC3339)
}
func (t ScheduleTrigger) FiredAt() time.Time          { return t.ScheduleDateTime.UTC() }
func (t ScheduleTrigger) skipped() mapset.Set[string] { return t.Skip }

func (t SceneTrigger) Kind() types.TriggerKind { return types.TriggerKindScene }

// Key is the scene ID, or collection and timestamp for scenes without one.
func (t SceneTrigger) Key() string {
	if t.Notification.ID != "" {
		return t.Notification.ID
	}
	return t.Notification.Collection + "@" + t.Notification.Timestamp.UTC().Format(time.RFC3339Nano)
}
func (t SceneTrigger) FiredAt() time.Time          { return t.Notification.Timestamp.UTC() }
func (t SceneTrigger) skipped() mapset.Set[string] { return t.Skip }
