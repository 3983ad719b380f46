// Package dispatch turns a region and a trigger into submitted compute jobs.
//
// For each target (the whole region, or each region polygon touched by a
// scene) the Dispatcher builds a job specification carrying a point-in-time
// snapshot of the region, submits it to the execution engine and, once the
// engine has accepted it, persists the Job with status submitted and the
// engine handle. The Dispatcher never retries: a rejected submission surfaces
// as JobSubmissionFailed and the caller's redelivery decides what happens next.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"regionwatch/internal/geo"
	"regionwatch/internal/idgen"
	"regionwatch/internal/types"
)

// Engine is the execution engine.
type Engine interface {
	Submit(ctx context.Context, spec types.JobSpec) (handle string, err error)
}

// JobStore persists newly submitted jobs.
type JobStore interface {
	Create(ctx context.Context, job *types.Job) error
}

// PolygonSource lists the polygons of a region.
type PolygonSource interface {
	ListPolygons(ctx context.Context, regionID string) ([]types.Polygon, error)
}

// InputStager stores the job specification next to the job output and
// returns its location.
type InputStager interface {
	Stage(ctx context.Context, key string, doc []byte) (location string, err error)
}

// MetricRecorder receives a counter per submission attempt.
type MetricRecorder interface {
	RecordSubmission(ctx context.Context, priority types.Priority, ok bool)
}

// Config tunes the Dispatcher.
type Config struct {
	SubmitTimeout time.Duration
	CallTimeout   time.Duration
	// MaxParallel bounds concurrent submissions for one StartJob call.
	MaxParallel int
}

const (
	defaultSubmitTimeout = 15 * time.Second
	defaultCallTimeout   = 10 * time.Second
	defaultMaxParallel   = 4
)

// Dispatcher submits jobs. Construct with New.
type Dispatcher struct {
	engine   Engine
	store    JobStore
	polygons PolygonSource
	stager   InputStager
	metrics  MetricRecorder
	ids      idgen.Generator
	clock    types.Clock
	cfg      Config
	logger   *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Dispatcher)

// WithPolygons enables per-polygon jobs for scene triggers.
func WithPolygons(p PolygonSource) Option { return func(d *Dispatcher) { d.polygons = p } }

// WithStager stages each job specification before submission.
func WithStager(s InputStager) Option { return func(d *Dispatcher) { d.stager = s } }

// WithMetrics records submission counters.
func WithMetrics(m MetricRecorder) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithIDGenerator replaces the ULID generator.
func WithIDGenerator(g idgen.Generator) Option { return func(d *Dispatcher) { d.ids = g } }

// WithClock replaces the system clock.
func WithClock(c types.Clock) Option { return func(d *Dispatcher) { d.clock = c } }

// New creates a Dispatcher.
func New(engine Engine, store JobStore, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		engine: engine,
		store:  store,
		cfg:    cfg,
		logger: logger,
		ids:    idgen.NewULIDGenerator(),
		clock:  types.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// target is one unit of work: the region as a whole or one polygon.
type target struct {
	polygon  *types.Polygon
	geometry types.Geometry
}

func (t target) key() string {
	if t.polygon == nil {
		return RegionWide
	}
	return t.polygon.ID
}

// StartJob submits the jobs for region and trigger and returns those that
// were accepted and persisted, in target order.
//
// A schedule trigger yields one region-wide job. A scene trigger yields one
// job per region polygon whose boundary intersects the scene, or one
// region-wide job when the region has no polygons. Targets listed in the
// trigger's Skip set are not submitted again.
//
// When some submissions fail, the successful jobs are still returned together
// with an error carrying the failure code (JobSubmissionFailed for engine
// rejections).
func (d *Dispatcher) StartJob(ctx context.Context, region types.Region, trigger Trigger) ([]*types.Job, error) {
	mode, err := region.ProcessingConfig.Variant()
	if err != nil {
		return nil, err
	}
	priority := priorityOf(mode)

	targets, err := d.targets(ctx, region, trigger)
	if err != nil {
		return nil, err
	}
	logger := d.logger.With(
		"region_id", region.ID,
		"trigger_kind", string(trigger.Kind()),
		"trigger_key", trigger.Key(),
	)
	if len(targets) == 0 {
		logger.InfoContext(ctx, "no targets to dispatch")
		return []*types.Job{}, nil
	}

	jobs := make([]*types.Job, len(targets))
	errs := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxParallel)
	for i, t := range targets {
		g.Go(func() error {
			// A failed target must not cancel its siblings.
			jobs[i], errs[i] = d.startOne(gctx, logger, region, priority, trigger, t)
			return nil
		})
	}
	_ = g.Wait()

	accepted := make([]*types.Job, 0, len(jobs))
	var merr *multierror.Error
	for i := range targets {
		if errs[i] != nil {
			merr = multierror.Append(merr, fmt.Errorf("target %q: %w", targets[i].key(), errs[i]))
			continue
		}
		accepted = append(accepted, jobs[i])
	}
	if merr == nil {
		return accepted, nil
	}

	code := types.CodeOf(merr.Errors[0])
	if code == "" {
		code = types.ErrCodeJobSubmissionFailed
	}
	logger.ErrorContext(ctx, "dispatch incomplete",
		"targets", len(targets),
		"accepted", len(accepted),
		"error", merr.ErrorOrNil(),
	)
	return accepted, types.NewAppErrorWithDetails(code,
		fmt.Sprintf("%d of %d job submissions failed", len(merr.Errors), len(targets)),
		merr.ErrorOrNil(),
		map[string]any{"region_id": region.ID, "accepted": len(accepted)},
	)
}

func (d *Dispatcher) targets(ctx context.Context, region types.Region, trigger Trigger) ([]target, error) {
	var all []target
	switch tr := trigger.(type) {
	case ScheduleTrigger:
		all = []target{{geometry: region.BoundingGeometry}}
	case SceneTrigger:
		footprint, err := tr.Notification.Footprint()
		if err != nil {
			return nil, err
		}
		polygons, err := d.listPolygons(ctx, region.ID)
		if err != nil {
			return nil, err
		}
		if len(polygons) == 0 {
			all = []target{{geometry: region.BoundingGeometry}}
			break
		}
		seen := mapset.NewThreadUnsafeSet[string]()
		for _, p := range geo.FilterPolygons(polygons, footprint) {
			if !seen.Add(p.ID) {
				continue
			}
			all = append(all, target{polygon: &p, geometry: p.Boundary})
		}
	default:
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("unsupported trigger %T", trigger), nil)
	}

	skip := trigger.skipped()
	if skip == nil || skip.Cardinality() == 0 {
		return all, nil
	}
	out := all[:0]
	for _, t := range all {
		if skip.Contains(t.key()) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (d *Dispatcher) listPolygons(ctx context.Context, regionID string) ([]types.Polygon, error) {
	if d.polygons == nil {
		return nil, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	return d.polygons.ListPolygons(callCtx, regionID)
}

func (d *Dispatcher) startOne(
	ctx context.Context,
	logger *slog.Logger,
	region types.Region,
	priority types.Priority,
	trigger Trigger,
	t target,
) (*types.Job, error) {
	now := d.clock.Now()
	jobID := d.ids.NewID(now)
	polygonID := t.key()

	state, err := Snapshot(region, t.polygon, priority)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build job state", err)
	}

	spec := types.JobSpec{
		JobID:            jobID,
		RegionID:         region.ID,
		GroupID:          region.GroupID,
		PolygonID:        polygonID,
		Priority:         priority,
		TriggerKind:      trigger.Kind(),
		ScheduleDateTime: trigger.FiredAt(),
		OutputPrefix:     OutputPrefix(region.ID, jobID, polygonID),
		Geometry:         t.geometry,
		State:            state,
	}
	if t.polygon != nil {
		spec.Exclusions = t.polygon.Exclusions
	}
	if st, ok := trigger.(SceneTrigger); ok {
		spec.SceneID = st.Notification.ID
		spec.Collection = st.Notification.Collection
	}

	if d.stager != nil {
		if err := d.stage(ctx, &spec); err != nil {
			return nil, err
		}
	}

	handle, err := d.submit(ctx, spec)
	if d.metrics != nil {
		d.metrics.RecordSubmission(ctx, priority, err == nil)
	}
	if err != nil {
		logger.WarnContext(ctx, "job submission failed", "job_id", jobID, "polygon_id", polygonID, "error", err)
		return nil, err
	}

	job := &types.Job{
		ID:               jobID,
		RegionID:         region.ID,
		GroupID:          region.GroupID,
		PolygonID:        polygonID,
		TriggerKind:      trigger.Kind(),
		TriggerKey:       trigger.Key(),
		ScheduleDateTime: spec.ScheduleDateTime,
		OutputPrefix:     spec.OutputPrefix,
		State:            state,
		Priority:         priority,
		Status:           types.JobStatusSubmitted,
		EngineHandle:     handle,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	if err := d.store.Create(callCtx, job); err != nil {
		// The engine already runs this job; its status notifications will
		// surface as unknown until a redelivered trigger records it.
		logger.ErrorContext(ctx, "submitted job not recorded",
			"job_id", jobID,
			"engine_handle", handle,
			"error", err,
		)
		return nil, err
	}

	logger.InfoContext(ctx, "job submitted",
		"job_id", jobID,
		"polygon_id", polygonID,
		"engine_handle", handle,
		"output_prefix", job.OutputPrefix,
		"priority", string(priority),
	)
	return job, nil
}

func (d *Dispatcher) submit(ctx context.Context, spec types.JobSpec) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	defer cancel()

	handle, err := d.engine.Submit(callCtx, spec)
	if err != nil {
		if types.IsCode(err, types.ErrCodeJobSubmissionFailed) {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeJobSubmissionFailed, "execution engine rejected job", err)
	}
	if handle == "" {
		return "", types.NewAppError(types.ErrCodeJobSubmissionFailed, "execution engine returned no job handle", nil)
	}
	return handle, nil
}

func (d *Dispatcher) stage(ctx context.Context, spec *types.JobSpec) error {
	doc, err := json.Marshal(spec)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode job input", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	loc, err := d.stager.Stage(callCtx, InputKey(spec.OutputPrefix), doc)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return types.NewAppError(types.ErrCodeUpstreamStorage, "failed to stage job input", err)
	}
	spec.InputLocation = loc
	return nil
}

// OutputPrefix is the storage prefix for a job's output. It is unique per
// job because it embeds the job ID.
func OutputPrefix(regionID, jobID, polygonID string) string {
	p := fmt.Sprintf("region=%s/job=%s", regionID, jobID)
	if polygonID != RegionWide {
		p += "/polygon=" + polygonID
	}
	return p
}

// InputKey is the storage key of the staged job specification.
func InputKey(outputPrefix string) string {
	return outputPrefix + "/input/metadata.json"
}

// Snapshot captures the processing-relevant attributes of region, and of
// polygon when set, as an independent copy.
func Snapshot(region types.Region, polygon *types.Polygon, priority types.Priority) (types.Snapshot, error) {
	var s types.Snapshot
	fields := []struct {
		key   string
		value any
	}{
		{"regionId", region.ID},
		{"groupId", region.GroupID},
		{"regionName", region.Name},
		{"processingMode", region.ProcessingConfig.Mode},
		{"priority", priority},
	}
	for _, f := range fields {
		if err := s.Set(f.key, f.value); err != nil {
			return nil, err
		}
	}
	if len(region.Tags) > 0 {
		if err := s.Set("tags", region.Tags); err != nil {
			return nil, err
		}
	}
	s.Merge(region.Attributes)

	if polygon != nil {
		if err := s.Set("polygonId", polygon.ID); err != nil {
			return nil, err
		}
		if err := s.Set("polygonName", polygon.Name); err != nil {
			return nil, err
		}
		s.Merge(polygon.State)
	}
	return s.Clone(), nil
}

func priorityOf(mode types.ProcessingMode) types.Priority {
	switch m := mode.(type) {
	case types.Scheduled:
		return m.Priority
	case types.OnNewScene:
		return m.Priority
	default:
		return types.PriorityStandard
	}
}
