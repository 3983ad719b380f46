package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionwatch/internal/geo"
	"regionwatch/internal/types"
)

// --- fakes ---

type fakeEngine struct {
	mu      sync.Mutex
	specs   []types.JobSpec
	n       int
	failFor map[string]error // keyed by polygon ID
	noID    bool
	block   bool
}

func (e *fakeEngine) Submit(ctx context.Context, spec types.JobSpec) (string, error) {
	if e.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failFor[spec.PolygonID]; err != nil {
		return "", err
	}
	e.specs = append(e.specs, spec)
	e.n++
	if e.noID {
		return "", nil
	}
	return fmt.Sprintf("h%d", e.n), nil
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*types.Job
	err  error
}

func (s *fakeJobStore) Create(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.jobs == nil {
		s.jobs = make(map[string]*types.Job)
	}
	c := *job
	s.jobs[job.ID] = &c
	return nil
}

type fakePolygons map[string][]types.Polygon

func (f fakePolygons) ListPolygons(_ context.Context, regionID string) ([]types.Polygon, error) {
	if ps, ok := f["error"]; ok && len(ps) == 0 {
		return nil, errors.New("registry down")
	}
	return f[regionID], nil
}

type fakeStager struct {
	mu   sync.Mutex
	keys []string
}

func (s *fakeStager) Stage(_ context.Context, key string, doc []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !json.Valid(doc) {
		return "", errors.New("not json")
	}
	s.keys = append(s.keys, key)
	return "s3://inputs/" + key + ".zst", nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID(time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job%02d", g.n)
}

type countingMetrics struct {
	mu       sync.Mutex
	ok, fail int
}

func (m *countingMetrics) RecordSubmission(_ context.Context, _ types.Priority, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.ok++
	} else {
		m.fail++
	}
}

// --- helpers ---

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func square(minX, minY, maxX, maxY float64) types.Geometry {
	return types.NewGeometry(orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
}

func newRegion(id string, mode types.Mode) types.Region {
	cfg := types.ProcessingConfig{Mode: mode, Priority: types.PriorityHigh}
	if mode == types.ModeScheduled {
		cfg.ScheduleExpression = "rate(1 day)"
	}
	r := types.Region{
		ID:               id,
		GroupID:          "g1",
		Name:             "Region " + id,
		BoundingGeometry: square(0, 0, 10, 10),
		ProcessingConfig: cfg,
	}
	_ = r.Attributes.Set("cloudCoverThreshold", 20)
	return r
}

func newDispatcher(engine Engine, store JobStore, opts ...Option) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	opts = append([]Option{
		WithIDGenerator(&seqIDs{}),
		WithClock(types.ClockFunc(func() time.Time { return now })),
	}, opts...)
	return New(engine, store, Config{SubmitTimeout: 50 * time.Millisecond}, logger, opts...)
}

func polygonIDs(jobs []*types.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.PolygonID
	}
	sort.Strings(out)
	return out
}

// --- tests ---

func TestStartJob_ScheduleTriggerCreatesRegionWideJob(t *testing.T) {
	engine := &fakeEngine{}
	store := &fakeJobStore{}
	d := newDispatcher(engine, store)
	fired := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	jobs, err := d.StartJob(context.Background(), newRegion("r1", types.ModeScheduled), ScheduleTrigger{ScheduleDateTime: fired})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	j := jobs[0]
	assert.Equal(t, "job01", j.ID)
	assert.Equal(t, "r1", j.RegionID)
	assert.Equal(t, "g1", j.GroupID)
	assert.Equal(t, RegionWide, j.PolygonID)
	assert.Equal(t, "region=r1/job=job01", j.OutputPrefix)
	assert.Equal(t, types.JobStatusSubmitted, j.Status)
	assert.Equal(t, "h1", j.EngineHandle)
	assert.Equal(t, fired, j.ScheduleDateTime)
	assert.Equal(t, "2024-06-01T00:00:00Z", j.TriggerKey)
	assert.Equal(t, types.TriggerKindSchedule, j.TriggerKind)
	assert.Equal(t, types.PriorityHigh, j.Priority)
	assert.Contains(t, store.jobs, "job01")

	require.Len(t, engine.specs, 1)
	assert.Equal(t, square(0, 0, 10, 10).Bound(), engine.specs[0].Geometry.Bound())
	assert.Equal(t, []string{"regionId", "groupId", "regionName", "processingMode", "priority", "cloudCoverThreshold"}, j.State.Keys())
}

func TestStartJob_SceneMatchedRegionYieldsOneJob(t *testing.T) {
	scene := types.SceneNotification{
		ID:        "S2B_1",
		Geometry:  square(8, 8, 12, 12),
		Timestamp: now,
	}
	r2 := newRegion("r2", types.ModeOnNewScene)
	r3 := newRegion("r3", types.ModeOnNewScene)
	r3.BoundingGeometry = square(50, 50, 60, 60)

	matched := geo.Match(scene, []types.Region{r3, r2})
	require.Len(t, matched, 1)
	require.Equal(t, "r2", matched[0].ID)

	engine := &fakeEngine{}
	store := &fakeJobStore{}
	d := newDispatcher(engine, store, WithPolygons(fakePolygons{}))
	jobs, err := d.StartJob(context.Background(), matched[0], SceneTrigger{Notification: scene})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "r2", jobs[0].RegionID)
	assert.Equal(t, "S2B_1", jobs[0].TriggerKey)
	assert.Len(t, store.jobs, 1)
	assert.Equal(t, "S2B_1", engine.specs[0].SceneID)
}

func TestStartJob_ScenePerPolygonJobs(t *testing.T) {
	polys := fakePolygons{"r1": {
		{ID: "p1", RegionID: "r1", Boundary: square(0, 0, 2, 2), State: types.Snapshot{{Key: "crop", Value: json.RawMessage(`"wheat"`)}}},
		{ID: "p2", RegionID: "r1", Boundary: square(5, 5, 6, 6)},
		{ID: "p3", RegionID: "r1", Boundary: square(1, 1, 3, 3)},
		{ID: "p1", RegionID: "r1", Boundary: square(0, 0, 2, 2)},
	}}
	engine := &fakeEngine{}
	d := newDispatcher(engine, &fakeJobStore{}, WithPolygons(polys))
	scene := types.SceneNotification{ID: "s1", BBox: []float64{1.5, 1.5, 4, 4}, Timestamp: now}

	jobs, err := d.StartJob(context.Background(), newRegion("r1", types.ModeOnNewScene), SceneTrigger{Notification: scene})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3"}, polygonIDs(jobs))

	prefixes := map[string]bool{}
	for _, j := range jobs {
		assert.Equal(t, now, j.ScheduleDateTime)
		assert.Equal(t, "s1", j.TriggerKey)
		assert.Contains(t, j.OutputPrefix, "/polygon="+j.PolygonID)
		prefixes[j.OutputPrefix] = true
	}
	assert.Len(t, prefixes, 2, "each job needs a distinct output prefix")

	for _, j := range jobs {
		if j.PolygonID == "p1" {
			v, ok := j.State.Get("crop")
			require.True(t, ok)
			assert.JSONEq(t, `"wheat"`, string(v))
		}
	}
}

func TestStartJob_SceneMissesAllPolygons(t *testing.T) {
	polys := fakePolygons{"r1": {{ID: "p1", Boundary: square(0, 0, 1, 1)}}}
	engine := &fakeEngine{}
	d := newDispatcher(engine, &fakeJobStore{}, WithPolygons(polys))

	jobs, err := d.StartJob(context.Background(), newRegion("r1", types.ModeOnNewScene),
		SceneTrigger{Notification: types.SceneNotification{ID: "s", BBox: []float64{5, 5, 6, 6}}})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Empty(t, engine.specs)
}

func TestStartJob_SkipsAlreadyDispatchedTargets(t *testing.T) {
	polys := fakePolygons{"r1": {
		{ID: "p1", Boundary: square(0, 0, 2, 2)},
		{ID: "p2", Boundary: square(0, 0, 2, 2)},
	}}
	engine := &fakeEngine{}
	d := newDispatcher(engine, &fakeJobStore{}, WithPolygons(polys))

	jobs, err := d.StartJob(context.Background(), newRegion("r1", types.ModeOnNewScene), SceneTrigger{
		Notification: types.SceneNotification{ID: "s", BBox: []float64{0, 0, 1, 1}},
		Skip:         mapset.NewSet("p1"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, polygonIDs(jobs))

	jobs, err = d.StartJob(context.Background(), newRegion("r1", types.ModeScheduled), ScheduleTrigger{
		ScheduleDateTime: now,
		Skip:             mapset.NewSet(RegionWide),
	})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestStartJob_EngineRejectionIsJobSubmissionFailed(t *testing.T) {
	engine := &fakeEngine{failFor: map[string]error{RegionWide: errors.New("queue at capacity")}}
	store := &fakeJobStore{}
	metrics := &countingMetrics{}
	d := newDispatcher(engine, store, WithMetrics(metrics))

	jobs, err := d.StartJob(context.Background(), newRegion("r1", types.ModeScheduled), ScheduleTrigger{ScheduleDateTime: now})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeJobSubmissionFailed))
	assert.Empty(t, jobs)
	assert.Empty(t, store.jobs, "nothing is persisted for a rejected submission")
	assert.Equal(t, 1, metrics.fail)
}

func TestStartJob_PartialFailureReturnsAcceptedJobs(t *testing.T) {
	polys := fakePolygons{"r1": {
		{ID: "p1", Boundary: square(0, 0, 2, 2)},
		{ID: "p2", Boundary: square(0, 0, 2, 2)},
		{ID: "p3", Boundary: square(0, 0, 2, 2)},
	}}
	engine := &fakeEngine{failFor: map[string]error{"p2": errors.New("throttled")}}
	store := &fakeJobStore{}
	d := newDispatcher(engine, store, WithPolygons(polys))

	jobs, err := d.StartJob(context.Background(), newRegion("r1", types.ModeOnNewScene),
		SceneTrigger{Notification: types.SceneNotification{ID: "s", BBox: []float64{0, 0, 1, 1}}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeJobSubmissionFailed))
	assert.Contains(t, err.Error(), "1 of 3")
	assert.Equal(t, []string{"p1", "p3"}, polygonIDs(jobs))
	assert.Len(t, store.jobs, 2)
}

func TestStartJob_EmptyHandleRejected(t *testing.T) {
	d := newDispatcher(&fakeEngine{noID: true}, &fakeJobStore{})
	_, err := d.StartJob(context.Background(), newRegion("r1", types.ModeScheduled), ScheduleTrigger{ScheduleDateTime: now})
	assert.True(t, types.IsCode(err, types.ErrCodeJobSubmissionFailed))
}

func TestStartJob_SubmitTimeout(t *testing.T) {
	d := newDispatcher(&fakeEngine{block: true}, &fakeJobStore{})
	start := time.Now()
	_, err := d.StartJob(context.Background(), newRegion("r1", types.ModeScheduled), ScheduleTrigger{ScheduleDateTime: now})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeJobSubmissionFailed))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStartJob_StoreFailureSurfaces(t *testing.T) {
	store := &fakeJobStore{err: types.NewAppError(types.ErrCodeInternalDB, "insert failed", nil)}
	d := newDispatcher(&fakeEngine{}, store)
	_, err := d.StartJob(context.Background(), newRegion("r1", types.ModeScheduled), ScheduleTrigger{ScheduleDateTime: now})
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestStartJob_PolygonLookupFailure(t *testing.T) {
	d := newDispatcher(&fakeEngine{}, &fakeJobStore{}, WithPolygons(fakePolygons{"error": nil}))
	_, err := d.StartJob(context.Background(), newRegion("r1", types.ModeOnNewScene),
		SceneTrigger{Notification: types.SceneNotification{ID: "s", BBox: []float64{0, 0, 1, 1}}})
	assert.Error(t, err)
}

func TestStartJob_StagesInput(t *testing.T) {
	engine := &fakeEngine{}
	stager := &fakeStager{}
	d := newDispatcher(engine, &fakeJobStore{}, WithStager(stager))

	_, err := d.StartJob(context.Background(), newRegion("r1", types.ModeScheduled), ScheduleTrigger{ScheduleDateTime: now})
	require.NoError(t, err)
	assert.Equal(t, []string{"region=r1/job=job01/input/metadata.json"}, stager.keys)
	assert.Equal(t, "s3://inputs/region=r1/job=job01/input/metadata.json.zst", engine.specs[0].InputLocation)
}

func TestStartJob_SnapshotIsIndependentOfRegion(t *testing.T) {
	region := newRegion("r1", types.ModeScheduled)
	d := newDispatcher(&fakeEngine{}, &fakeJobStore{})

	jobs, err := d.StartJob(context.Background(), region, ScheduleTrigger{ScheduleDateTime: now})
	require.NoError(t, err)

	region.Attributes[0].Value[0] = '9'
	region.Name = "renamed"

	v, _ := jobs[0].State.Get("cloudCoverThreshold")
	assert.JSONEq(t, `20`, string(v))
	v, _ = jobs[0].State.Get("regionName")
	assert.JSONEq(t, `"Region r1"`, string(v))
}

func TestStartJob_InvalidRegionConfig(t *testing.T) {
	region := newRegion("r1", types.ModeScheduled)
	region.ProcessingConfig.Mode = "bogus"
	engine := &fakeEngine{}
	_, err := newDispatcher(engine, &fakeJobStore{}).StartJob(context.Background(), region, ScheduleTrigger{ScheduleDateTime: now})
	assert.True(t, types.IsCode(err, types.ErrCodeValidationProcessingMode))
	assert.Empty(t, engine.specs)
}

func TestOutputPrefix(t *testing.T) {
	assert.Equal(t, "region=r/job=j", OutputPrefix("r", "j", RegionWide))
	assert.Equal(t, "region=r/job=j/polygon=p", OutputPrefix("r", "j", "p"))
}
