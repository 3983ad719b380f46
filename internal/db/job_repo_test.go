package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"regionwatch/internal/types"
)

// scanJobRow returns a scan function that writes a job row in jobColumns order.
func scanJobRow(id, handle, status string, reason *string) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "r1"
		*dest[2].(*string) = "g1"
		*dest[3].(*string) = ""
		*dest[4].(*string) = "schedule"
		*dest[5].(*string) = "2026-03-01T12:00:00Z"
		*dest[6].(*time.Time) = testTime
		*dest[7].(*string) = "region=r1/job=" + id
		*dest[8].(*types.Snapshot) = types.Snapshot{{Key: "regionId", Value: json.RawMessage(`"r1"`)}}
		*dest[9].(*string) = "standard"
		*dest[10].(*string) = status
		*dest[11].(*string) = handle
		*dest[12].(**string) = reason
		*dest[13].(**time.Time) = nil
		*dest[14].(*time.Time) = testTime
		*dest[15].(*time.Time) = testTime
		return nil
	}
}

func TestJobRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	job := &types.Job{
		ID:               "j1",
		RegionID:         "r1",
		GroupID:          "g1",
		TriggerKind:      types.TriggerKindSchedule,
		TriggerKey:       "2026-03-01T12:00:00Z",
		ScheduleDateTime: testTime,
		OutputPrefix:     "region=r1/job=j1",
		Priority:         types.PriorityStandard,
		Status:           types.JobStatusSubmitted,
		EngineHandle:     "h1",
		CreatedAt:        testTime,
		UpdatedAt:        testTime,
	}

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "INSERT INTO jobs")
	}), mock.MatchedBy(func(args []any) bool {
		return len(args) == 15 && args[0] == "j1" && args[11] == "h1" && args[10] == "submitted" && args[12] == (*string)(nil)
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Create(context.Background(), job))
	db.AssertExpectations(t)
}

func TestJobRepository_Create_RequiresHandle(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	err := repo.Create(context.Background(), &types.Job{ID: "j1"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeValidationMissingField))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestJobRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("duplicate key"))

	err := repo.Create(context.Background(), &types.Job{ID: "j1", EngineHandle: "h1"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestJobRepository_GetByHandle_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	reason := "exit code 1"
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "WHERE engine_handle = $1")
	}), []any{"h1"}).Return(&mockRow{scanFn: scanJobRow("j1", "h1", "failed", &reason)})

	job, err := repo.GetByHandle(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, types.TriggerKindSchedule, job.TriggerKind)
	assert.Equal(t, types.PriorityStandard, job.Priority)
	assert.Equal(t, "exit code 1", job.StatusReason)
	assert.Nil(t, job.NotifiedAt)
	assert.Equal(t, []string{"regionId"}, job.State.Keys())
}

func TestJobRepository_GetByHandle_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	job, err := repo.GetByHandle(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobRepository_GetByHandle_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	_, err := repo.GetByHandle(context.Background(), "h1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, []any{"missing"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUnknownJob))
}

func TestJobRepository_CompareAndSetStatus(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"row updated", "UPDATE 1", true},
		{"status moved on", "UPDATE 0", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewJobRepository(db)

			db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
				return assert.Contains(t, sql, "WHERE id = $1 AND status = $2") &&
					assert.NotContains(t, sql, "engine_handle")
			}), []any{"j1", "submitted", "running", "", testTime}).
				Return(pgconn.NewCommandTag(tc.tag), nil)

			ok, err := repo.CompareAndSetStatus(context.Background(), "j1", types.JobStatusSubmitted, types.JobStatusRunning, "", testTime)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
			db.AssertExpectations(t)
		})
	}
}

func TestJobRepository_CompareAndSetStatus_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("timeout"))

	ok, err := repo.CompareAndSetStatus(context.Background(), "j1", types.JobStatusRunning, types.JobStatusFailed, "boom", testTime)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestJobRepository_MarkNotified_AlreadyMarked(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "notified_at IS NULL")
	}), []any{"j1", testTime}).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	require.NoError(t, repo.MarkNotified(context.Background(), "j1", testTime))
}

func TestJobRepository_ListByRegion(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	rows := newMockRows(
		scanJobRow("j2", "h2", "running", nil),
		scanJobRow("j1", "h1", "succeeded", nil),
	)
	db.On("Query", mock.Anything, mock.Anything, []any{"r1", 100}).Return(rows, nil)

	jobs, err := repo.ListByRegion(context.Background(), "r1", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j2", jobs[0].ID)
	assert.Equal(t, types.JobStatusSucceeded, jobs[1].Status)
	assert.True(t, rows.closed)
}

func TestJobRepository_ListTriggerPolygons(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	scanID := func(id string) func(dest ...any) error {
		return func(dest ...any) error {
			*dest[0].(*string) = id
			return nil
		}
	}
	db.On("Query", mock.Anything, mock.Anything, []any{"r1", "scene", "S1"}).
		Return(newMockRows(scanID("p1"), scanID("p3")), nil)

	ids, err := repo.ListTriggerPolygons(context.Background(), "r1", types.TriggerKindScene, "S1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3"}, ids)
}

func TestJobRepository_ListTriggerPolygons_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newMockRows(), nil)

	ids, err := repo.ListTriggerPolygons(context.Background(), "r1", types.TriggerKindScene, "S1")
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestJobRepository_ListTriggerPolygons_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	_, err := repo.ListTriggerPolygons(context.Background(), "r1", types.TriggerKindScene, "S1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestJobRepository_ListActiveBefore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	cutoff := testTime.Add(-20 * time.Minute)
	rows := newMockRows(scanJobRow("j1", "h1", "running", nil))
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "status IN ('submitted', 'running')")
	}), []any{cutoff, 50}).Return(rows, nil)

	jobs, err := repo.ListActiveBefore(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobStatusRunning, jobs[0].Status)
	assert.True(t, rows.closed)
}
