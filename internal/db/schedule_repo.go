package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"regionwatch/internal/types"
)

// ScheduleRegistrationRepository records which regions currently own a
// recurring trigger and with which expression.
type ScheduleRegistrationRepository struct {
	db DBTX
}

// NewScheduleRegistrationRepository creates a repository backed by the given
// connection.
func NewScheduleRegistrationRepository(db DBTX) *ScheduleRegistrationRepository {
	return &ScheduleRegistrationRepository{db: db}
}

// Get returns the registration for a region, or (nil, nil) if none exists.
func (r *ScheduleRegistrationRepository) Get(ctx context.Context, regionID string) (*types.ScheduleRegistration, error) {
	var reg types.ScheduleRegistration
	err := r.db.QueryRow(ctx,
		`SELECT region_id, trigger_name, expression, timezone, created_at, updated_at
		 FROM schedule_registrations
		 WHERE region_id = $1`,
		regionID,
	).Scan(
		&reg.RegionID,
		&reg.TriggerName,
		&reg.Expression,
		&reg.Timezone,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get schedule registration", err)
	}
	return &reg, nil
}

// Upsert inserts or replaces a registration. created_at is preserved on update.
func (r *ScheduleRegistrationRepository) Upsert(ctx context.Context, reg *types.ScheduleRegistration) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO schedule_registrations (region_id, trigger_name, expression, timezone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (region_id) DO UPDATE
		   SET trigger_name = EXCLUDED.trigger_name,
		       expression = EXCLUDED.expression,
		       timezone = EXCLUDED.timezone,
		       updated_at = EXCLUDED.updated_at`,
		reg.RegionID,
		reg.TriggerName,
		reg.Expression,
		reg.Timezone,
		reg.CreatedAt,
		reg.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert schedule registration", err)
	}
	return nil
}

// Delete removes a region's registration. Deleting a missing row is not an
// error.
func (r *ScheduleRegistrationRepository) Delete(ctx context.Context, regionID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM schedule_registrations WHERE region_id = $1`,
		regionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete schedule registration", err)
	}
	return nil
}

// List returns every registration ordered by region, for reconciliation.
func (r *ScheduleRegistrationRepository) List(ctx context.Context) ([]types.ScheduleRegistration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT region_id, trigger_name, expression, timezone, created_at, updated_at
		 FROM schedule_registrations
		 ORDER BY region_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list schedule registrations", err)
	}
	defer rows.Close()

	regs := make([]types.ScheduleRegistration, 0)
	for rows.Next() {
		var reg types.ScheduleRegistration
		if err := rows.Scan(
			&reg.RegionID,
			&reg.TriggerName,
			&reg.Expression,
			&reg.Timezone,
			&reg.CreatedAt,
			&reg.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule registration", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate schedule registrations", err)
	}
	return regs, nil
}
