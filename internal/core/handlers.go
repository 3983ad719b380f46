package core

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"regionwatch/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// HandleGetJob serves GET /v1/jobs/{jobId}.
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Jobs.GetByID(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: job})
}

// HandleListRegionJobs serves GET /v1/regions/{regionId}/jobs?limit=N, newest
// first.
func (s *Server) HandleListRegionJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidParam,
				"limit must be an integer between 1 and 500", err,
				map[string]any{"limit": raw}))
			return
		}
		limit = n
	}

	jobs, err := s.Jobs.ListByRegion(r.Context(), chi.URLParam(r, "regionId"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: jobs})
}

// HandleGetSchedule serves GET /v1/regions/{regionId}/schedule.
func (s *Server) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	regionID := chi.URLParam(r, "regionId")
	reg, err := s.Schedules.Get(r.Context(), regionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if reg == nil {
		Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeNotFoundSchedule,
			"region has no schedule registration", nil,
			map[string]any{"regionId": regionID}))
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: reg})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if types.CodeOf(err).HTTPStatus() >= http.StatusInternalServerError {
		s.Logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"request_id", types.GetRequestID(r.Context()),
			"error", err,
		)
	}
	Error(w, r, err)
}
