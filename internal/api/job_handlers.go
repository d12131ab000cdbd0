package api

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/jobmonitor"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

type jobRequest struct {
	// Kind defaults to batch when urls is set and crawl otherwise.
	Kind  string   `json:"kind" validate:"omitempty,oneof=crawl batch"`
	URL   string   `json:"url" validate:"omitempty,target"`
	URLs  []string `json:"urls" validate:"omitempty,dive,target"`
	Limit int      `json:"limit" validate:"gte=0"`
}

func (req jobRequest) spec() (tracker.JobSpec, error) {
	kind := tracker.JobKind(req.Kind)
	if kind == "" {
		kind = tracker.JobKindCrawl
		if len(req.URLs) > 0 {
			kind = tracker.JobKindBatch
		}
	}
	spec := tracker.JobSpec{Kind: kind, URL: req.URL, URLs: req.URLs, Limit: req.Limit}
	if len(spec.Seeds()) == 0 {
		return tracker.JobSpec{}, errors.New("url or urls is required")
	}
	return spec, nil
}

type jobDTO struct {
	JobID           string            `json:"job_id"`
	Status          tracker.JobStatus `json:"status"`
	Total           int               `json:"total"`
	Completed       int               `json:"completed"`
	Failed          int               `json:"failed"`
	CreditsUsed     int               `json:"credits_used"`
	PercentComplete float64           `json:"percent_complete"`
	ElapsedSeconds  float64           `json:"elapsed_seconds"`
	Documents       int               `json:"documents"`
	Watching        bool              `json:"watching"`
}

// submitJob handles POST /v1/jobs. The job is watched in the background until
// it is terminal or the server shuts down; the response carries only its ID.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec, err := req.spec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.jobs.Submit(r.Context(), spec)
	if err != nil {
		s.logger.Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to submit job")
		return
	}
	s.watchInBackground(jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) watchInBackground(jobID string) {
	log := s.logger.With(zap.String("job_id", jobID))
	handlers := jobmonitor.Handlers{
		Error: jobmonitor.ErrorHandlerFunc(func(_ context.Context, info jobmonitor.JobError) error {
			log.Warn("job error", zap.String("status", string(info.Status)), zap.String("message", info.Message))
			return nil
		}),
	}
	s.watches.Add(1)
	go func() {
		defer s.watches.Done()
		result, err := s.jobs.Watch(s.watchCtx, jobID, handlers, 0)
		s.results.Add(jobID, result)
		if err != nil {
			log.Info("job watch stopped", zap.Error(err))
			return
		}
		log.Info("job finished", zap.Bool("success", result.Success), zap.Int("documents", len(result.Documents)))
	}()
}

// listJobs handles GET /v1/jobs and returns the progress of every watched job.
func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	ids := s.jobs.Active()
	slices.Sort(ids)
	jobs := make([]jobDTO, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.jobs.Progress(id); ok {
			jobs = append(jobs, s.progressDTO(p, true))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// getJob handles GET /v1/jobs/{job_id}. Live progress is preferred, then the
// final result of a finished watch, then a one-off status query.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if p, ok := s.jobs.Progress(jobID); ok {
		writeJSON(w, http.StatusOK, map[string]any{"job": s.progressDTO(p, true)})
		return
	}
	if res, ok := s.results.Get(jobID); ok {
		writeJSON(w, http.StatusOK, map[string]any{"job": resultDTO(res)})
		return
	}
	if s.statuses == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	report, err := s.statuses.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, tracker.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job status failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load job status")
		return
	}
	p := jobmonitor.NewProgress(jobID, 0, s.clock.Now())
	p.Apply(report)
	writeJSON(w, http.StatusOK, map[string]any{"job": s.progressDTO(*p, false)})
}

// cancelJob handles DELETE /v1/jobs/{job_id}. A background watch sees the
// cancelled status on its next poll and stops.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	canceler, ok := s.statuses.(tracker.JobCanceler)
	if !ok {
		writeError(w, http.StatusNotImplemented, "job cancellation is not supported")
		return
	}
	if err := canceler.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, tracker.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("cancel job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to cancel job")
		return
	}
	s.logger.Info("job cancelled", zap.String("job_id", jobID))
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(tracker.JobStatusCancelled)})
}

func (s *Server) progressDTO(p jobmonitor.Progress, watching bool) jobDTO {
	return jobDTO{
		JobID:           p.JobID,
		Status:          p.Status,
		Total:           p.Total,
		Completed:       p.Completed,
		Failed:          p.Failed,
		CreditsUsed:     p.CostUsed,
		PercentComplete: p.PercentComplete(),
		ElapsedSeconds:  p.Elapsed(s.clock.Now()).Seconds(),
		Documents:       len(p.Documents),
		Watching:        watching,
	}
}

func resultDTO(res tracker.JobResult) jobDTO {
	dto := jobDTO{
		JobID:          res.JobID,
		Status:         res.Status,
		Total:          res.Total,
		Completed:      res.Completed,
		Failed:         res.Failed,
		CreditsUsed:    res.CostUsed,
		ElapsedSeconds: res.Elapsed.Seconds(),
		Documents:      len(res.Documents),
	}
	if res.Total > 0 {
		dto.PercentComplete = float64(res.Completed) / float64(res.Total) * 100
	}
	return dto
}
