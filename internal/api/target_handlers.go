package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

const (
	maxHistoryLimit  = 500
	maxSnapshotLimit = tracker.MaxSnapshots
)

type trackRequest struct {
	URL string `json:"url" validate:"required,target"`
	// IntervalSeconds of zero checks the target on every cycle.
	IntervalSeconds *int64 `json:"interval_seconds" validate:"omitempty,gte=0"`
}

type checkRequest struct {
	URL   string `json:"url" validate:"omitempty,target"`
	Force bool   `json:"force"`
}

type targetDTO struct {
	URL                  string     `json:"url"`
	CheckIntervalSeconds int64      `json:"check_interval"`
	LastChecked          *time.Time `json:"last_checked,omitempty"`
	LastFingerprint      string     `json:"last_hash,omitempty"`
	LastContentLength    int        `json:"last_content_length"`
	ChangeCount          int        `json:"change_count"`
	Snapshots            int        `json:"snapshots"`
}

// listTargets handles GET /v1/targets and returns {"urls": [...]}.
func (s *Server) listTargets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"urls": s.targets.List()})
}

// trackTarget handles POST /v1/targets. Tracking an already tracked URL returns
// its current state unchanged.
func (s *Server) trackTarget(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	interval := s.cfg.DefaultInterval
	if req.IntervalSeconds != nil {
		interval = time.Duration(*req.IntervalSeconds) * time.Second
	}
	target, err := s.targets.Track(r.Context(), req.URL, interval)
	if err != nil {
		s.writeTargetError(w, "track", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"target": toTargetDTO(target)})
}

// untrackTarget handles DELETE /v1/targets?url=.
func (s *Server) untrackTarget(w http.ResponseWriter, r *http.Request) {
	url, ok := requireURLParam(w, r)
	if !ok {
		return
	}
	removed, err := s.targets.Untrack(r.Context(), url)
	if err != nil {
		s.writeTargetError(w, "untrack", err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "target not tracked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "removed": true})
}

// checkTargets handles POST /v1/targets/check. With a url it checks one target
// and returns {"changed", "change"}; without one it runs a full cycle and
// returns the cycle report.
func (s *Server) checkTargets(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.URL == "" {
		writeJSON(w, http.StatusOK, s.targets.CheckAll(r.Context(), req.Force))
		return
	}
	change, err := s.targets.Check(r.Context(), req.URL, req.Force)
	if err != nil {
		s.writeTargetError(w, "check", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":     req.URL,
		"changed": change != nil,
		"change":  change,
	})
}

// targetHistory handles GET /v1/targets/history?url=&limit=.
func (s *Server) targetHistory(w http.ResponseWriter, r *http.Request) {
	url, ok := s.requireTracked(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r, tracker.DefaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":     url,
		"changes": s.targets.History(url, limit),
	})
}

// targetSnapshots handles GET /v1/targets/snapshots?url=&limit=.
func (s *Server) targetSnapshots(w http.ResponseWriter, r *http.Request) {
	url, ok := s.requireTracked(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r, tracker.MaxSnapshots, maxSnapshotLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"snapshots": s.targets.Snapshots(url, limit),
	})
}

// targetStats handles GET /v1/targets/stats.
func (s *Server) targetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.targets.Stats())
}

func (s *Server) requireTracked(w http.ResponseWriter, r *http.Request) (string, bool) {
	url, ok := requireURLParam(w, r)
	if !ok {
		return "", false
	}
	if !slices.Contains(s.targets.List(), url) {
		writeError(w, http.StatusNotFound, "target not tracked")
		return "", false
	}
	return url, true
}

func (s *Server) writeTargetError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, tracker.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrNotTracked):
		writeError(w, http.StatusNotFound, "target not tracked")
	default:
		s.logger.Error(op+" target failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+op+" target")
	}
}

func requireURLParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return "", false
	}
	return url, true
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func toTargetDTO(t tracker.TrackedTarget) targetDTO {
	return targetDTO{
		URL:                  t.URL,
		CheckIntervalSeconds: int64(t.CheckInterval / time.Second),
		LastChecked:          t.LastChecked,
		LastFingerprint:      t.LastFingerprint,
		LastContentLength:    t.LastContentLength,
		ChangeCount:          t.ChangeCount,
		Snapshots:            len(t.Snapshots),
	}
}
