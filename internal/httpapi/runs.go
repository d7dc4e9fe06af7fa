package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/coordinator"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// optionsFromRequest parses the optional processOptionsRequest body,
// defaulting every toggle to enabled when omitted or unparseable — a
// missing/invalid body must never block a trigger (§6: shapes, not
// transport strictness).
func optionsFromRequest(c *gin.Context) coordinator.Options {
	var req processOptionsRequest
	_ = c.ShouldBindJSON(&req)
	return coordinator.Options{
		OptimizationEnabled:     boolOr(req.OptimizationEnabled, true),
		EarlyDuplicateDetection: boolOr(req.EarlyDuplicateDetection, true),
		MetricsCollection:       boolOr(req.MetricsCollection, true),
	}
}

// runAsync kicks off ProcessSource on a detached context (the triggering
// HTTP request completes at 202, long before the pipeline does) and logs
// its terminal result, matching pkg/api/handlers.go's CreateAlert
// "enqueue, 200 immediately, stream the rest over the background goroutine"
// idiom — here the background work reports to the run row instead of a
// websocket.
func (s *Server) runAsync(sourceID, runID string, opts coordinator.Options) {
	go func() {
		result := s.runner.ProcessSource(context.Background(), sourceID, runID, opts)
		if result.Status == domain.RunStatusFailed {
			s.log.Warn("triggered run failed", "run_id", runID, "source_id", sourceID, "failed_stage", result.FailedStage, "error", result.Err)
			return
		}
		s.log.Info("triggered run completed", "run_id", runID, "source_id", sourceID, "opportunities_processed", result.TotalOpportunitiesProcessed)
	}()
}

// triggerSourceProcess handles POST /sources/:id/process.
func (s *Server) triggerSourceProcess(c *gin.Context) {
	sourceID := c.Param("id")
	if _, err := s.store.GetSource(c.Request.Context(), sourceID); err != nil {
		respondStoreError(c, err)
		return
	}

	runID := uuid.NewString()
	s.runAsync(sourceID, runID, optionsFromRequest(c))
	c.JSON(http.StatusAccepted, processAcceptedBody{Status: "accepted", RunID: runID})
}

// triggerNextDue handles POST /process: pick the active source whose
// last_checked_at is oldest (never-checked sources sort first) and run it
// synchronously, returning §7's structured error body on failure (unlike
// /sources/:id/process, which enqueues and returns 202 immediately).
func (s *Server) triggerNextDue(c *gin.Context) {
	ctx := c.Request.Context()
	sources, err := s.store.ListActiveSources(ctx)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if len(sources) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "idle", "message": "no active sources due for processing"})
		return
	}

	next := sources[0]
	for _, src := range sources[1:] {
		if isDueBefore(src, next) {
			next = src
		}
	}

	result := s.runner.ProcessSource(ctx, next.ID, "", optionsFromRequest(c))
	if result.Status == domain.RunStatusFailed {
		c.JSON(http.StatusUnprocessableEntity, processErrorBody{
			Status: "error", Pipeline: domain.PipelineVersion,
			Error: result.Err.Error(), FailedStage: string(result.FailedStage), RunID: result.RunID,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "completed", "run_id": result.RunID,
		"source_id": next.ID, "opportunities_processed": result.TotalOpportunitiesProcessed,
	})
}

func isDueBefore(a, b domain.Source) bool {
	if a.LastCheckedAt == nil {
		return b.LastCheckedAt != nil || a.ID < b.ID
	}
	if b.LastCheckedAt == nil {
		return false
	}
	return a.LastCheckedAt.Before(*b.LastCheckedAt)
}

// getRun handles GET /runs/:id, assembling the run, its stages, its
// opportunity paths, and its duplicate-detection session (§6).
func (s *Server) getRun(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	stages, err := s.store.ListStagesByRun(ctx, runID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	paths, err := s.store.ListOpportunityPathsByRun(ctx, runID)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	detail := runDetail{Run: run, Stages: stages, Paths: paths}
	session, err := s.store.GetDuplicateDetectionSessionByRun(ctx, runID)
	if err == nil {
		detail.DetectionSession = &session
	} else if !errors.Is(err, domain.ErrNotFound) {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// getRawResponse handles GET /raw-responses/:id.
func (s *Server) getRawResponse(c *gin.Context) {
	payload, err := s.store.GetRawResponse(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}
