package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/data/repos"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/http/response"
	"github.com/studyforge/studyforge-backend/internal/services"
)

type JobHandler struct {
	scheduler services.Scheduler
}

func NewJobHandler(scheduler services.Scheduler) *JobHandler {
	return &JobHandler{scheduler: scheduler}
}

type createJobRequest struct {
	DocumentID string                 `json:"document_id" binding:"required"`
	JobType    string                 `json:"job_type" binding:"required"`
	Outline    []domain.OutlineLesson `json:"outline" binding:"required"`
	BatchSize  int                    `json:"batch_size"`
	Start      bool                   `json:"start"`
}

// POST /api/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	documentID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	jobType, err := domain.ParseJobType(req.JobType)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_type", err)
		return
	}

	job, err := h.scheduler.CreateJob(c.Request.Context(), documentID, jobType, req.Outline, req.BatchSize)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "create_job_failed", err)
		return
	}
	if req.Start {
		if err := h.scheduler.StartJob(c.Request.Context(), job.ID); err != nil {
			response.RespondError(c, http.StatusBadRequest, "start_job_failed", err)
			return
		}
		job, err = h.scheduler.GetJob(c.Request.Context(), job.ID)
		if err != nil {
			response.RespondError(c, http.StatusInternalServerError, "get_job_failed", err)
			return
		}
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.scheduler.GetJob(c.Request.Context(), jobID)
	if err != nil {
		response.RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.scheduler.GetAllJobs(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_jobs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// POST /api/jobs/:id/start
func (h *JobHandler) StartJob(c *gin.Context) {
	h.transition(c, h.scheduler.StartJob, "start_job_failed")
}

type pauseJobRequest struct {
	Reason string `json:"reason"`
}

// POST /api/jobs/:id/pause
func (h *JobHandler) PauseJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	var req pauseJobRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.scheduler.PauseJob(c.Request.Context(), jobID, req.Reason); err != nil {
		response.RespondError(c, statusFor(err), "pause_job_failed", err)
		return
	}
	job, err := h.scheduler.GetJob(c.Request.Context(), jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "get_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:id/resume
func (h *JobHandler) ResumeJob(c *gin.Context) {
	h.transition(c, h.scheduler.ResumeJob, "resume_job_failed")
}

// POST /api/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	h.transition(c, h.scheduler.CancelJob, "cancel_job_failed")
}

// POST /api/jobs/:id/restart
func (h *JobHandler) RestartJob(c *gin.Context) {
	h.transition(c, h.scheduler.RestartJob, "restart_job_failed")
}

func (h *JobHandler) transition(c *gin.Context, op func(ctx context.Context, id uuid.UUID) error, code string) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	if err := op(c.Request.Context(), jobID); err != nil {
		response.RespondError(c, statusFor(err), code, err)
		return
	}
	job, err := h.scheduler.GetJob(c.Request.Context(), jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "get_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// statusFor maps state machine violations to 409 and everything else to 400.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, repos.ErrJobNotFound) {
		return http.StatusNotFound
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "is already") || strings.Contains(msg, ", not ") {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
