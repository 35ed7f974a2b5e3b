package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/services"
)

type JobHandler struct {
	svc services.JobService
}

func NewJobHandler(svc services.JobService) *JobHandler {
	return &JobHandler{svc: svc}
}

// POST /api/conversions
func (h *JobHandler) Submit(c *gin.Context) {
	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	view, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

// GET /api/conversions/:id
func (h *JobHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("invalid conversion id"))
		return
	}

	view, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	RespondOK(c, view)
}

// POST /api/conversions/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("invalid conversion id"))
		return
	}

	view, err := h.svc.RequestCancel(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	RespondOK(c, view)
}

func respondDomainError(c *gin.Context, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("conversion not found"))
		return
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		RespondError(c, http.StatusBadRequest, string(domain.KindValidation), err)
	case domain.KindStorageFailure:
		RespondError(c, http.StatusServiceUnavailable, string(domain.KindStorageFailure), err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
