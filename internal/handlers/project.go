package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soleforge/soleforge-backend/internal/platform/logger"
	"github.com/soleforge/soleforge-backend/internal/requestdata"
	"github.com/soleforge/soleforge-backend/internal/services"
)

type ProjectHandler struct {
	log      *logger.Logger
	projects services.ProjectService
}

func NewProjectHandler(baseLog *logger.Logger, projects services.ProjectService) *ProjectHandler {
	return &ProjectHandler{
		log:      baseLog.With("handler", "ProjectHandler"),
		projects: projects,
	}
}

type createProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *ProjectHandler) Create(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	project, err := h.projects.Create(c.Request.Context(), requestdata.UserID(c.Request.Context()), req.Name)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, project)
}

func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.projects.ListByOwner(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, projects)
}

func (h *ProjectHandler) Get(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	project, err := h.projects.GetOwned(c.Request.Context(), projectID, requestdata.UserID(c.Request.Context()))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, project)
}
