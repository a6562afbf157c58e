package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
	"github.com/soleforge/soleforge-backend/internal/requestdata"
	"github.com/soleforge/soleforge-backend/internal/services"
)

type GenerationHandler struct {
	log      *logger.Logger
	projects services.ProjectService
	graph    services.GenerationGraph
	gate     services.OptionGate
	merge    services.MergeEngine
	cache    services.GeometryCache
}

func NewGenerationHandler(
	baseLog *logger.Logger,
	projects services.ProjectService,
	graph services.GenerationGraph,
	gate services.OptionGate,
	merge services.MergeEngine,
	cache services.GeometryCache,
) *GenerationHandler {
	return &GenerationHandler{
		log:      baseLog.With("handler", "GenerationHandler"),
		projects: projects,
		graph:    graph,
		gate:     gate,
		merge:    merge,
		cache:    cache,
	}
}

// requireProject resolves the :projectId param and enforces ownership.
func (h *GenerationHandler) requireProject(c *gin.Context) (uuid.UUID, bool) {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return uuid.Nil, false
	}
	if _, err := h.projects.GetOwned(c.Request.Context(), projectID, requestdata.UserID(c.Request.Context())); err != nil {
		RespondServiceError(c, err)
		return uuid.Nil, false
	}
	return projectID, true
}

type generateRequest struct {
	Parents         []uuid.UUID                 `json:"parents"`
	Instrumental    domain.InstrumentalSpec     `json:"instrumental_specs" binding:"required"`
	NonInstrumental *domain.NonInstrumentalSpec `json:"non_instrumental_specs"`
	Source          string                      `json:"source"`
	Policy          string                      `json:"missing_field_policy" binding:"required"`
}

// Generate runs a generation request through the option gate: the policy
// decides what happens to unset appearance fields before anything is
// persisted.
func (h *GenerationHandler) Generate(c *gin.Context) {
	projectID, ok := h.requireProject(c)
	if !ok {
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	source := req.Source
	if source == "" {
		source = domain.SourceGenerate
	}
	var nonInstrumental domain.NonInstrumentalSpec
	if req.NonInstrumental != nil {
		nonInstrumental = *req.NonInstrumental
	}
	result, err := h.gate.Resolve(c.Request.Context(), services.ResolveInput{
		ProjectID:       projectID,
		Parents:         req.Parents,
		Instrumental:    req.Instrumental,
		NonInstrumental: nonInstrumental,
		Source:          source,
		Policy:          services.GatePolicy(req.Policy),
		Actor:           requestdata.UserID(c.Request.Context()),
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, gin.H{
		"generation":     result.Generation,
		"applied_fields": result.AppliedFields,
	})
}

type importRequest struct {
	Instrumental    domain.InstrumentalSpec     `json:"instrumental_specs" binding:"required"`
	NonInstrumental *domain.NonInstrumentalSpec `json:"non_instrumental_specs"`
}

// Import creates a parentless generation from an externally authored spec.
func (h *GenerationHandler) Import(c *gin.Context) {
	projectID, ok := h.requireProject(c)
	if !ok {
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	gen, err := h.graph.Create(c.Request.Context(), services.CreateGenerationInput{
		ProjectID:       projectID,
		Instrumental:    req.Instrumental,
		NonInstrumental: req.NonInstrumental,
		Source:          domain.SourceImport,
		CreatedBy:       requestdata.UserID(c.Request.Context()),
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, gen)
}

type factoryFeedbackRequest struct {
	ParentID        uuid.UUID                   `json:"parent_id" binding:"required"`
	Instrumental    domain.InstrumentalSpec     `json:"instrumental_specs" binding:"required"`
	NonInstrumental *domain.NonInstrumentalSpec `json:"non_instrumental_specs"`
}

// FactoryFeedback records a manufacturing correction as a child of the
// generation that went to the factory.
func (h *GenerationHandler) FactoryFeedback(c *gin.Context) {
	projectID, ok := h.requireProject(c)
	if !ok {
		return
	}
	var req factoryFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	gen, err := h.graph.Create(c.Request.Context(), services.CreateGenerationInput{
		ProjectID:       projectID,
		Parents:         []uuid.UUID{req.ParentID},
		Instrumental:    req.Instrumental,
		NonInstrumental: req.NonInstrumental,
		Source:          domain.SourceFactoryFeedback,
		CreatedBy:       requestdata.UserID(c.Request.Context()),
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, gen)
}

func (h *GenerationHandler) List(c *gin.Context) {
	projectID, ok := h.requireProject(c)
	if !ok {
		return
	}
	gens, err := h.graph.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gens)
}

func (h *GenerationHandler) requireGeneration(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	projectID, ok := h.requireProject(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	generationID, err := uuid.Parse(c.Param("generationId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return uuid.Nil, uuid.Nil, false
	}
	return projectID, generationID, true
}

func (h *GenerationHandler) Lineage(c *gin.Context) {
	_, generationID, ok := h.requireGeneration(c)
	if !ok {
		return
	}
	lineage, err := h.graph.Lineage(c.Request.Context(), generationID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, lineage)
}

func (h *GenerationHandler) SetActive(c *gin.Context) {
	projectID, generationID, ok := h.requireGeneration(c)
	if !ok {
		return
	}
	if err := h.graph.SwitchActive(c.Request.Context(), projectID, generationID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "active", "generation_id": generationID})
}

func (h *GenerationHandler) ConfirmDraft(c *gin.Context) {
	_, generationID, ok := h.requireGeneration(c)
	if !ok {
		return
	}
	if err := h.graph.ConfirmDraft(c.Request.Context(), generationID, requestdata.UserID(c.Request.Context())); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "confirmed", "generation_id": generationID})
}

type mergeRequest struct {
	ParentA          uuid.UUID                      `json:"parent_a" binding:"required"`
	ParentB          uuid.UUID                      `json:"parent_b" binding:"required"`
	FieldResolutions map[string]services.ParentPick `json:"field_resolutions"`
	AIProposed       bool                           `json:"ai_proposed"`
}

func (h *GenerationHandler) Merge(c *gin.Context) {
	projectID, ok := h.requireProject(c)
	if !ok {
		return
	}
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	gen, err := h.merge.Merge(c.Request.Context(), services.MergeInput{
		ProjectID:        projectID,
		ParentA:          req.ParentA,
		ParentB:          req.ParentB,
		FieldResolutions: req.FieldResolutions,
		Actor:            requestdata.UserID(c.Request.Context()),
		AIProposed:       req.AIProposed,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, gen)
}

// EnsureGeometry builds (or dedup-reuses) the geometry for a generation
// synchronously.
func (h *GenerationHandler) EnsureGeometry(c *gin.Context) {
	_, generationID, ok := h.requireGeneration(c)
	if !ok {
		return
	}
	asset, err := h.cache.EnsureGeometry(c.Request.Context(), generationID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, asset)
}

func (h *GenerationHandler) EnqueueBuild(c *gin.Context) {
	_, generationID, ok := h.requireGeneration(c)
	if !ok {
		return
	}
	job, err := h.cache.EnqueueBuild(c.Request.Context(), generationID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, job)
}

func (h *GenerationHandler) BuildStatus(c *gin.Context) {
	if _, ok := h.requireProject(c); !ok {
		return
	}
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	job, err := h.cache.GetBuildStatus(c.Request.Context(), jobID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, job)
}

func (h *GenerationHandler) CancelBuild(c *gin.Context) {
	if _, ok := h.requireProject(c); !ok {
		return
	}
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.cache.CancelBuild(c.Request.Context(), jobID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "cancelled", "job_id": jobID})
}
