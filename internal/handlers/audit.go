package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soleforge/soleforge-backend/internal/platform/logger"
	"github.com/soleforge/soleforge-backend/internal/requestdata"
	"github.com/soleforge/soleforge-backend/internal/services"
)

type AuditHandler struct {
	log   *logger.Logger
	audit services.AuditLog
}

func NewAuditHandler(baseLog *logger.Logger, audit services.AuditLog) *AuditHandler {
	return &AuditHandler{
		log:   baseLog.With("handler", "AuditHandler"),
		audit: audit,
	}
}

func (h *AuditHandler) ListByGeneration(c *gin.Context) {
	generationID, err := uuid.Parse(c.Param("generationId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	actions, err := h.audit.ListByGeneration(c.Request.Context(), generationID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, actions)
}

func (h *AuditHandler) ListMine(c *gin.Context) {
	actions, err := h.audit.ListByUser(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, actions)
}
