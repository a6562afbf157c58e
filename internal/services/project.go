package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

// ProjectService owns project lifecycle and ownership checks. Design
// history itself lives in GenerationGraph.
type ProjectService interface {
	Create(ctx context.Context, ownerID uuid.UUID, name string) (*domain.Project, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Project, error)
	// GetOwned returns the project only when the caller owns it.
	GetOwned(ctx context.Context, projectID, ownerID uuid.UUID) (*domain.Project, error)
}

type projectService struct {
	log      *logger.Logger
	projects repos.ProjectRepo
}

func NewProjectService(baseLog *logger.Logger, projects repos.ProjectRepo) ProjectService {
	return &projectService{
		log:      baseLog.With("service", "ProjectService"),
		projects: projects,
	}
}

func (s *projectService) Create(ctx context.Context, ownerID uuid.UUID, name string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", apierr.ErrValidation)
	}
	now := time.Now().UTC()
	project := &domain.Project{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.projects.Create(dbctx.New(ctx), []*domain.Project{project}); err != nil {
		return nil, err
	}
	s.log.Info("Project created", "project_id", project.ID, "owner_id", ownerID)
	return project, nil
}

func (s *projectService) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Project, error) {
	return s.projects.GetByOwnerID(dbctx.New(ctx), ownerID)
}

func (s *projectService) GetOwned(ctx context.Context, projectID, ownerID uuid.UUID) (*domain.Project, error) {
	project, err := s.projects.GetByID(dbctx.New(ctx), projectID)
	if err != nil {
		return nil, err
	}
	if project == nil || project.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: project %s", apierr.ErrNotFound, projectID)
	}
	return project, nil
}
