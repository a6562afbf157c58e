package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/envutil"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := envutil.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := envutil.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := envutil.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := envutil.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := envutil.GetEnv("POSTGRES_NAME", "soleforge", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrate(s.db); err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}
	s.log.Info("Applying lineage constraints...")
	if err := ApplyConstraints(s.db); err != nil {
		s.log.Error("Applying lineage constraints failed", "error", err)
		return err
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&domain.User{},
		&domain.UserToken{},
		&domain.Project{},
		&domain.Generation{},
		&domain.SpecSnapshot{},
		&domain.DraftConfirmation{},
		&domain.GeometryAsset{},
		&domain.GeometryBuildJob{},
		&domain.MergeRecord{},
		&domain.AIAction{},
	)
}

// ApplyConstraints adds the invariants the store must enforce beyond what
// AutoMigrate expresses: at most one active generation per project, a
// closed source enum, and a closed AI mode enum.
func ApplyConstraints(gdb *gorm.DB) error {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_single_active
		   ON "generation"("project_id") WHERE "is_active"`,
		`ALTER TABLE "generation" DROP CONSTRAINT IF EXISTS generation_source_check`,
		`ALTER TABLE "generation" ADD CONSTRAINT generation_source_check
		   CHECK (source IN ('generate','regenerate','import','ai_merge','ai_draft','factory_feedback','merge'))`,
		`ALTER TABLE "ai_action" DROP CONSTRAINT IF EXISTS ai_action_mode_check`,
		`ALTER TABLE "ai_action" ADD CONSTRAINT ai_action_mode_check
		   CHECK (mode IN ('resolve','draft','merge'))`,
	}
	for _, stmt := range stmts {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply constraint: %w", err)
		}
	}
	return nil
}
