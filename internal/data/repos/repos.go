package repos

import (
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

// Repos bundles every repository for wiring in main.
type Repos struct {
	Users              UserRepo
	UserTokens         UserTokenRepo
	Projects           ProjectRepo
	Generations        GenerationRepo
	SpecSnapshots      SpecSnapshotRepo
	DraftConfirmations DraftConfirmationRepo
	GeometryAssets     GeometryAssetRepo
	BuildJobs          BuildJobRepo
	MergeRecords       MergeRecordRepo
	AIActions          AIActionRepo
}

func New(db *gorm.DB, baseLog *logger.Logger) *Repos {
	return &Repos{
		Users:              NewUserRepo(db, baseLog),
		UserTokens:         NewUserTokenRepo(db, baseLog),
		Projects:           NewProjectRepo(db, baseLog),
		Generations:        NewGenerationRepo(db, baseLog),
		SpecSnapshots:      NewSpecSnapshotRepo(db, baseLog),
		DraftConfirmations: NewDraftConfirmationRepo(db, baseLog),
		GeometryAssets:     NewGeometryAssetRepo(db, baseLog),
		BuildJobs:          NewBuildJobRepo(db, baseLog),
		MergeRecords:       NewMergeRecordRepo(db, baseLog),
		AIActions:          NewAIActionRepo(db, baseLog),
	}
}
