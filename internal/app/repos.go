package app

import (
	"gorm.io/gorm"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/repos"
)

type Repos struct {
	DreamEntries  repos.DreamEntryRepo
	ReportRecords repos.ReportRecordRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		DreamEntries:  repos.NewDreamEntryRepo(db, log),
		ReportRecords: repos.NewReportRecordRepo(db, log),
	}
}
