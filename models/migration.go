package models

import (
	"log"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates every table the sync service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SyncRun{}, &SyncRecordError{}, &ContinuationTask{},
		&SocCredential{},
		&Company{}, &Employee{}, &Absenteeism{},
	)
}

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}
