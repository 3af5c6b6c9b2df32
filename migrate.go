package sync_sdk

import (
	"log"

	model "github.com/cydxin/sync-sdk/models"
)

func (c *SyncEngine) AutoMigrate() error {
	db := c.config.DB
	if db == nil {
		return nil
	}
	log.Println("AutoMigrate...")
	return db.AutoMigrate(
		&model.Event{},
		&model.PresenceSession{},
	)
}
