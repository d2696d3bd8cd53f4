package models

import (
	"github.com/mmdatafocus/supply_backend/config"
)

// MigrateTable runs gorm AutoMigrate for every table this service owns.
func MigrateTable() error {
	db := config.GetDB()
	return db.AutoMigrate(
		&Business{},
		&User{},
		&Project{},
		&ProjectMember{},
		&Equipment{},
		&SupplyRequest{},
		&SupplyRequestItem{},
		&Document{},
		&History{},
		&UserActivity{},
	)
}
