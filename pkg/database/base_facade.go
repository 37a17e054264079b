package database

import (
	"gorm.io/gorm"

	"github.com/synthome-dev/synthome/pkg/sql"
)

// BaseFacade is the base structure for all Facades, providing DB access capability
type BaseFacade struct {
	db *gorm.DB // nil means using the default connection pool
}

// getDB retrieves the database connection backing this facade
func (f *BaseFacade) getDB() *gorm.DB {
	if f.db != nil {
		return f.db
	}
	return sql.GetDefaultDB()
}

// withDB returns a new base facade bound to an explicit connection
func (f *BaseFacade) withDB(db *gorm.DB) BaseFacade {
	return BaseFacade{db: db}
}
