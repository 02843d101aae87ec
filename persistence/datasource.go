package persistence

import (
	"context"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/sirupsen/logrus"
	otgorm "github.com/smacker/opentracing-gorm"
)

var ActiveDataSourceManager *DataSourceManager

type DataSourceManager struct {
	gormDB *gorm.DB

	DatabaseConfig *DatabaseConfig
}

func (m *DataSourceManager) Start() error {
	db, err := connect(m.DatabaseConfig)
	if err != nil {
		return err
	}
	otgorm.AddGormCallbacks(db)
	m.gormDB = db
	m.gormDB.LogMode(m.DatabaseConfig.LogSQL)
	return nil
}

func (m *DataSourceManager) Stop() {
	if m.gormDB != nil {
		if err := m.gormDB.Close(); err != nil {
			logrus.Warnf("failed to close DB: %v", err)
		}
		m.gormDB = nil
	}
}

func (m *DataSourceManager) GormDB() *gorm.DB {
	if m.gormDB != nil {
		return m.gormDB.New()
	}
	return nil
}

// GormDBWithContext attaches the span found in ctx, so every statement is traced as its child.
func (m *DataSourceManager) GormDBWithContext(ctx context.Context) *gorm.DB {
	db := m.GormDB()
	if db == nil || ctx == nil {
		return db
	}
	return otgorm.SetSpanToGorm(ctx, db)
}

func connect(config *DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(config.DriverType, config.DriverArgs)
	if err != nil {
		return nil, err
	}
	if config.DriverType == "sqlite3" {
		// sqlite allows a single writer, one connection avoids "database is locked"
		db.DB().SetMaxOpenConns(1)
	}
	err = db.DB().Ping()
	if err != nil {
		return nil, err
	}
	return db, nil
}

// LockForUpdate adds a row lock to the next query where the dialect supports it.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialect().GetName() == "mysql" {
		return tx.Set("gorm:query_option", "FOR UPDATE")
	}
	return tx
}
