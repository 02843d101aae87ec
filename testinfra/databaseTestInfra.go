package testinfra

import (
	"flowdesk/migration"
	"flowdesk/persistence"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
)

type TestDatabase struct {
	TestDatabaseName string
	DS               *persistence.DataSourceManager
}

// StartTestDatabase starts an isolated, migrated database. It is an in-memory SQLite
// database unless TEST_MYSQL_SERVICE is set.
func StartTestDatabase(baseName string) *TestDatabase {
	var testDatabase *TestDatabase
	if os.Getenv("TEST_MYSQL_SERVICE") != "" {
		testDatabase = StartMysqlTestDatabase(baseName)
	} else {
		testDatabase = StartSqliteTestDatabase(baseName)
	}
	if err := migration.Migrate(testDatabase.DS.GormDB()); err != nil {
		StopTestDatabase(testDatabase)
		log.Fatalf("database migration failed %v\n", err)
	}
	return testDatabase
}

func StartSqliteTestDatabase(baseName string) *TestDatabase {
	databaseName := baseName + "_test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	dbConfig := &persistence.DatabaseConfig{
		DriverType: "sqlite3", DriverArgs: "file:" + databaseName + "?mode=memory&cache=shared",
	}
	ds := &persistence.DataSourceManager{DatabaseConfig: dbConfig}
	if err := ds.Start(); err != nil {
		defer ds.Stop()
		log.Fatalf("database conneciton failed %v\n", err)
	}
	return &TestDatabase{TestDatabaseName: databaseName, DS: ds}
}

// StartMysqlTestDatabase TEST_MYSQL_SERVICE=root:root@(127.0.0.1:3306)
func StartMysqlTestDatabase(baseName string) *TestDatabase {
	mysqlSvc := os.Getenv("TEST_MYSQL_SERVICE")
	if mysqlSvc == "" {
		mysqlSvc = "root:root@(127.0.0.1:3306)"
	}
	databaseName := baseName + "_test_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	dbConfig := &persistence.DatabaseConfig{
		DriverType: "mysql", DriverArgs: mysqlSvc + "/" + databaseName + "?charset=utf8mb4&parseTime=True&loc=Local&timeout=5s",
	}

	// create database (no conflict)
	if err := persistence.PrepareMysqlDatabase(dbConfig.DriverArgs); err != nil {
		log.Fatalf("failed to prepare database %v\n", err)
	}

	ds := &persistence.DataSourceManager{DatabaseConfig: dbConfig}
	if err := ds.Start(); err != nil {
		defer ds.Stop()
		log.Fatalf("database conneciton failed %v\n", err)
	}

	return &TestDatabase{TestDatabaseName: databaseName, DS: ds}
}

func StopTestDatabase(testDatabase *TestDatabase) {
	if testDatabase == nil || testDatabase.DS == nil {
		return
	}
	if testDatabase.DS.DatabaseConfig.DriverType == "mysql" && testDatabase.DS.GormDB() != nil {
		if err := testDatabase.DS.GormDB().Exec("DROP DATABASE " + testDatabase.TestDatabaseName).Error; err != nil {
			log.Println("failed to drop test database: " + testDatabase.TestDatabaseName)
		} else {
			log.Println("test database " + testDatabase.TestDatabaseName + " dropped")
		}
	}
	// an in-memory sqlite database disappears with its last connection
	testDatabase.DS.Stop()
}
