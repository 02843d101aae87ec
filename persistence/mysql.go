package persistence

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// PrepareMysqlDatabase creates the database named in driverArgs when it does not exist yet.
func PrepareMysqlDatabase(driverArgs string) error {
	config, err := mysql.ParseDSN(driverArgs)
	if err != nil {
		return err
	}
	databaseName := config.DBName
	if databaseName == "" {
		return errors.New("database name is missing in " + driverArgs)
	}
	config.DBName = ""

	db, err := sql.Open("mysql", config.FormatDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec("CREATE DATABASE IF NOT EXISTS `" + databaseName + "` DEFAULT CHARACTER SET utf8mb4")
	return err
}
