package commands

import (
	"database/sql"

	"github.com/teranos/cronctl/am"
	"github.com/teranos/cronctl/db"
	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/logger"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it loads from am config.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := am.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		dbPath = path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.AddDBSymbol(logger.ComponentLogger("db")))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
