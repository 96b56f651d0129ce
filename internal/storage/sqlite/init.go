package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// Status table names, one per product family.
const (
	TableADGS  = "adgs_download_status"
	TableCADIP = "cadip_download_status"
)

// InitDB opens the SQLite database and creates the status tables if they
// don't exist. The busy timeout covers writers racing across connections of
// the shared pool.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	for _, table := range []string{TableADGS, TableCADIP} {
		_, err = db.Exec(`CREATE TABLE IF NOT EXISTS ` + table + ` (
			db_id INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL UNIQUE,
			available_at_station DATETIME,
			download_start DATETIME,
			download_stop DATETIME,
			status TEXT NOT NULL DEFAULT 'NOT_STARTED',
			status_fail_message TEXT
		)`)
		if err != nil {
			return nil, err
		}
	}

	return db, nil
}
