package db

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Init opens the database for the given store driver and checks it answers.
func Init(driver, uri string) (*sql.DB, error) {
	var name string
	switch driver {
	case "postgres":
		name = "pgx"
	case "sqlite":
		name = "sqlite"
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища: %s", driver)
	}
	conn, err := sql.Open(name, uri)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func Migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sheet_rows (
			sheet TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			cells TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS sheet_rows_sheet_idx ON sheet_rows (sheet, row_index);`)
	if err != nil {
		return err
	}
	return nil
}
