package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Open creates or opens the sqlite database under dataDir and applies
// the schema. The caller owns the handle and hands it to the store
// constructors; there is no package-level connection.
func Open(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trading.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS bots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			allocated REAL NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'stopped',
			last_error TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			side TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			quote_amount REAL NOT NULL,
			realized_pnl REAL,
			reason TEXT DEFAULT '',
			order_id INTEGER,
			FOREIGN KEY (bot_id) REFERENCES bots(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_trades_bot ON trades(bot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(bot_id, timestamp DESC)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
