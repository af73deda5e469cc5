// Package discover reads the Antigravity desktop app's local SQLite
// state database to recover an already-authenticated identity, as an
// alternative to pasting a composite refresh secret by hand.
package discover

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
)

// AuthStatus is the JSON blob Antigravity stores under the
// antigravityAuthStatus key in its ItemTable.
type AuthStatus struct {
	APIKey string `json:"apiKey"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ReadAuthStatus opens the Antigravity state database read-only and
// extracts the stored auth status. dbPath defaults to
// config.AntigravityDBPath() when empty.
func ReadAuthStatus(dbPath string) (*AuthStatus, error) {
	if dbPath == "" {
		dbPath = config.AntigravityDBPath()
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("antigravity database not found at %s; make sure Antigravity is installed and you are signed in", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM ItemTable WHERE key = 'antigravityAuthStatus'").Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no auth status found in Antigravity database; sign in to Antigravity first")
	}
	if err != nil {
		return nil, fmt.Errorf("query database: %w", err)
	}

	var status AuthStatus
	if err := json.Unmarshal([]byte(value), &status); err != nil {
		return nil, fmt.Errorf("parse auth status: %w", err)
	}
	if status.APIKey == "" {
		return nil, fmt.Errorf("auth status missing apiKey field")
	}
	return &status, nil
}

// IsAccessible reports whether the database exists and can be opened,
// without requiring it to hold a valid auth status.
func IsAccessible(dbPath string) bool {
	if dbPath == "" {
		dbPath = config.AntigravityDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false
	}
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return false
	}
	defer db.Close()
	return db.Ping() == nil
}
