// Package auth provides read-only access to the Antigravity desktop app's
// own SQLite state database, used to pick up the API key for accounts
// imported from an already-signed-in desktop install (account source
// "database") instead of going through the OAuth refresh-token flow.
package auth

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"

	_ "modernc.org/sqlite"
)

// AuthStatusData is the shape of the antigravityAuthStatus value stored in
// the desktop app's ItemTable.
type AuthStatusData struct {
	APIKey string `json:"apiKey"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// GetAuthStatus reads the desktop app's current auth status from its SQLite
// database. An empty dbPath falls back to config.AntigravityDBPath.
func GetAuthStatus(dbPath string) (*AuthStatusData, error) {
	if dbPath == "" {
		dbPath = config.AntigravityDBPath
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found at %s; make sure Antigravity is installed and you are logged in", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM ItemTable WHERE key = 'antigravityAuthStatus'").Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no auth status found in database")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
	}

	var authData AuthStatusData
	if err := json.Unmarshal([]byte(value), &authData); err != nil {
		return nil, fmt.Errorf("failed to parse auth data: %w", err)
	}
	if authData.APIKey == "" {
		return nil, fmt.Errorf("auth data missing apiKey field")
	}

	return &authData, nil
}

// IsDatabaseAccessible reports whether the desktop app's database exists and
// can be opened and pinged.
func IsDatabaseAccessible(dbPath string) bool {
	if dbPath == "" {
		dbPath = config.AntigravityDBPath
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		utils.Debug("[Database] Failed to open: %v", err)
		return false
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		utils.Debug("[Database] Failed to ping: %v", err)
		return false
	}

	return true
}
