package live

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
)

// Session is the browser session of the request being served.
// Session data persists across page loads of the same browser.
type Session struct {
	ctx     context.Context
	manager *scs.SessionManager
}

func (s *Session) ok() bool {
	return s.manager != nil && s.ctx != nil
}

// GetString retrieves a string value from the session.
func (s *Session) GetString(key string) string {
	if !s.ok() {
		return ""
	}
	return s.manager.GetString(s.ctx, key)
}

// GetInt retrieves an int value from the session.
func (s *Session) GetInt(key string) int {
	if !s.ok() {
		return 0
	}
	return s.manager.GetInt(s.ctx, key)
}

// Set stores a value in the session.
func (s *Session) Set(key string, val any) {
	if !s.ok() {
		return
	}
	s.manager.Put(s.ctx, key, val)
}

// Delete removes a value from the session.
func (s *Session) Delete(key string) {
	if !s.ok() {
		return
	}
	s.manager.Remove(s.ctx, key)
}

// Exists reports whether key is present in the session.
func (s *Session) Exists(key string) bool {
	if !s.ok() {
		return false
	}
	return s.manager.Exists(s.ctx, key)
}

// ID returns the session token (cookie value).
func (s *Session) ID() string {
	if !s.ok() {
		return ""
	}
	return s.manager.Token(s.ctx)
}

const sessionsSchema = `CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	expiry REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry);`

// NewSQLiteSessionManager returns a session manager backed by the sessions
// table in db, creating the table if needed. Expired rows are swept every
// five minutes.
func NewSQLiteSessionManager(db *sql.DB) (*scs.SessionManager, error) {
	if _, err := db.Exec(sessionsSchema); err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	sm := scs.New()
	sm.Store = sqlite3store.NewWithCleanupInterval(db, 5*time.Minute)
	sm.Lifetime = 24 * time.Hour
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	return sm, nil
}
