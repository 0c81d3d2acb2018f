// Package db opens and migrates the sqlite database backing session storage.
package db

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/retinalab/gazecap/internal/monitoring"
)

// DB wraps the sql.DB handle for the session store.
type DB struct {
	*sql.DB

	path string
}

// Open opens (creating if needed) the sqlite database at path and brings the
// schema to the current version. Use ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	// pragmas ride on the DSN so every pooled connection gets them
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", path)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{DB: sqldb, path: path}
	if err := db.Migrate(); err != nil {
		sqldb.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the filesystem path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// AttachAdminRoutes mounts debug endpoints on mux: a tailsql live-SQL
// console over the session store, served under /debug/. These routes are for
// localhost/operator access only.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB(fmt.Sprintf("sqlite://%s", db.path), db.DB, &tailsql.DBOptions{
		Label: "Gaze session DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-version", "Current schema migration version", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version, dirty, err := db.MigrateVersion()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read version: %v", err), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "version=%d dirty=%v\n", version, dirty)
	}))

	monitoring.Logf("db: admin routes attached")
	return nil
}
