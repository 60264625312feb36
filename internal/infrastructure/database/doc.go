// Package database manages the SQLite connection for CTHz Fleet Core.
//
// It wraps database/sql with WAL-mode setup, a single-writer connection
// pool suited to SQLite, embedded schema migrations, and health checks.
// Repositories in the domain packages receive the *sql.DB and own their
// queries; this package owns lifecycle only.
package database
