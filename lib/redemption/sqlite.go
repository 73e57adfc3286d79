// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package redemption

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/freenet/ghostkey/lib/clock"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS redemptions (
	authorization_id TEXT PRIMARY KEY NOT NULL,
	claimed_at       TEXT NOT NULL
) WITHOUT ROWID;
`

// SQLiteConfig configures a SQLite ledger.
type SQLiteConfig struct {
	Path   string
	Clock  clock.Clock
	Logger *slog.Logger
}

// SQLite is a durable Ledger. The primary key on authorization_id
// makes a claim atomic even across processes.
type SQLite struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// OpenSQLite opens (creating if needed) the ledger database.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, errkind.New(errkind.IO, "open redemption ledger", err)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Schema: schema,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, errkind.New(errkind.IO, "open redemption ledger", err)
	}
	return &SQLite{pool: pool, clock: clock.OrReal(cfg.Clock)}, nil
}

func (s *SQLite) Claim(ctx context.Context, authorizationID string) error {
	if err := checkID(authorizationID); err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errkind.New(errkind.IO, "claim authorization", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO redemptions (authorization_id, claimed_at) VALUES (?, ?)
		 ON CONFLICT (authorization_id) DO NOTHING`,
		&sqlitex.ExecOptions{
			Args: []any{authorizationID, s.clock.Now().UTC().Format(time.RFC3339Nano)},
		})
	if err != nil {
		return errkind.New(errkind.IO, "claim authorization", err)
	}
	if conn.Changes() == 0 {
		return alreadyClaimed()
	}
	return nil
}

func (s *SQLite) Claimed(ctx context.Context, authorizationID string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, errkind.New(errkind.IO, "lookup authorization", err)
	}
	defer s.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn,
		`SELECT 1 FROM redemptions WHERE authorization_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{authorizationID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	if err != nil {
		return false, errkind.New(errkind.IO, "lookup authorization", err)
	}
	return found, nil
}

// Count returns the number of claimed authorizations.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, errkind.New(errkind.IO, "count redemptions", err)
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM redemptions`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, errkind.New(errkind.IO, "count redemptions", err)
	}
	return count, nil
}

// Close closes the database.
func (s *SQLite) Close() error { return s.pool.Close() }
