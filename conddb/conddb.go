// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb gives access to the database of ETROC test stands:
// the readout boards plugged on each setup and their chip identities.
package conddb // import "github.com/go-lpc/etroc/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-lpc/etroc/tdc"
	_ "github.com/go-sql-driver/mysql"
)

var (
	drvName = "mysql"
)

// DB exposes convenience methods to retrieve test stand descriptions
// from the ETROC database.
type DB struct {
	db   *sql.DB
	name string // name of the ETROC database
}

// Open opens a connection to the ETROC database dbname.
//
// Credentials are read from the ETROC_DB_USER, ETROC_DB_PASS and
// ETROC_DB_HOST environment variables.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	var (
		usr  = getenv("ETROC_DB_USER", "etroc")
		pwd  = getenv("ETROC_DB_PASS", "")
		host = getenv("ETROC_DB_HOST", "localhost:3306")
	)
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastSetup returns the name of the most recently registered setup.
func (db *DB) LastSetup(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	setup := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM setups ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return setup, fmt.Errorf("conddb: could not query last setup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&setup)
		if err != nil {
			return setup, fmt.Errorf("conddb: could not get setup name: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return setup, fmt.Errorf("conddb: could not scan db for last setup: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return setup, fmt.Errorf("conddb: context error while retrieving last setup: %w", err)
	}

	return setup, nil
}

// Boards returns the boards of a setup, indexed by readout channel.
func (db *DB) Boards(ctx context.Context, setup string) ([]tdc.Board, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT boards.slot, boards.name, boards.chip, boards.size, boards.chipid FROM boards
JOIN setups ON setups.identifier=boards.setup
WHERE setups.name=?
ORDER BY boards.slot
`,
		setup,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not run boards query: %w", err)
	}
	defer rows.Close()

	var boards []tdc.Board
	for rows.Next() {
		var (
			slot  int
			board tdc.Board
		)
		err = rows.Scan(&slot, &board.Name, &board.Type, &board.Size, &board.ID)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not scan board %d of setup %q: %w", len(boards), setup, err)
		}
		if slot != len(boards) {
			return nil, fmt.Errorf(
				"conddb: invalid slot for board %q of setup %q (got=%d, want=%d)",
				board.Name, setup, slot, len(boards),
			)
		}
		boards = append(boards, board)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conddb: could not scan db for boards: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("conddb: context error while retrieving boards: %w", err)
	}

	if len(boards) == 0 {
		return nil, fmt.Errorf("conddb: no board for setup %q", setup)
	}
	if len(boards) > tdc.NumChannels {
		return nil, fmt.Errorf(
			"conddb: too many boards for setup %q (got=%d, max=%d)",
			setup, len(boards), tdc.NumChannels,
		)
	}

	return boards, nil
}
