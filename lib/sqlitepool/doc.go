// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the SQLite connection pool shared by the
// conveyor stores.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies the same
// pragmas to every connection: WAL journaling, NORMAL synchronous,
// a five second busy timeout, and an in-memory temp store. Schemas are
// versioned with PRAGMA user_version: [Config.Migrations] lists the
// scripts in order and Open applies those the database has not seen,
// each in its own IMMEDIATE transaction.
//
// Stores either Take/Put connections directly or use the [Pool.Read]
// and [Pool.Write] helpers:
//
//	err := pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT INTO t (v) VALUES (?)",
//	        &sqlitex.ExecOptions{Args: []any{value}})
//	})
//
// Connections are not safe for concurrent use; each goroutine holds
// its own for the duration of its work.
package sqlitepool
