// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinestate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/conveyor/lib/blobcodec"
	"github.com/bureau-foundation/conveyor/lib/buildcause"
	"github.com/bureau-foundation/conveyor/lib/sqlitepool"
)

var migrations = []string{
	`CREATE TABLE causes (
		pipeline   TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		cause_tag  INTEGER NOT NULL,
		cause_size INTEGER NOT NULL,
		cause      BLOB NOT NULL
	);
	CREATE TABLE instances (
		id         TEXT PRIMARY KEY,
		pipeline   TEXT NOT NULL,
		counter    INTEGER NOT NULL,
		label      TEXT NOT NULL,
		trigger    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		cause_tag  INTEGER NOT NULL,
		cause_size INTEGER NOT NULL,
		cause      BLOB NOT NULL,
		UNIQUE (pipeline, counter)
	);
	CREATE TABLE built_modifications (
		pipeline        TEXT NOT NULL,
		fingerprint     TEXT NOT NULL,
		modification_id INTEGER NOT NULL,
		PRIMARY KEY (pipeline, fingerprint)
	);
	CREATE TABLE pauses (
		pipeline  TEXT PRIMARY KEY,
		paused_by TEXT NOT NULL,
		reason    TEXT NOT NULL DEFAULT '',
		paused_at INTEGER NOT NULL
	);`,
}

// SQLiteStore is a Store persisted in SQLite. Build causes are stored
// as compressed CBOR blobs.
type SQLiteStore struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// OpenSQLiteStore opens (creating if needed) the state database at
// path.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, Migrations: migrations, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("pipelinestate: %w", err)
	}
	return &SQLiteStore{pool: pool, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func (s *SQLiteStore) LastCause(ctx context.Context, pipeline string) (*buildcause.BuildCause, int64, error) {
	var (
		cause   *buildcause.BuildCause
		version int64
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT version, cause_tag, cause_size, cause FROM causes WHERE pipeline = ?`,
			&sqlitex.ExecOptions{
				Args: []any{pipeline},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					version = stmt.ColumnInt64(0)
					var err error
					cause, err = scanCause(stmt, 1)
					return err
				},
			})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("pipelinestate: last cause of %s: %w", pipeline, err)
	}
	return cause, version, nil
}

func (s *SQLiteStore) ReplaceCause(ctx context.Context, pipeline string, expected int64, cause *buildcause.BuildCause) (int64, error) {
	tag, packed, size, err := packCause(cause)
	if err != nil {
		return 0, fmt.Errorf("pipelinestate: %w", err)
	}

	var next int64
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		var current int64
		err := sqlitex.Execute(conn, `SELECT version FROM causes WHERE pipeline = ?`, &sqlitex.ExecOptions{
			Args: []any{pipeline},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				current = stmt.ColumnInt64(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if current != expected {
			return fmt.Errorf("%w: pipeline %s at version %d, expected %d", ErrVersionConflict, pipeline, current, expected)
		}
		next = current + 1
		return sqlitex.Execute(conn, `INSERT INTO causes (pipeline, version, cause_tag, cause_size, cause)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (pipeline) DO UPDATE SET
				version = excluded.version,
				cause_tag = excluded.cause_tag,
				cause_size = excluded.cause_size,
				cause = excluded.cause`, &sqlitex.ExecOptions{
			Args: []any{pipeline, next, int(tag), size, packed},
		})
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *SQLiteStore) CreateInstance(ctx context.Context, request InstanceRequest) (Instance, error) {
	tag, packed, size, err := packCause(request.Cause)
	if err != nil {
		return Instance{}, fmt.Errorf("pipelinestate: %w", err)
	}

	instance := Instance{
		ID:        request.ID,
		Pipeline:  request.Pipeline,
		Cause:     request.Cause.Clone(),
		CreatedAt: request.CreatedAt,
	}
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `SELECT COALESCE(MAX(counter), 0) + 1 FROM instances WHERE pipeline = ?`,
			&sqlitex.ExecOptions{
				Args: []any{request.Pipeline},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					instance.Counter = stmt.ColumnInt64(0)
					return nil
				},
			})
		if err != nil {
			return err
		}
		if request.Label != nil {
			instance.Label = request.Label(instance.Counter)
		}

		err = sqlitex.Execute(conn, `INSERT INTO instances
			(id, pipeline, counter, label, trigger, created_at, cause_tag, cause_size, cause)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				instance.ID,
				instance.Pipeline,
				instance.Counter,
				instance.Label,
				string(request.Cause.Trigger),
				instance.CreatedAt.UnixNano(),
				int(tag),
				size,
				packed,
			},
		})
		if err != nil {
			return err
		}

		for fingerprint, id := range builtIDs(request.Cause) {
			err := sqlitex.Execute(conn, `INSERT INTO built_modifications (pipeline, fingerprint, modification_id)
				VALUES (?, ?, ?)
				ON CONFLICT (pipeline, fingerprint) DO UPDATE SET
					modification_id = MAX(modification_id, excluded.modification_id)`, &sqlitex.ExecOptions{
				Args: []any{request.Pipeline, fingerprint, id},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Instance{}, fmt.Errorf("pipelinestate: creating instance of %s: %w", request.Pipeline, err)
	}
	return instance, nil
}

const instanceColumns = `id, pipeline, counter, label, created_at, cause_tag, cause_size, cause`

func (s *SQLiteStore) LatestInstance(ctx context.Context, pipeline string) (Instance, error) {
	instances, err := s.Instances(ctx, pipeline, 1)
	if err != nil {
		return Instance{}, err
	}
	if len(instances) == 0 {
		return Instance{}, fmt.Errorf("%w: no instances of %s", ErrNotFound, pipeline)
	}
	return instances[0], nil
}

func (s *SQLiteStore) Instances(ctx context.Context, pipeline string, limit int) ([]Instance, error) {
	if limit <= 0 {
		limit = -1
	}
	var instances []Instance
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+instanceColumns+` FROM instances
			WHERE pipeline = ? ORDER BY counter DESC LIMIT ?`, &sqlitex.ExecOptions{
			Args: []any{pipeline, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				cause, err := scanCause(stmt, 5)
				if err != nil {
					return err
				}
				instances = append(instances, Instance{
					ID:        stmt.ColumnText(0),
					Pipeline:  stmt.ColumnText(1),
					Counter:   stmt.ColumnInt64(2),
					Label:     stmt.ColumnText(3),
					CreatedAt: time.Unix(0, stmt.ColumnInt64(4)).UTC(),
					Cause:     cause,
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("pipelinestate: instances of %s: %w", pipeline, err)
	}
	return instances, nil
}

func (s *SQLiteStore) BuiltModificationIDs(ctx context.Context, pipeline string) (map[string]int64, error) {
	ids := make(map[string]int64)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT fingerprint, modification_id FROM built_modifications WHERE pipeline = ?`,
			&sqlitex.ExecOptions{
				Args: []any{pipeline},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					ids[stmt.ColumnText(0)] = stmt.ColumnInt64(1)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("pipelinestate: built modifications of %s: %w", pipeline, err)
	}
	return ids, nil
}

func (s *SQLiteStore) Pause(ctx context.Context, pause Pause) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO pauses (pipeline, paused_by, reason, paused_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (pipeline) DO UPDATE SET
				paused_by = excluded.paused_by,
				reason = excluded.reason,
				paused_at = excluded.paused_at`, &sqlitex.ExecOptions{
			Args: []any{pause.Pipeline, pause.By, pause.Reason, pause.At.UnixNano()},
		})
	})
	if err != nil {
		return fmt.Errorf("pipelinestate: pausing %s: %w", pause.Pipeline, err)
	}
	return nil
}

func (s *SQLiteStore) Unpause(ctx context.Context, pipeline string) (bool, error) {
	var existed bool
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM pauses WHERE pipeline = ?`, &sqlitex.ExecOptions{
			Args: []any{pipeline},
		}); err != nil {
			return err
		}
		existed = conn.Changes() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("pipelinestate: unpausing %s: %w", pipeline, err)
	}
	return existed, nil
}

func (s *SQLiteStore) PauseState(ctx context.Context, pipeline string) (Pause, error) {
	pauses, err := s.queryPauses(ctx, `WHERE pipeline = ?`, pipeline)
	if err != nil {
		return Pause{}, err
	}
	if len(pauses) == 0 {
		return Pause{}, fmt.Errorf("%w: %s is not paused", ErrNotFound, pipeline)
	}
	return pauses[0], nil
}

func (s *SQLiteStore) Pauses(ctx context.Context) ([]Pause, error) {
	return s.queryPauses(ctx, ``)
}

func (s *SQLiteStore) queryPauses(ctx context.Context, where string, args ...any) ([]Pause, error) {
	var pauses []Pause
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT pipeline, paused_by, reason, paused_at FROM pauses `+where+` ORDER BY pipeline`,
			&sqlitex.ExecOptions{
				Args: args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					pauses = append(pauses, Pause{
						Pipeline: stmt.ColumnText(0),
						By:       stmt.ColumnText(1),
						Reason:   stmt.ColumnText(2),
						At:       time.Unix(0, stmt.ColumnInt64(3)).UTC(),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("pipelinestate: pauses: %w", err)
	}
	return pauses, nil
}

// scanCause reads tag, size, and blob columns starting at column.
func scanCause(stmt *sqlite.Stmt, column int) (*buildcause.BuildCause, error) {
	packed := make([]byte, stmt.ColumnLen(column+2))
	stmt.ColumnBytes(column+2, packed)
	return unpackCause(blobcodec.Tag(stmt.ColumnInt(column)), packed, stmt.ColumnInt(column+1))
}
