// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/conveyor/lib/blobcodec"
	"github.com/bureau-foundation/conveyor/lib/codec"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/sqlitepool"
)

// migrations is the history schema. Append only: each entry runs once
// per database, in order.
var migrations = []string{
	`CREATE TABLE materials (
		id           INTEGER PRIMARY KEY,
		fingerprint  TEXT NOT NULL UNIQUE,
		kind         TEXT NOT NULL,
		display_name TEXT NOT NULL
	);
	CREATE TABLE modifications (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		material_id    INTEGER NOT NULL REFERENCES materials(id),
		revision       TEXT NOT NULL,
		username       TEXT NOT NULL DEFAULT '',
		email          TEXT NOT NULL DEFAULT '',
		comment        TEXT NOT NULL DEFAULT '',
		modified_time  INTEGER NOT NULL,
		pipeline_label TEXT NOT NULL DEFAULT '',
		files_tag      INTEGER NOT NULL DEFAULT 0,
		files_size     INTEGER NOT NULL DEFAULT 0,
		files          BLOB,
		UNIQUE (material_id, revision)
	);`,
}

// SQLiteStore is a Store persisted in a SQLite database. Changed-file
// lists are CBOR encoded and compressed with blobcodec; the tag and
// uncompressed size sit next to the blob.
type SQLiteStore struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// OpenSQLiteStore opens (creating if needed) the history database at
// path.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       path,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &SQLiteStore{pool: pool, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

const selectColumns = `m.id, m.revision, m.username, m.email, m.comment,
	m.modified_time, m.pipeline_label, m.files_tag, m.files_size, m.files`

func (s *SQLiteStore) LatestModification(ctx context.Context, m material.Material) (material.Modification, bool, error) {
	mods, err := s.query(ctx, `SELECT `+selectColumns+`
		FROM modifications m JOIN materials mat ON mat.id = m.material_id
		WHERE mat.fingerprint = ? ORDER BY m.id DESC LIMIT 1`, m.Fingerprint())
	if err != nil || len(mods) == 0 {
		return material.Modification{}, false, err
	}
	return mods[0], true, nil
}

func (s *SQLiteStore) ModificationsSince(ctx context.Context, m material.Material, revision string) (material.Modifications, error) {
	fingerprint := m.Fingerprint()
	var mods material.Modifications
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var anchor int64
		found := false
		err := sqlitex.Execute(conn, `SELECT m.id
			FROM modifications m JOIN materials mat ON mat.id = m.material_id
			WHERE mat.fingerprint = ? AND m.revision = ?`, &sqlitex.ExecOptions{
			Args: []any{fingerprint, revision},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				anchor = stmt.ColumnInt64(0)
				found = true
				return nil
			},
		})
		if err != nil {
			return err
		}

		if !found {
			mods, err = queryConn(conn, `SELECT `+selectColumns+`
				FROM modifications m JOIN materials mat ON mat.id = m.material_id
				WHERE mat.fingerprint = ? ORDER BY m.id DESC LIMIT 1`, fingerprint)
			return err
		}
		mods, err = queryConn(conn, `SELECT `+selectColumns+`
			FROM modifications m JOIN materials mat ON mat.id = m.material_id
			WHERE mat.fingerprint = ? AND m.id > ? ORDER BY m.id DESC`, fingerprint, anchor)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("history: modifications since %s for %s: %w", revision, m.DisplayName(), err)
	}
	return mods, nil
}

func (s *SQLiteStore) FindModification(ctx context.Context, m material.Material, revision string) (material.Modification, bool, error) {
	mods, err := s.query(ctx, `SELECT `+selectColumns+`
		FROM modifications m JOIN materials mat ON mat.id = m.material_id
		WHERE mat.fingerprint = ? AND m.revision = ?`, m.Fingerprint(), revision)
	if err != nil || len(mods) == 0 {
		return material.Modification{}, false, err
	}
	return mods[0], true, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, m material.Material, limit int) (material.Modifications, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `SELECT `+selectColumns+`
		FROM modifications m JOIN materials mat ON mat.id = m.material_id
		WHERE mat.fingerprint = ? ORDER BY m.id DESC LIMIT ?`, m.Fingerprint(), limit)
}

func (s *SQLiteStore) Record(ctx context.Context, m material.Material, mods material.Modifications) (material.Modifications, error) {
	if len(mods) == 0 {
		return nil, nil
	}
	var stored material.Modifications
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		materialID, err := s.ensureMaterial(conn, m)
		if err != nil {
			return err
		}

		var lookupErr error
		fresh := newRecords(mods, func(revision string) bool {
			exists := false
			err := sqlitex.Execute(conn, `SELECT 1 FROM modifications WHERE material_id = ? AND revision = ?`,
				&sqlitex.ExecOptions{
					Args: []any{materialID, revision},
					ResultFunc: func(*sqlite.Stmt) error {
						exists = true
						return nil
					},
				})
			if err != nil && lookupErr == nil {
				lookupErr = err
			}
			return exists
		})
		if lookupErr != nil {
			return lookupErr
		}

		for index := range fresh {
			id, err := insertModification(conn, materialID, fresh[index])
			if err != nil {
				return err
			}
			fresh[index].ID = id
		}
		stored = reversed(fresh)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: recording %d modifications for %s: %w", len(mods), m.DisplayName(), err)
	}
	if len(stored) > 0 {
		s.logger.Debug("recorded modifications",
			"fingerprint", m.Fingerprint(),
			"count", len(stored),
		)
	}
	return stored, nil
}

func (s *SQLiteStore) ensureMaterial(conn *sqlite.Conn, m material.Material) (int64, error) {
	err := sqlitex.Execute(conn, `INSERT INTO materials (fingerprint, kind, display_name)
		VALUES (?, ?, ?) ON CONFLICT (fingerprint) DO NOTHING`, &sqlitex.ExecOptions{
		Args: []any{m.Fingerprint(), string(m.Kind), m.DisplayName()},
	})
	if err != nil {
		return 0, err
	}
	var id int64
	err = sqlitex.Execute(conn, `SELECT id FROM materials WHERE fingerprint = ?`, &sqlitex.ExecOptions{
		Args: []any{m.Fingerprint()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			return nil
		},
	})
	return id, err
}

func insertModification(conn *sqlite.Conn, materialID int64, modification material.Modification) (int64, error) {
	var (
		tag    blobcodec.Tag
		packed any
		size   int
	)
	if len(modification.Files) > 0 {
		encoded, err := codec.Marshal(modification.Files)
		if err != nil {
			return 0, fmt.Errorf("encoding files of %s: %w", modification.Revision, err)
		}
		var blob []byte
		tag, blob, err = blobcodec.Pack(encoded)
		if err != nil {
			return 0, fmt.Errorf("compressing files of %s: %w", modification.Revision, err)
		}
		packed = blob
		size = len(encoded)
	}

	err := sqlitex.Execute(conn, `INSERT INTO modifications
		(material_id, revision, username, email, comment, modified_time,
		 pipeline_label, files_tag, files_size, files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			materialID,
			modification.Revision,
			modification.Username,
			modification.Email,
			modification.Comment,
			modification.ModifiedTime.UnixNano(),
			modification.PipelineLabel,
			int(tag),
			size,
			packed,
		},
	})
	if err != nil {
		return 0, err
	}
	return conn.LastInsertRowID(), nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) (material.Modifications, error) {
	var mods material.Modifications
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		mods, err = queryConn(conn, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return mods, nil
}

func queryConn(conn *sqlite.Conn, query string, args ...any) (material.Modifications, error) {
	var mods material.Modifications
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			modification, err := scanModification(stmt)
			if err != nil {
				return err
			}
			mods = append(mods, modification)
			return nil
		},
	})
	return mods, err
}

// scanModification reads a row selected with selectColumns.
func scanModification(stmt *sqlite.Stmt) (material.Modification, error) {
	modification := material.Modification{
		ID:            stmt.ColumnInt64(0),
		Revision:      stmt.ColumnText(1),
		Username:      stmt.ColumnText(2),
		Email:         stmt.ColumnText(3),
		Comment:       stmt.ColumnText(4),
		ModifiedTime:  time.Unix(0, stmt.ColumnInt64(5)).UTC(),
		PipelineLabel: stmt.ColumnText(6),
	}
	if stmt.ColumnIsNull(9) {
		return modification, nil
	}

	packed := make([]byte, stmt.ColumnLen(9))
	stmt.ColumnBytes(9, packed)
	encoded, err := blobcodec.Unpack(blobcodec.Tag(stmt.ColumnInt(7)), packed, stmt.ColumnInt(8))
	if err != nil {
		return material.Modification{}, fmt.Errorf("files of %s: %w", modification.Revision, err)
	}
	if err := codec.Unmarshal(encoded, &modification.Files); err != nil {
		return material.Modification{}, fmt.Errorf("decoding files of %s: %w", modification.Revision, err)
	}
	return modification, nil
}
