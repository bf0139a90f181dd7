// Package sqlite implements the storage seams on a SQLite database, the
// reference durable backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/ledger"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
	"github.com/louisbranch/weave/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/weave/internal/storage"
	"github.com/louisbranch/weave/internal/storage/sqlite/migrations"
)

// Store is a SQLite-backed storage.Store.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (and migrates) a SQLite store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database. Nil-safe so callers can defer it in
// all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// AppendPatch inserts a patch. Re-inserting an existing (graph, seq) pair is
// ignored, giving retrying callers at-least-once semantics.
func (s *Store) AppendPatch(ctx context.Context, p ledger.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if p.GraphID == "" || p.Seq == 0 {
		return apperrors.New(apperrors.CodePatchKindUnknown, "patch graph id and seq are required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO patches
  (graph_id, seq, timestamp, kind, subject, payload_json, patch_hash, prev_hash, chain_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.GraphID,
		int64(p.Seq),
		toMillis(p.Timestamp),
		string(p.Kind),
		string(p.Subject),
		string(p.PayloadJSON),
		p.Hash,
		p.PrevHash,
		p.ChainHash,
	)
	if err != nil {
		return fmt.Errorf("append patch: %w", err)
	}
	return nil
}

// ListPatches returns up to limit patches after afterSeq in sequence order.
// A non-positive limit returns the full suffix.
func (s *Store) ListPatches(ctx context.Context, graphID string, afterSeq uint64, limit int) ([]ledger.Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	query := `
SELECT graph_id, seq, timestamp, kind, subject, payload_json, patch_hash, prev_hash, chain_hash
FROM patches
WHERE graph_id = ? AND seq > ?
ORDER BY seq ASC`
	args := []any{graphID, int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	defer rows.Close()

	var out []ledger.Patch
	for rows.Next() {
		var p ledger.Patch
		var seq, millis int64
		var kind, subject, payload string
		if err := rows.Scan(&p.GraphID, &seq, &millis, &kind, &subject, &payload, &p.Hash, &p.PrevHash, &p.ChainHash); err != nil {
			return nil, fmt.Errorf("scan patch: %w", err)
		}
		p.Seq = uint64(seq)
		p.Timestamp = fromMillis(millis)
		p.Kind = ledger.Kind(kind)
		p.Subject = entity.UID(subject)
		p.PayloadJSON = []byte(payload)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patches: %w", err)
	}
	return out, nil
}

// LatestSeq returns the highest stored sequence for a graph, zero for an
// empty log.
func (s *Store) LatestSeq(ctx context.Context, graphID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var latest sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM patches WHERE graph_id = ?", graphID,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	if !latest.Valid {
		return 0, nil
	}
	return uint64(latest.Int64), nil
}

// PutSnapshot stores an export, replacing any previous one for the graph.
func (s *Store) PutSnapshot(ctx context.Context, export storage.Export) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	data, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO snapshots (graph_id, export_json, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (graph_id) DO UPDATE SET export_json = excluded.export_json, updated_at = excluded.updated_at`,
		export.GraphID,
		string(data),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored export for a graph.
func (s *Store) GetSnapshot(ctx context.Context, graphID string) (storage.Export, error) {
	if err := ctx.Err(); err != nil {
		return storage.Export{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Export{}, fmt.Errorf("storage is not configured")
	}
	var data string
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT export_json FROM snapshots WHERE graph_id = ?", graphID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return storage.Export{}, apperrors.WithMetadata(apperrors.CodeNotFound, "snapshot not found", map[string]string{
			"graph": graphID,
		})
	}
	if err != nil {
		return storage.Export{}, fmt.Errorf("get snapshot: %w", err)
	}
	var export storage.Export
	if err := json.Unmarshal([]byte(data), &export); err != nil {
		return storage.Export{}, fmt.Errorf("decode export: %w", err)
	}
	return export, nil
}
