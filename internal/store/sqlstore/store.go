// Package sqlstore keeps the source of truth in a SQLite database.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentstation/utc"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/fetch"
	"github.com/agentstation/taxonsync/pkg/logging"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed entity store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WrapResource("open", "store", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.WrapResource("open", "store", path, err)
	}

	// SQLite has a single writer; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		schemaSQL,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.WrapResource("migrate", "store", path, err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ListPage implements fetch.Source. Entities are paged in internal id order.
func (s *Store) ListPage(ctx context.Context, kind catalog.Kind, cursor fetch.Cursor) (fetch.Page, error) {
	size := cursor.PageSize
	if size <= 0 {
		size = constants.DefaultPageSize
	}
	page := max(cursor.Page, 1)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE kind = ?`, kind).Scan(&total); err != nil {
		return fetch.Page{}, s.failed(ctx, "count", kind, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT internal_id, natural_key, attributes, updated_at
		FROM entities WHERE kind = ?
		ORDER BY internal_id
		LIMIT ? OFFSET ?`, kind, size, (page-1)*size)
	if err != nil {
		return fetch.Page{}, s.failed(ctx, "list", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var items []catalog.Entity
	for rows.Next() {
		e := catalog.Entity{Kind: kind}
		var attrs, updated string
		if err := rows.Scan(&e.InternalID, &e.NaturalKey, &attrs, &updated); err != nil {
			return fetch.Page{}, s.failed(ctx, "scan", kind, err)
		}
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			return fetch.Page{}, errors.WrapParse("json", "entities.attributes", err)
		}
		if e.UpdatedAt, err = parseTime(updated); err != nil {
			return fetch.Page{}, errors.WrapParse("time", "entities.updated_at", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return fetch.Page{}, s.failed(ctx, "list", kind, err)
	}

	if err := s.loadRefs(ctx, kind, items); err != nil {
		return fetch.Page{}, err
	}
	return fetch.Page{
		Items:       items,
		TotalPages:  (total + size - 1) / size,
		CurrentPage: page,
	}, nil
}

func (s *Store) loadRefs(ctx context.Context, kind catalog.Kind, items []catalog.Entity) error {
	if len(items) == 0 {
		return nil
	}
	index := make(map[string]*catalog.Entity, len(items))
	args := []any{kind}
	for i := range items {
		index[items[i].InternalID] = &items[i]
		args = append(args, items[i].InternalID)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT internal_id, platform, external_id, key, source_key, last_synced_at
		FROM external_refs WHERE kind = ? AND internal_id IN (%s)`,
		strings.TrimSuffix(strings.Repeat("?,", len(items)), ",")), args...)
	if err != nil {
		return s.failed(ctx, "list refs", kind, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id, platform, synced string
			ref                  catalog.ExternalRef
		)
		if err := rows.Scan(&id, &platform, &ref.ExternalID, &ref.Key, &ref.SourceKey, &synced); err != nil {
			return s.failed(ctx, "scan refs", kind, err)
		}
		if ref.LastSyncedAt, err = parseTime(synced); err != nil {
			return errors.WrapParse("time", "external_refs.last_synced_at", err)
		}
		index[id].SetRef(catalog.PlatformID(platform), ref)
	}
	return rows.Err()
}

// SaveRefs implements sync.RefWriter. The stored refs are replaced by refs
// in one transaction.
func (s *Store) SaveRefs(ctx context.Context, kind catalog.Kind, internalID string, refs map[catalog.PlatformID]catalog.ExternalRef) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.failed(ctx, "begin", kind, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM entities WHERE kind = ? AND internal_id = ?`, kind, internalID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError(kind.String(), internalID)
	}
	if err != nil {
		return s.failed(ctx, "lookup", kind, err)
	}

	if err := replaceRefs(ctx, tx, kind, internalID, refs); err != nil {
		return s.failed(ctx, "save refs", kind, err)
	}
	if err := tx.Commit(); err != nil {
		return s.failed(ctx, "commit", kind, err)
	}
	return nil
}

// Put inserts or replaces entities, including their refs.
func (s *Store) Put(ctx context.Context, entities ...catalog.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapResource("begin", "store", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entities {
		attrs, err := json.Marshal(e.Attributes.Clone())
		if err != nil {
			return errors.WrapParse("json", "entities.attributes", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (kind, internal_id, natural_key, attributes, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (kind, internal_id) DO UPDATE SET
				natural_key = excluded.natural_key,
				attributes = excluded.attributes,
				updated_at = excluded.updated_at`,
			e.Kind, e.InternalID, e.NaturalKey, string(attrs), formatTime(e.UpdatedAt)); err != nil {
			return errors.WrapResource("put", "store", e.InternalID, err)
		}
		if err := replaceRefs(ctx, tx, e.Kind, e.InternalID, e.ExternalRefs); err != nil {
			return errors.WrapResource("put", "store", e.InternalID, err)
		}
	}
	return tx.Commit()
}

func replaceRefs(ctx context.Context, tx *sql.Tx, kind catalog.Kind, internalID string, refs map[catalog.PlatformID]catalog.ExternalRef) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM external_refs WHERE kind = ? AND internal_id = ?`, kind, internalID); err != nil {
		return err
	}
	for platform, ref := range refs {
		if ref.IsZero() {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO external_refs (kind, internal_id, platform, external_id, key, source_key, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			kind, internalID, platform, ref.ExternalID, ref.Key, ref.SourceKey, formatTime(ref.LastSyncedAt)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) failed(ctx context.Context, op string, kind catalog.Kind, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	logging.FromContext(ctx).Warn().Err(err).
		Str("kind", kind.String()).
		Str("operation", op).
		Msg("SQLite store error")
	return errors.WrapResource(op, "store", kind.String(), err)
}

func formatTime(t utc.Time) string {
	if t.Time.IsZero() {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (utc.Time, error) {
	if s == "" {
		return utc.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return utc.Time{}, err
	}
	return utc.Time{Time: t}, nil
}
