// Package db is the narrow façade over the transactional object store. State
// lives in buckets of keyed JSON objects with typed indexes and per-object
// etags; every mutating call takes an etag precondition and multi-object
// mutations commit through a single atomic Batch.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db/query"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
)

const bucketsTable = "napi_buckets"

// Store is the object store handle. It is safe for concurrent use.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	schemas map[string]*Schema
}

// Open opens (creating if needed) the store at the given path. Use ":memory:"
// for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	if path == ":memory:" {
		dsn = "file::memory:?mode=memory&cache=shared"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("Failed to open store: %w", err)
	}

	// SQLite allows a single writer; serializing through one connection
	// avoids spurious SQLITE_BUSY on concurrent batches.
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: sqlDB, schemas: map[string]*Schema{}}

	err = s.initRegistry(context.Background())
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initRegistry(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, version INTEGER NOT NULL, schema TEXT NOT NULL)", bucketsTable)
	_, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("Failed to create bucket registry: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT name, schema FROM %s", bucketsTable))
	if err != nil {
		return fmt.Errorf("Failed to load bucket registry: %w", err)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, schemaJSON string

		err = rows.Scan(&name, &schemaJSON)
		if err != nil {
			return err
		}

		schema := &Schema{}
		err = json.Unmarshal([]byte(schemaJSON), schema)
		if err != nil {
			return fmt.Errorf("Failed to decode schema for bucket %q: %w", name, err)
		}

		s.schemas[name] = schema
	}

	return rows.Err()
}

func (s *Store) getSchema(bucket string) (*Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema, ok := s.schemas[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}

	return schema, nil
}

// InitBucket idempotently creates or upgrades a bucket.
func (s *Store) InitBucket(ctx context.Context, schema *Schema) error {
	stmts, err := schema.createStatements()
	if err != nil {
		return err
	}

	err = query.Retry(ctx, func(ctx context.Context) error {
		return query.Transaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			var version int

			err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT version FROM %s WHERE name = ?", bucketsTable), schema.Name).Scan(&version)
			if err != nil && err != sql.ErrNoRows {
				return err
			}

			if err == nil && version >= schema.Version {
				return nil // Already current.
			}

			for _, stmt := range stmts {
				_, err = tx.ExecContext(ctx, stmt)
				if err != nil {
					return fmt.Errorf("Failed to create bucket %q: %w", schema.Name, err)
				}
			}

			schemaJSON, err := json.Marshal(schema)
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx,
				fmt.Sprintf("INSERT INTO %s (name, version, schema) VALUES (?, ?, ?) ON CONFLICT(name) DO UPDATE SET version = excluded.version, schema = excluded.schema", bucketsTable),
				schema.Name, schema.Version, string(schemaJSON))

			return err
		})
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.schemas[schema.Name] = schema
	s.mu.Unlock()

	return nil
}

// DeleteBucket drops a bucket and its contents. A missing bucket is benign.
func (s *Store) DeleteBucket(ctx context.Context, bucket string) error {
	err := validName(bucket)
	if err != nil {
		return err
	}

	err = query.Retry(ctx, func(ctx context.Context) error {
		return query.Transaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+bucket)
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = ?", bucketsTable), bucket)
			return err
		})
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.schemas, bucket)
	s.mu.Unlock()

	logger.Debug("Deleted bucket", logger.Ctx{"bucket": bucket})

	return nil
}

// ListBuckets returns the names of all buckets.
func (s *Store) ListBuckets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.schemas))
	for name := range s.schemas {
		names = append(names, name)
	}

	return names
}

// SQL runs a raw read-only statement and returns the rows as generic maps.
// It exists for the subnet containment queries that the filter tree cannot
// express.
func (s *Store) SQL(ctx context.Context, stmt string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}

		err = rows.Scan(ptrs...)
		if err != nil {
			return nil, err
		}

		row := map[string]any{}
		for i, col := range cols {
			v := vals[i]
			b, ok := v.([]byte)
			if ok {
				v = string(b)
			}

			row[col] = v
		}

		out = append(out, row)
	}

	return out, rows.Err()
}
