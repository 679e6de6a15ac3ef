package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db/query"
)

// Etag preconditions for PutObject and DelObject.
const (
	// NullEtag demands that no object exists yet (create).
	NullEtag = ""

	// AnyEtag skips the precondition entirely.
	AnyEtag = "*"
)

// Object is one stored record.
type Object struct {
	Bucket string
	Key    string
	Value  map[string]any
	Etag   string
}

// PutOptions carries the etag precondition for a put.
type PutOptions struct {
	Etag string
}

// FindOptions controls FindObjects result windows and ordering.
type FindOptions struct {
	Limit  int
	Offset int

	// Sort names an indexed field, or "_key". Empty sorts by key.
	Sort    string
	Descend bool
}

// GetObject fetches a single object by key.
func (s *Store) GetObject(ctx context.Context, bucket string, key string) (*Object, error) {
	_, err := s.getSchema(bucket)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT _value, _etag FROM %s WHERE _key = ?", bucket), key)

	var valueJSON, etag string
	err = row.Scan(&valueJSON, &etag)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}

	if err != nil {
		return nil, err
	}

	return decodeObject(bucket, key, valueJSON, etag)
}

func decodeObject(bucket string, key string, valueJSON string, etag string) (*Object, error) {
	value := map[string]any{}
	err := json.Unmarshal([]byte(valueJSON), &value)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode object %s/%s: %w", bucket, key, err)
	}

	return &Object{Bucket: bucket, Key: key, Value: value, Etag: etag}, nil
}

// PutObject writes an object subject to the etag precondition and returns the
// new etag.
func (s *Store) PutObject(ctx context.Context, bucket string, key string, value map[string]any, opts PutOptions) (string, error) {
	schema, err := s.getSchema(bucket)
	if err != nil {
		return "", err
	}

	var newEtag string
	err = query.Retry(ctx, func(ctx context.Context) error {
		return query.Transaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			var err error
			newEtag, err = putTx(ctx, tx, schema, key, value, opts.Etag)
			return err
		})
	})

	return newEtag, err
}

func putTx(ctx context.Context, tx *sql.Tx, schema *Schema, key string, value map[string]any, etag string) (string, error) {
	var current string

	err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT _etag FROM %s WHERE _key = ?", schema.Name), key).Scan(&current)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}

	switch {
	case !exists && etag != NullEtag && etag != AnyEtag:
		return "", fmt.Errorf("%w: %s/%s does not exist", ErrEtagConflict, schema.Name, key)
	case exists && etag == NullEtag:
		return "", fmt.Errorf("%w: %s/%s already exists", ErrEtagConflict, schema.Name, key)
	case exists && etag != AnyEtag && etag != current:
		return "", fmt.Errorf("%w: %s/%s", ErrEtagConflict, schema.Name, key)
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	newEtag := uuid.New().String()

	cols := []string{"_key", "_value", "_etag"}
	args := []any{key, string(valueJSON), newEtag}

	for field, idx := range schema.Indexes {
		encoded, err := encodeIndexValue(idx, value[field])
		if err != nil {
			return "", fmt.Errorf("Failed to index field %q: %w", field, err)
		}

		cols = append(cols, schema.column(field))
		args = append(args, encoded)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var stmt string
	if exists {
		sets := make([]string, 0, len(cols))
		for _, col := range cols[1:] {
			sets = append(sets, col+" = ?")
		}

		stmt = fmt.Sprintf("UPDATE %s SET %s WHERE _key = ?", schema.Name, strings.Join(sets, ", "))
		args = append(args[1:], key)
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", schema.Name, strings.Join(cols, ", "), placeholders)
	}

	_, err = tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return "", mapConstraintError(schema.Name, err)
	}

	return newEtag, nil
}

// DelObject deletes an object subject to the etag precondition.
func (s *Store) DelObject(ctx context.Context, bucket string, key string, etag string) error {
	schema, err := s.getSchema(bucket)
	if err != nil {
		return err
	}

	return query.Retry(ctx, func(ctx context.Context) error {
		return query.Transaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			return delTx(ctx, tx, schema, key, etag)
		})
	})
}

func delTx(ctx context.Context, tx *sql.Tx, schema *Schema, key string, etag string) error {
	var current string

	err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT _etag FROM %s WHERE _key = ?", schema.Name), key).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, schema.Name, key)
	}

	if err != nil {
		return err
	}

	if etag != AnyEtag && etag != current {
		return fmt.Errorf("%w: %s/%s", ErrEtagConflict, schema.Name, key)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE _key = ?", schema.Name), key)
	return err
}

// FindObjects returns objects matching the filter, ordered and windowed per
// opts. A nil filter matches everything.
func (s *Store) FindObjects(ctx context.Context, bucket string, f Filter, opts FindOptions) ([]*Object, error) {
	schema, err := s.getSchema(bucket)
	if err != nil {
		return nil, err
	}

	where := "1 = 1"
	args := []any{}
	if f != nil {
		where, args, err = f.compile(schema)
		if err != nil {
			return nil, err
		}
	}

	orderCol := "_key"
	if opts.Sort != "" && opts.Sort != "_key" {
		_, ok := schema.Indexes[opts.Sort]
		if !ok {
			return nil, fmt.Errorf("Cannot sort on unindexed field %q", opts.Sort)
		}

		orderCol = schema.column(opts.Sort)
	}

	direction := "ASC"
	if opts.Descend {
		direction = "DESC"
	}

	stmt := fmt.Sprintf("SELECT _key, _value, _etag FROM %s WHERE %s ORDER BY %s %s", bucket, where, orderCol, direction)
	if opts.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
	} else if opts.Offset > 0 {
		stmt += fmt.Sprintf(" LIMIT -1 OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	out := []*Object{}
	for rows.Next() {
		var key, valueJSON, etag string

		err = rows.Scan(&key, &valueJSON, &etag)
		if err != nil {
			return nil, err
		}

		obj, err := decodeObject(bucket, key, valueJSON, etag)
		if err != nil {
			return nil, err
		}

		out = append(out, obj)
	}

	return out, rows.Err()
}

// CountObjects returns the number of objects matching the filter.
func (s *Store) CountObjects(ctx context.Context, bucket string, f Filter) (int, error) {
	schema, err := s.getSchema(bucket)
	if err != nil {
		return 0, err
	}

	where := "1 = 1"
	args := []any{}
	if f != nil {
		where, args, err = f.compile(schema)
		if err != nil {
			return 0, err
		}
	}

	var count int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", bucket, where), args...).Scan(&count)
	return count, err
}
