package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db/query"
)

// OpType names a batch operation kind.
type OpType string

// Batch operation kinds.
const (
	OpPut    OpType = "put"
	OpDelete OpType = "delete"
)

// Op is one element of an atomic batch. Etag carries the usual precondition
// (NullEtag for create, AnyEtag to skip, anything else for compare-and-swap).
type Op struct {
	Operation OpType
	Bucket    string
	Key       string
	Value     map[string]any
	Etag      string

	// IgnoreMissing tolerates a delete of an absent object.
	IgnoreMissing bool
}

// PutOp builds a put batch element.
func PutOp(bucket string, key string, value map[string]any, etag string) Op {
	return Op{Operation: OpPut, Bucket: bucket, Key: key, Value: value, Etag: etag}
}

// DeleteOp builds a delete batch element.
func DeleteOp(bucket string, key string, etag string) Op {
	return Op{Operation: OpDelete, Bucket: bucket, Key: key, Etag: etag}
}

// Batch applies all operations atomically: either every op commits or none
// does. Each op still honors its own etag precondition.
func (s *Store) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	// Resolve all schemas up front so an unknown bucket fails cleanly.
	schemas := make([]*Schema, len(ops))
	for i, op := range ops {
		schema, err := s.getSchema(op.Bucket)
		if err != nil {
			return err
		}

		schemas[i] = schema
	}

	return query.Retry(ctx, func(ctx context.Context) error {
		return query.Transaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			for i, op := range ops {
				var err error

				switch op.Operation {
				case OpPut:
					_, err = putTx(ctx, tx, schemas[i], op.Key, op.Value, op.Etag)
				case OpDelete:
					err = delTx(ctx, tx, schemas[i], op.Key, op.Etag)
					if err != nil && op.IgnoreMissing && isNotFound(err) {
						err = nil
					}
				default:
					err = fmt.Errorf("Unknown batch operation %q", op.Operation)
				}

				if err != nil {
					return fmt.Errorf("Batch op %d (%s %s/%s): %w", i, op.Operation, op.Bucket, op.Key, err)
				}
			}

			return nil
		})
	})
}
