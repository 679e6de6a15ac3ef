package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound means no object exists at the requested key.
var ErrNotFound = errors.New("Object not found")

// ErrBucketNotFound means the bucket itself does not exist.
var ErrBucketNotFound = errors.New("Bucket not found")

// ErrEtagConflict means a put or delete precondition failed.
var ErrEtagConflict = errors.New("Etag mismatch")

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UniqueError reports a violated unique index.
type UniqueError struct {
	Bucket string
	Field  string
}

// Error returns the error message.
func (e *UniqueError) Error() string {
	return fmt.Sprintf("Unique attribute %q already exists in bucket %q", e.Field, e.Bucket)
}

// IsUniqueError returns the UniqueError wrapped in err, if any.
func IsUniqueError(err error) (*UniqueError, bool) {
	var ue *UniqueError
	if errors.As(err, &ue) {
		return ue, true
	}

	return nil, false
}

// mapConstraintError converts a sqlite unique-constraint failure on an
// indexed column into a UniqueError naming the offending attribute.
func mapConstraintError(bucket string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return err
	}

	// Message form: "UNIQUE constraint failed: <table>.<column>".
	msg := sqliteErr.Error()
	idx := strings.LastIndex(msg, ".")
	if idx < 0 {
		return &UniqueError{Bucket: bucket, Field: "_key"}
	}

	field := strings.TrimPrefix(msg[idx+1:], colPrefix)
	return &UniqueError{Bucket: bucket, Field: field}
}
