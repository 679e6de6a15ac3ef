package models

import (
	"errors"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrBucketNotFound)
}

func isEtagConflict(err error) bool {
	return errors.Is(err, db.ErrEtagConflict)
}

// mapCommitError translates store sentinels surfacing from a commit into API
// errors. Callers that can retry on etag conflicts check isEtagConflict
// themselves before falling through to this.
func mapCommitError(err error) error {
	if err == nil {
		return nil
	}

	if isEtagConflict(err) {
		return api.EtagConflictError("Object changed concurrently")
	}

	if isNotFound(err) {
		return api.NotFoundErrorf("not found")
	}

	return err
}
