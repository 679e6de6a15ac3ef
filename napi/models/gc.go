package models

import (
	"context"
	"strings"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
)

// GCOverlayMappings removes tombstoned overlay mappings. Tombstones linger
// after NIC deletion so compute nodes can observe the shootdown; this reclaims
// them once they've been broadcast.
func GCOverlayMappings(ctx context.Context, s *state.State) (int, error) {
	objs, err := s.Store.FindObjects(ctx, bucketOverlayMaps, db.Eq("deleted", true), db.FindOptions{})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, obj := range objs {
		err := s.Store.DelObject(ctx, bucketOverlayMaps, obj.Key, obj.Etag)
		if err != nil {
			if isEtagConflict(err) || isNotFound(err) {
				continue
			}

			return removed, err
		}

		removed++
	}

	if removed > 0 {
		logger.Info("Collected overlay mapping tombstones", logger.Ctx{"removed": removed})
	}

	return removed, nil
}

// GCOrphanIPBuckets drops per-network IP buckets whose network row no longer
// exists. Network deletion removes the row before the bucket, so a crash in
// between strands the bucket.
func GCOrphanIPBuckets(ctx context.Context, s *state.State) (int, error) {
	removed := 0
	for _, bucket := range s.Store.ListBuckets() {
		suffix, ok := strings.CutPrefix(bucket, ipBucketPrefix)
		if !ok {
			continue
		}

		networkUUID := strings.ReplaceAll(suffix, "_", "-")

		_, err := s.Store.GetObject(ctx, bucketNetworks, networkUUID)
		if err == nil {
			continue
		}

		if !isNotFound(err) {
			return removed, err
		}

		err = s.Store.DeleteBucket(ctx, bucket)
		if err != nil {
			return removed, err
		}

		logger.Info("Dropped orphan IP bucket", logger.Ctx{"bucket": bucket, "network": networkUUID})
		removed++
	}

	return removed, nil
}
