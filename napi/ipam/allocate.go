package ipam

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
)

// DefaultMaxRetries bounds how many times a next-free allocation is retried
// after losing a compare-and-swap race.
const DefaultMaxRetries = 10

// scanChunk is the number of records fetched per page during the gap scan.
const scanChunk = 1024

// Allocator hands out addresses from network IP buckets.
type Allocator struct {
	store      *db.Store
	maxRetries int
}

// New returns an allocator backed by the given store.
func New(store *db.Store, maxRetries int) *Allocator {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return &Allocator{store: store, maxRetries: maxRetries}
}

// FindNext scans the provision range and returns the first unrecorded
// address strictly after the given address (use the zero Addr to scan from
// the start). Placeholder and reserved records count as present, so they are
// never returned. Returns a SubnetFull error when the range has no gap.
func (a *Allocator) FindNext(ctx context.Context, rng Range, after netip.Addr) (netip.Addr, error) {
	scanFrom := Prev(rng.Start)
	if after.IsValid() && after.Compare(scanFrom) > 0 {
		scanFrom = after
	}

	prev := Prev(scanFrom)
	cursor := scanFrom
	scanTo := Next(rng.End)

	for {
		objs, err := a.store.FindObjects(ctx, rng.Bucket,
			db.And(db.Gte("_key", Key(cursor)), db.Lte("_key", Key(scanTo))),
			db.FindOptions{Limit: scanChunk})
		if err != nil {
			return netip.Addr{}, err
		}

		for _, obj := range objs {
			rec, err := RecordFromObject(obj)
			if err != nil {
				return netip.Addr{}, err
			}

			candidate := Next(prev)
			if rec.Address.Compare(candidate) > 0 && inRange(candidate, rng) {
				return candidate, nil
			}

			prev = rec.Address
		}

		if len(objs) < scanChunk {
			break
		}

		cursor = Next(prev)
	}

	// The end placeholder may be gone after a provision-range move.
	candidate := Next(prev)
	if inRange(candidate, rng) {
		return candidate, nil
	}

	return netip.Addr{}, api.SubnetFullError()
}

func inRange(addr netip.Addr, rng Range) bool {
	return addr.Compare(rng.Start) >= 0 && addr.Compare(rng.End) <= 0
}

// PlanClaim validates that addr is claimable and returns the predicted
// record along with the store operation that claims it. The operation
// carries the correct etag precondition, so committing it (alone or within a
// larger batch) preserves compare-and-swap semantics.
//
// An occupied address can only be re-claimed by the same holder. A reserved
// free address can be claimed when the claimer's owner matches the record's
// owner, or when the claimer is the admin owner.
func (a *Allocator) PlanClaim(ctx context.Context, bucket string, addr netip.Addr, claim Claim, adminUUID string, legacy bool) (*Record, db.Op, error) {
	obj, err := a.store.GetObject(ctx, bucket, Key(addr))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, db.Op{}, err
	}

	etag := db.NullEtag
	reserved := claim.Reserved
	ownerUUID := claim.OwnerUUID

	if obj != nil {
		current, err := RecordFromObject(obj)
		if err != nil {
			return nil, db.Op{}, err
		}

		if !current.Free() && current.BelongsToUUID != claim.BelongsToUUID {
			return nil, db.Op{}, api.InvalidParams(api.UsedByParam("ip", current.BelongsToType, current.BelongsToUUID))
		}

		if current.Free() && current.Reserved {
			if current.OwnerUUID != "" && claim.OwnerUUID != current.OwnerUUID && claim.OwnerUUID != adminUUID {
				return nil, db.Op{}, api.NotAuthorizedError()
			}

			// A reservation survives the claim.
			reserved = true
			if ownerUUID == "" {
				ownerUUID = current.OwnerUUID
			}
		}

		etag = current.Etag
	}

	rec := &Record{
		Address:       addr,
		Reserved:      reserved,
		BelongsToUUID: claim.BelongsToUUID,
		BelongsToType: claim.BelongsToType,
		OwnerUUID:     ownerUUID,
	}

	return rec, db.PutOp(bucket, Key(addr), rec.Value(legacy), etag), nil
}

// ReleaseOps returns the operations that free a record: reserved addresses
// keep their record (ownership cleared, reservation and owner retained),
// anything else is deleted outright.
func ReleaseOps(bucket string, rec *Record, legacy bool) []db.Op {
	if rec.Reserved {
		freed := &Record{
			Address:   rec.Address,
			Reserved:  true,
			OwnerUUID: rec.OwnerUUID,
		}

		return []db.Op{db.PutOp(bucket, Key(rec.Address), freed.Value(legacy), rec.Etag)}
	}

	return []db.Op{db.DeleteOp(bucket, Key(rec.Address), rec.Etag)}
}

// PlaceholderOps returns creation ops for the records bounding the provision
// range at start-1 and end+1.
func PlaceholderOps(rng Range) []db.Op {
	ops := []db.Op{}
	for _, addr := range []netip.Addr{Prev(rng.Start), Next(rng.End)} {
		rec := &Record{Address: addr}
		ops = append(ops, db.PutOp(rng.Bucket, Key(addr), rec.Value(rng.Legacy), db.NullEtag))
	}

	return ops
}

// Allocate claims the next free address in the range for the given claim,
// committing extraOps in the same atomic batch as the address record. On a
// compare-and-swap loss the scan restarts from the conflicting address, a
// bounded number of times.
//
// extraOps receives the predicted record so the caller can fold the claimed
// address into its own rows (e.g. the NIC row binding the IP).
func (a *Allocator) Allocate(ctx context.Context, rng Range, claim Claim, extraOps func(rec *Record) ([]db.Op, error)) (*Record, error) {
	var after netip.Addr

	for attempt := 0; attempt < a.maxRetries; attempt++ {
		candidate, err := a.FindNext(ctx, rng, after)
		if err != nil {
			return nil, err
		}

		rec := &Record{
			Address:       candidate,
			Reserved:      claim.Reserved,
			BelongsToUUID: claim.BelongsToUUID,
			BelongsToType: claim.BelongsToType,
			OwnerUUID:     claim.OwnerUUID,
		}

		ops := []db.Op{db.PutOp(rng.Bucket, Key(candidate), rec.Value(rng.Legacy), db.NullEtag)}

		if extraOps != nil {
			extra, err := extraOps(rec)
			if err != nil {
				return nil, err
			}

			ops = append(ops, extra...)
		}

		err = a.store.Batch(ctx, ops)
		if err == nil {
			return rec, nil
		}

		if !errors.Is(err, db.ErrEtagConflict) {
			return nil, err
		}

		logger.Debug("Lost allocation race, restarting scan", logger.Ctx{
			"bucket":  rng.Bucket,
			"address": candidate.String(),
			"attempt": attempt,
		})

		// Restart from the contended address.
		after = candidate
	}

	return nil, api.EtagConflictError(fmt.Sprintf("Allocation contention in %s after %d attempts", rng.Bucket, a.maxRetries))
}
