package models

import (
	"context"
	"net/netip"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/ipam"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/validate"
)

// IPToAPI returns the wire form of a record within a network.
func IPToAPI(n *Network, rec *ipam.Record) *api.IP {
	return &api.IP{
		IP:            rec.Address.String(),
		NetworkUUID:   n.UUID,
		Reserved:      rec.Reserved,
		Free:          rec.Free(),
		BelongsToUUID: rec.BelongsToUUID,
		BelongsToType: rec.BelongsToType,
		OwnerUUID:     rec.OwnerUUID,
	}
}

var ipListSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"belongs_to_uuid": validate.UUID,
		"owner_uuid":      validate.UUID,
		"reserved":        validate.Bool,
		"limit":           validate.Int(1, 1000),
		"offset":          validate.Int(0, 1<<31-1),
	},
	Strict: true,
}

// ListIPs lists a network's address records in address order. Placeholder
// records are an implementation detail of the allocation scan and are never
// shown.
func ListIPs(ctx context.Context, s *state.State, n *Network, params map[string]any) ([]*ipam.Record, error) {
	parsed, err := ipListSchema.Validate(ctx, params)
	if err != nil {
		return nil, err
	}

	filters := []db.Filter{}
	if owner, ok := parsed["belongs_to_uuid"].(string); ok {
		filters = append(filters, db.Eq("belongs_to_uuid", owner))
	}

	if owner, ok := parsed["owner_uuid"].(string); ok {
		filters = append(filters, db.Eq("owner_uuid", owner))
	}

	if reserved, ok := parsed["reserved"].(bool); ok {
		filters = append(filters, db.Eq("reserved", reserved))
	}

	var filter db.Filter
	if len(filters) > 0 {
		filter = db.And(filters...)
	}

	opts := db.FindOptions{}
	if limit, ok := parsed["limit"].(int); ok {
		opts.Limit = limit
	}

	if offset, ok := parsed["offset"].(int); ok {
		opts.Offset = offset
	}

	objs, err := s.Store.FindObjects(ctx, ipBucketName(n.UUID), filter, opts)
	if err != nil {
		return nil, err
	}

	records := make([]*ipam.Record, 0, len(objs))
	for _, obj := range objs {
		rec, err := ipam.RecordFromObject(obj)
		if err != nil {
			return nil, err
		}

		if rec.Placeholder() {
			continue
		}

		records = append(records, rec)
	}

	return records, nil
}

// parseNetworkIP parses an address and checks it lies within the network's
// subnet.
func parseNetworkIP(n *Network, raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, api.InvalidParams(api.InvalidParam("ip", "invalid IP address", raw))
	}

	addr = addr.Unmap()
	if !n.Subnet.Contains(addr) {
		return netip.Addr{}, api.InvalidParams(api.InvalidParam("ip", "address is not within the network's subnet", raw))
	}

	return addr, nil
}

// GetIP fetches one address record. An in-subnet address with no record is a
// free address, returned synthesized rather than as a 404.
func GetIP(ctx context.Context, s *state.State, n *Network, raw string) (*ipam.Record, error) {
	addr, err := parseNetworkIP(n, raw)
	if err != nil {
		return nil, err
	}

	obj, err := s.Store.GetObject(ctx, ipBucketName(n.UUID), ipam.Key(addr))
	if err != nil {
		if isNotFound(err) {
			return &ipam.Record{Address: addr}, nil
		}

		return nil, err
	}

	return ipam.RecordFromObject(obj)
}

var ipUpdateSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"reserved":        validate.Bool,
		"owner_uuid":      validate.UUID,
		"belongs_to_uuid": validate.UUID,
		"belongs_to_type": validate.Enum(api.NICBelongsToZone, api.NICBelongsToServer, api.NICBelongsToOther),
		"unassign":        validate.Bool,
	},
	Strict: true,
	After: []validate.Hook{
		{
			Fields: []string{"belongs_to_uuid", "belongs_to_type", "unassign"},
			Run: func(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
				_, hasUUID := parsed["belongs_to_uuid"]
				_, hasType := parsed["belongs_to_type"]
				if hasUUID != hasType {
					if hasUUID {
						errs.Add(api.MissingParam("belongs_to_type"))
					} else {
						errs.Add(api.MissingParam("belongs_to_uuid"))
					}
				}

				unassign, _ := parsed["unassign"].(bool)
				if unassign && hasUUID {
					errs.Add(api.InvalidParam("unassign", "cannot assign and unassign in the same update", true))
				}

				return nil
			},
		},
	},
}

// UpdateIP reserves, unreserves, assigns or frees an address record. The
// write is a compare-and-swap against the record read, retried a bounded
// number of times.
func UpdateIP(ctx context.Context, s *state.State, n *Network, raw string, input map[string]any) (*ipam.Record, error) {
	parsed, err := ipUpdateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	retries := s.Config.EtagRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		rec, err := GetIP(ctx, s, n, raw)
		if err != nil {
			return nil, err
		}

		updated, err := updateIPOnce(ctx, s, n, rec, parsed)
		if err != nil {
			if isEtagConflict(err) {
				lastErr = err
				continue
			}

			return nil, err
		}

		return updated, nil
	}

	return nil, mapCommitError(lastErr)
}

func updateIPOnce(ctx context.Context, s *state.State, n *Network, rec *ipam.Record, parsed map[string]any) (*ipam.Record, error) {
	bucket := ipBucketName(n.UUID)
	legacy := n.IPRange().Legacy
	existed := rec.Etag != ""

	updated := *rec

	if reserved, ok := parsed["reserved"].(bool); ok {
		updated.Reserved = reserved
	}

	if owner, ok := parsed["owner_uuid"].(string); ok {
		updated.OwnerUUID = owner
	}

	if belongsTo, ok := parsed["belongs_to_uuid"].(string); ok {
		if !rec.Free() && rec.BelongsToUUID != belongsTo {
			return nil, api.InvalidParams(api.UsedByParam("ip", rec.BelongsToType, rec.BelongsToUUID))
		}

		updated.BelongsToUUID = belongsTo
		updated.BelongsToType = parsed["belongs_to_type"].(string)
	}

	if unassign, ok := parsed["unassign"].(bool); ok && unassign {
		updated.BelongsToUUID = ""
		updated.BelongsToType = ""
	}

	// A fully cleared record is removed rather than kept as an accidental
	// placeholder, unless it bounds the provision range.
	if updated.Placeholder() && existed {
		edge := rec.Address == ipam.Prev(n.ProvisionStart) || rec.Address == ipam.Next(n.ProvisionEnd)
		if !edge {
			err := s.Store.DelObject(ctx, bucket, ipam.Key(rec.Address), rec.Etag)
			if err != nil {
				return nil, err
			}

			return &updated, nil
		}
	}

	etag := rec.Etag
	if !existed {
		etag = db.NullEtag
	}

	newEtag, err := s.Store.PutObject(ctx, bucket, ipam.Key(rec.Address), updated.Value(legacy), db.PutOptions{Etag: etag})
	if err != nil {
		return nil, err
	}

	updated.Etag = newEtag
	return &updated, nil
}

// SearchIPs returns, for every network whose subnet contains the address, the
// record (synthesized as free when absent).
func SearchIPs(ctx context.Context, s *state.State, raw string) ([]*api.IP, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return nil, api.InvalidParams(api.InvalidParam("ip", "invalid IP address", raw))
	}

	addr = addr.Unmap()

	stmt := "SELECT _key FROM " + bucketNetworks + " WHERE ix_subnet_start <= ? AND ix_subnet_end >= ?"
	rows, err := s.Store.SQL(ctx, stmt, db.EncodeIP(addr), db.EncodeIP(addr))
	if err != nil {
		return nil, err
	}

	out := []*api.IP{}
	for _, row := range rows {
		key, _ := row["_key"].(string)

		n, err := GetNetwork(ctx, s, key)
		if err != nil {
			return nil, err
		}

		rec, err := GetIP(ctx, s, n, addr.String())
		if err != nil {
			return nil, err
		}

		if rec.Placeholder() && rec.Etag != "" {
			// Bounding placeholder, report as plain free.
			rec = &ipam.Record{Address: addr}
		}

		out = append(out, IPToAPI(n, rec))
	}

	return out, nil
}
