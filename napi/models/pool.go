package models

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/validate"
)

const maxPoolNetworks = 64

// NetworkPool is an ordered set of same-family networks. Provisioning against
// a pool tries its member networks in order until one has a free address.
type NetworkPool struct {
	UUID        string   `mapstructure:"uuid"`
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	Family      string   `mapstructure:"family"`
	Networks    []string `mapstructure:"networks"`
	OwnerUUIDs  []string `mapstructure:"owner_uuids"`

	Etag string `mapstructure:"-"`
}

func (p *NetworkPool) raw() map[string]any {
	owners := p.OwnerUUIDs
	if owners == nil {
		owners = []string{}
	}

	value := map[string]any{
		"uuid":        p.UUID,
		"name":        p.Name,
		"family":      p.Family,
		"networks":    p.Networks,
		"owner_uuids": owners,
	}

	if p.Description != "" {
		value["description"] = p.Description
	}

	return value
}

func poolFromObject(obj *db.Object) (*NetworkPool, error) {
	pool := &NetworkPool{}
	err := mapstructure.WeakDecode(obj.Value, pool)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode network pool %q: %w", obj.Key, err)
	}

	pool.Etag = obj.Etag
	return pool, nil
}

// API returns the wire form of the pool, with the NIC tags of its member
// networks joined in.
func (p *NetworkPool) API(ctx context.Context, s *state.State) (*api.NetworkPool, error) {
	tags := map[string]struct{}{}
	for _, networkUUID := range p.Networks {
		n, err := GetNetwork(ctx, s, networkUUID)
		if err != nil {
			if api.StatusErrorCheck(err, 404) {
				continue
			}

			return nil, err
		}

		tags[n.NICTag] = struct{}{}
	}

	present := make([]string, 0, len(tags))
	for tag := range tags {
		present = append(present, tag)
	}

	sort.Strings(present)

	return &api.NetworkPool{
		UUID:           p.UUID,
		Name:           p.Name,
		Description:    p.Description,
		Family:         p.Family,
		Networks:       p.Networks,
		OwnerUUIDs:     p.OwnerUUIDs,
		NICTagsPresent: present,
	}, nil
}

// resolvePoolNetworks fetches the member networks, checking they exist, share
// one family, and that the pool's owners are allowed by every member.
func resolvePoolNetworks(ctx context.Context, s *state.State, networks []string, owners []string) (string, error) {
	if len(networks) == 0 {
		return "", api.InvalidParams(api.InvalidParam("networks", "pool must contain at least one network", networks))
	}

	family := ""
	seen := map[string]struct{}{}

	for _, networkUUID := range networks {
		_, dup := seen[networkUUID]
		if dup {
			return "", api.InvalidParams(api.InvalidParam("networks", "duplicate network in pool", networkUUID))
		}

		seen[networkUUID] = struct{}{}

		n, err := GetNetwork(ctx, s, networkUUID)
		if err != nil {
			if api.StatusErrorCheck(err, 404) {
				return "", api.InvalidParams(api.InvalidParam("networks", "network does not exist", networkUUID))
			}

			return "", err
		}

		if family == "" {
			family = n.Family
		} else if n.Family != family {
			return "", api.InvalidParams(api.InvalidParam("networks", "networks in a pool must share one address family", networkUUID))
		}

		// A member with owners restricts the pool to those owners.
		if len(n.OwnerUUIDs) > 0 {
			for _, owner := range owners {
				if !n.provisionableBy(s, owner) {
					return "", api.InvalidParams(api.InvalidParam("owner_uuids",
						fmt.Sprintf("owner not permitted by network %q", networkUUID), owner))
				}
			}
		}
	}

	return family, nil
}

var poolCreateSchema = &validate.Schema{
	Required: map[string]validate.Validator{
		"name":     validate.StringPattern(networkNameRe, 1, 64),
		"networks": validate.UUIDArray(maxPoolNetworks),
	},
	Optional: map[string]validate.Validator{
		"uuid":        validate.UUID,
		"description": validate.String(0, 255),
		"owner_uuids": validate.UUIDArray(32),
	},
	Strict: true,
}

// CreateNetworkPool creates a pool.
func CreateNetworkPool(ctx context.Context, s *state.State, input map[string]any) (*NetworkPool, error) {
	parsed, err := poolCreateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	pool := &NetworkPool{
		UUID:     uuid.New().String(),
		Name:     parsed["name"].(string),
		Networks: parsed["networks"].([]string),
	}

	if id, ok := parsed["uuid"].(string); ok {
		pool.UUID = id
	}

	if desc, ok := parsed["description"].(string); ok {
		pool.Description = desc
	}

	if owners, ok := parsed["owner_uuids"].([]string); ok {
		pool.OwnerUUIDs = owners
	}

	pool.Family, err = resolvePoolNetworks(ctx, s, pool.Networks, pool.OwnerUUIDs)
	if err != nil {
		return nil, err
	}

	_, err = s.Store.PutObject(ctx, bucketNetworkPools, pool.UUID, pool.raw(), db.PutOptions{Etag: db.NullEtag})
	if err != nil {
		uniqueErr, isUnique := db.IsUniqueError(err)
		if isUnique && uniqueErr.Field == "name" {
			return nil, api.InvalidParams(api.DuplicateParam("name"))
		}

		if isEtagConflict(err) {
			return nil, api.InvalidParams(api.DuplicateParam("uuid"))
		}

		return nil, err
	}

	return pool, nil
}

// GetNetworkPool fetches a pool by UUID.
func GetNetworkPool(ctx context.Context, s *state.State, id string) (*NetworkPool, error) {
	obj, err := s.Store.GetObject(ctx, bucketNetworkPools, id)
	if err != nil {
		if isNotFound(err) {
			return nil, api.NotFoundErrorf("network pool not found")
		}

		return nil, err
	}

	return poolFromObject(obj)
}

var poolListSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"name":             validate.StringPattern(networkNameRe, 1, 64),
		"family":           validate.Enum(FamilyIPv4, FamilyIPv6),
		"provisionable_by": validate.UUID,
		"limit":            validate.Int(1, 1000),
		"offset":           validate.Int(0, 1<<31-1),
	},
	Strict: true,
}

// ListNetworkPools lists pools, ordered by UUID.
func ListNetworkPools(ctx context.Context, s *state.State, params map[string]any) ([]*NetworkPool, error) {
	parsed, err := poolListSchema.Validate(ctx, params)
	if err != nil {
		return nil, err
	}

	filters := []db.Filter{}
	if name, ok := parsed["name"].(string); ok {
		filters = append(filters, db.Eq("name", name))
	}

	if family, ok := parsed["family"].(string); ok {
		filters = append(filters, db.Eq("family", family))
	}

	if owner, ok := parsed["provisionable_by"].(string); ok && !s.IsAdmin(owner) {
		filters = append(filters, db.Or(
			db.Contains("owner_uuids", owner),
			db.Eq("owner_uuids", []string{}),
		))
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

	objs, err := s.Store.FindObjects(ctx, bucketNetworkPools, filter, opts)
	if err != nil {
		return nil, err
	}

	pools := make([]*NetworkPool, 0, len(objs))
	for _, obj := range objs {
		pool, err := poolFromObject(obj)
		if err != nil {
			return nil, err
		}

		pools = append(pools, pool)
	}

	return pools, nil
}

var poolUpdateSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"name":        validate.StringPattern(networkNameRe, 1, 64),
		"description": validate.String(0, 255),
		"networks":    validate.UUIDArray(maxPoolNetworks),
		"owner_uuids": validate.UUIDArray(32),
	},
	Strict: true,
}

// UpdateNetworkPool updates a pool. Membership changes re-run the family and
// ownership coherence checks; the pool's family never changes.
func UpdateNetworkPool(ctx context.Context, s *state.State, id string, input map[string]any) (*NetworkPool, error) {
	parsed, err := poolUpdateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	retries := s.Config.EtagRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		pool, err := GetNetworkPool(ctx, s, id)
		if err != nil {
			return nil, err
		}

		updated := *pool

		if name, ok := parsed["name"].(string); ok {
			updated.Name = name
		}

		if desc, ok := parsed["description"].(string); ok {
			updated.Description = desc
		}

		if networks, ok := parsed["networks"].([]string); ok {
			updated.Networks = networks
		}

		if owners, ok := parsed["owner_uuids"].([]string); ok {
			updated.OwnerUUIDs = owners
		}

		family, err := resolvePoolNetworks(ctx, s, updated.Networks, updated.OwnerUUIDs)
		if err != nil {
			return nil, err
		}

		if family != pool.Family {
			return nil, api.InvalidParams(api.InvalidParam("networks", "pool address family cannot change", family))
		}

		updated.Family = family

		_, err = s.Store.PutObject(ctx, bucketNetworkPools, pool.UUID, updated.raw(), db.PutOptions{Etag: pool.Etag})
		if err != nil {
			if isEtagConflict(err) {
				lastErr = err
				continue
			}

			uniqueErr, isUnique := db.IsUniqueError(err)
			if isUnique && uniqueErr.Field == "name" {
				return nil, api.InvalidParams(api.DuplicateParam("name"))
			}

			return nil, err
		}

		return &updated, nil
	}

	return nil, mapCommitError(lastErr)
}

// DeleteNetworkPool deletes a pool. Pools hold no allocations of their own,
// so deletion is unconditional.
func DeleteNetworkPool(ctx context.Context, s *state.State, id string) error {
	pool, err := GetNetworkPool(ctx, s, id)
	if err != nil {
		return err
	}

	return mapCommitError(s.Store.DelObject(ctx, bucketNetworkPools, pool.UUID, pool.Etag))
}

// ProvisionNICOnPool provisions a NIC against the pool, trying member
// networks in order until one has room.
func ProvisionNICOnPool(ctx context.Context, s *state.State, pool *NetworkPool, input map[string]any) (*NIC, error) {
	owner, _ := input["owner_uuid"].(string)

	tried := 0
	for _, networkUUID := range pool.Networks {
		network, err := GetNetwork(ctx, s, networkUUID)
		if err != nil {
			if api.StatusErrorCheck(err, 404) {
				continue
			}

			return nil, err
		}

		if !network.provisionableBy(s, owner) {
			continue
		}

		tried++

		nic, err := ProvisionNIC(ctx, s, network, input)
		if err != nil {
			if api.StatusErrorCheck(err, 507) {
				continue
			}

			return nil, err
		}

		return nic, nil
	}

	if tried == 0 {
		return nil, api.NotAuthorizedError()
	}

	return nil, api.SubnetsExhaustedError()
}
