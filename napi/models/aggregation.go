package models

import (
	"context"
	"fmt"
	"regexp"

	"github.com/mitchellh/mapstructure"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/validate"
)

const maxAggrNICs = 16

// Aggregation names look like datalink names: letters then a trailing number.
var aggrNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]*[a-zA-Z_][0-9]+$`)

// Aggregation is a link aggregation group over a server's physical NICs.
type Aggregation struct {
	ID              string   `mapstructure:"id"`
	Name            string   `mapstructure:"name"`
	LACPMode        string   `mapstructure:"lacp_mode"`
	MACs            []string `mapstructure:"macs"`
	BelongsToUUID   string   `mapstructure:"belongs_to_uuid"`
	NICTagsProvided []string `mapstructure:"nic_tags_provided"`

	Etag string `mapstructure:"-"`
}

// API returns the wire form of the aggregation.
func (a *Aggregation) API() *api.Aggregation {
	return &api.Aggregation{
		ID:              a.ID,
		Name:            a.Name,
		LACPMode:        a.LACPMode,
		MACs:            a.MACs,
		BelongsToUUID:   a.BelongsToUUID,
		NICTagsProvided: a.NICTagsProvided,
	}
}

func (a *Aggregation) raw() map[string]any {
	value := map[string]any{
		"id":              a.ID,
		"name":            a.Name,
		"lacp_mode":       a.LACPMode,
		"macs":            a.MACs,
		"belongs_to_uuid": a.BelongsToUUID,
	}

	if len(a.NICTagsProvided) > 0 {
		value["nic_tags_provided"] = a.NICTagsProvided
	}

	return value
}

func aggrFromObject(obj *db.Object) (*Aggregation, error) {
	aggr := &Aggregation{}
	err := mapstructure.WeakDecode(obj.Value, aggr)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode aggregation %q: %w", obj.Key, err)
	}

	aggr.Etag = obj.Etag
	return aggr, nil
}

var aggrMACsValidator = validate.StringArray(maxAggrNICs, func(ctx context.Context, name string, value any) (any, validate.ExtraFields, error) {
	parsed, _, err := macValidator(ctx, name, value)
	if err != nil {
		return nil, nil, err
	}

	return FormatMAC(parsed.(uint64)), nil, nil
})

// resolveAggrNICs checks the aggregated NICs exist, all belong to one server,
// and that none is already part of another aggregation.
func resolveAggrNICs(ctx context.Context, s *state.State, macs []string, exceptID string) (string, error) {
	if len(macs) < 2 {
		return "", api.InvalidParams(api.InvalidParam("macs", "aggregation needs at least two NICs", macs))
	}

	server := ""
	seen := map[string]struct{}{}

	for _, mac := range macs {
		_, dup := seen[mac]
		if dup {
			return "", api.InvalidParams(api.InvalidParam("macs", "duplicate MAC in aggregation", mac))
		}

		seen[mac] = struct{}{}

		parsed, err := ParseMAC(mac)
		if err != nil {
			return "", api.InvalidParams(api.InvalidParam("macs", "invalid MAC address", mac))
		}

		nic, err := GetNIC(ctx, s, parsed)
		if err != nil {
			if api.StatusErrorCheck(err, 404) {
				return "", api.InvalidParams(api.InvalidParam("macs", "nic does not exist", mac))
			}

			return "", err
		}

		if nic.BelongsToType != api.NICBelongsToServer {
			return "", api.InvalidParams(api.InvalidParam("macs", "aggregated NICs must belong to a server", mac))
		}

		if server == "" {
			server = nic.BelongsToUUID
		} else if nic.BelongsToUUID != server {
			return "", api.InvalidParams(api.InvalidParam("macs", "aggregated NICs must belong to the same server", mac))
		}

		objs, err := s.Store.FindObjects(ctx, bucketAggregations, db.Contains("macs", mac), db.FindOptions{})
		if err != nil {
			return "", err
		}

		for _, obj := range objs {
			if obj.Key != exceptID {
				return "", api.InvalidParams(api.InvalidParam("macs",
					fmt.Sprintf("NIC already belongs to aggregation %q", obj.Key), mac))
			}
		}
	}

	return server, nil
}

var aggrCreateSchema = &validate.Schema{
	Required: map[string]validate.Validator{
		"name": validate.StringPattern(aggrNameRe, 1, 31),
		"macs": aggrMACsValidator,
	},
	Optional: map[string]validate.Validator{
		"lacp_mode":         validate.Enum(api.LACPModeOff, api.LACPModeActive, api.LACPModePassive),
		"nic_tags_provided": validate.StringArray(16, validate.StringPattern(nicTagNameRe, 1, 31)),
	},
	Strict: true,
}

// CreateAggregation creates a link aggregation. Its ID is derived from the
// server and name, so one server cannot have two same-named aggregations.
func CreateAggregation(ctx context.Context, s *state.State, input map[string]any) (*Aggregation, error) {
	parsed, err := aggrCreateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	aggr := &Aggregation{
		Name:     parsed["name"].(string),
		LACPMode: api.LACPModeOff,
		MACs:     parsed["macs"].([]string),
	}

	if mode, ok := parsed["lacp_mode"].(string); ok {
		aggr.LACPMode = mode
	}

	if tags, ok := parsed["nic_tags_provided"].([]string); ok {
		aggr.NICTagsProvided = tags
	}

	aggr.BelongsToUUID, err = resolveAggrNICs(ctx, s, aggr.MACs, "")
	if err != nil {
		return nil, err
	}

	aggr.ID = aggr.BelongsToUUID + "-" + aggr.Name

	_, err = s.Store.PutObject(ctx, bucketAggregations, aggr.ID, aggr.raw(), db.PutOptions{Etag: db.NullEtag})
	if err != nil {
		if isEtagConflict(err) {
			return nil, api.InvalidParams(api.DuplicateParam("name"))
		}

		return nil, err
	}

	return aggr, nil
}

// GetAggregation fetches an aggregation by ID.
func GetAggregation(ctx context.Context, s *state.State, id string) (*Aggregation, error) {
	obj, err := s.Store.GetObject(ctx, bucketAggregations, id)
	if err != nil {
		if isNotFound(err) {
			return nil, api.NotFoundErrorf("aggregation not found")
		}

		return nil, err
	}

	return aggrFromObject(obj)
}

var aggrListSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"belongs_to_uuid":   validate.UUID,
		"macs":              macValidator,
		"nic_tags_provided": validate.StringPattern(nicTagNameRe, 1, 31),
		"limit":             validate.Int(1, 1000),
		"offset":            validate.Int(0, 1<<31-1),
	},
	Strict: true,
}

// ListAggregations lists aggregations matching the query parameters.
func ListAggregations(ctx context.Context, s *state.State, params map[string]any) ([]*Aggregation, error) {
	parsed, err := aggrListSchema.Validate(ctx, params)
	if err != nil {
		return nil, err
	}

	filters := []db.Filter{}
	if server, ok := parsed["belongs_to_uuid"].(string); ok {
		filters = append(filters, db.Eq("belongs_to_uuid", server))
	}

	if mac, ok := parsed["macs"].(uint64); ok {
		filters = append(filters, db.Contains("macs", FormatMAC(mac)))
	}

	if tag, ok := parsed["nic_tags_provided"].(string); ok {
		filters = append(filters, db.Contains("nic_tags_provided", tag))
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

	objs, err := s.Store.FindObjects(ctx, bucketAggregations, filter, opts)
	if err != nil {
		return nil, err
	}

	aggrs := make([]*Aggregation, 0, len(objs))
	for _, obj := range objs {
		aggr, err := aggrFromObject(obj)
		if err != nil {
			return nil, err
		}

		aggrs = append(aggrs, aggr)
	}

	return aggrs, nil
}

var aggrUpdateSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"lacp_mode":         validate.Enum(api.LACPModeOff, api.LACPModeActive, api.LACPModePassive),
		"macs":              aggrMACsValidator,
		"nic_tags_provided": validate.StringArray(16, validate.StringPattern(nicTagNameRe, 1, 31)),
	},
	Strict: true,
}

// UpdateAggregation updates an aggregation's LACP mode, membership or
// provided tags. The name and server are fixed by the ID.
func UpdateAggregation(ctx context.Context, s *state.State, id string, input map[string]any) (*Aggregation, error) {
	parsed, err := aggrUpdateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	aggr, err := GetAggregation(ctx, s, id)
	if err != nil {
		return nil, err
	}

	if mode, ok := parsed["lacp_mode"].(string); ok {
		aggr.LACPMode = mode
	}

	if tags, ok := parsed["nic_tags_provided"].([]string); ok {
		aggr.NICTagsProvided = tags
	}

	if macs, ok := parsed["macs"].([]string); ok {
		server, err := resolveAggrNICs(ctx, s, macs, aggr.ID)
		if err != nil {
			return nil, err
		}

		if server != aggr.BelongsToUUID {
			return nil, api.InvalidParams(api.InvalidParam("macs", "aggregation cannot move to another server", macs))
		}

		aggr.MACs = macs
	}

	_, err = s.Store.PutObject(ctx, bucketAggregations, aggr.ID, aggr.raw(), db.PutOptions{Etag: aggr.Etag})
	if err != nil {
		return nil, mapCommitError(err)
	}

	return aggr, nil
}

// DeleteAggregation deletes an aggregation, refusing while NICs still ride a
// tag it provides.
func DeleteAggregation(ctx context.Context, s *state.State, id string) error {
	aggr, err := GetAggregation(ctx, s, id)
	if err != nil {
		return err
	}

	errs := []api.FieldError{}
	for _, tag := range aggr.NICTagsProvided {
		objs, err := s.Store.FindObjects(ctx, bucketNICs, db.Eq("nic_tag", tag), db.FindOptions{})
		if err != nil {
			return err
		}

		for _, obj := range objs {
			mac, err := ParseMAC(obj.Key)
			if err != nil {
				return fmt.Errorf("Corrupt NIC key %q: %w", obj.Key, err)
			}

			errs = append(errs, api.UsedByResource("nic", FormatMAC(mac)))
		}
	}

	if len(errs) > 0 {
		return api.InUseError("aggregation is in use", errs...)
	}

	return mapCommitError(s.Store.DelObject(ctx, bucketAggregations, aggr.ID, aggr.Etag))
}
