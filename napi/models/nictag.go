package models

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/validate"
)

// AdminTagName is the reserved tag of the admin network: created with the
// default MTU, never renamed, never deleted.
const AdminTagName = "admin"

// ExternalTagName may never be renamed.
const ExternalTagName = "external"

// MTU bounds.
const (
	MTUDefault = 1500
	MTUMax     = 9000
)

var nicTagNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// NICTag is a named handle for an L2 segment.
type NICTag struct {
	UUID string `mapstructure:"uuid"`
	Name string `mapstructure:"name"`
	MTU  int    `mapstructure:"mtu"`

	Etag string `mapstructure:"-"`
}

// API returns the wire form of the tag.
func (t *NICTag) API() *api.NICTag {
	return &api.NICTag{UUID: t.UUID, Name: t.Name, MTU: t.MTU}
}

func (t *NICTag) raw() map[string]any {
	return map[string]any{
		"uuid": t.UUID,
		"name": t.Name,
		"mtu":  t.MTU,
	}
}

func nicTagFromObject(obj *db.Object) (*NICTag, error) {
	tag := &NICTag{}
	err := mapstructure.WeakDecode(obj.Value, tag)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode NIC tag %q: %w", obj.Key, err)
	}

	tag.Etag = obj.Etag
	return tag, nil
}

var nicTagCreateSchema = &validate.Schema{
	Required: map[string]validate.Validator{
		"name": validate.StringPattern(nicTagNameRe, 1, 31),
	},
	Optional: map[string]validate.Validator{
		"uuid": validate.UUID,
		"mtu":  validate.Int(MTUDefault, MTUMax),
	},
	Strict: true,
}

var nicTagUpdateSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"name": validate.StringPattern(nicTagNameRe, 1, 31),
		"mtu":  validate.Int(MTUDefault, MTUMax),
	},
	Strict: true,
}

// CreateNICTag creates a NIC tag.
func CreateNICTag(ctx context.Context, s *state.State, input map[string]any) (*NICTag, error) {
	parsed, err := nicTagCreateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	tag := &NICTag{
		UUID: uuid.New().String(),
		Name: parsed["name"].(string),
		MTU:  MTUDefault,
	}

	id, ok := parsed["uuid"].(string)
	if ok {
		tag.UUID = id
	}

	mtu, ok := parsed["mtu"].(int)
	if ok {
		tag.MTU = mtu
	}

	if tag.Name == AdminTagName && tag.MTU != MTUDefault {
		return nil, api.InvalidParams(api.InvalidParam("mtu", "admin nic tag must use the default MTU", tag.MTU))
	}

	_, err = s.Store.PutObject(ctx, bucketNICTags, tag.Name, tag.raw(), db.PutOptions{Etag: db.NullEtag})
	if err != nil {
		if _, isUnique := db.IsUniqueError(err); isUnique || isEtagConflict(err) {
			return nil, api.InvalidParams(api.DuplicateParam("name"))
		}

		return nil, err
	}

	return tag, nil
}

// GetNICTag fetches a tag by name.
func GetNICTag(ctx context.Context, s *state.State, name string) (*NICTag, error) {
	obj, err := s.Store.GetObject(ctx, bucketNICTags, name)
	if err != nil {
		if isNotFound(err) {
			return nil, api.NotFoundErrorf("nic tag not found")
		}

		return nil, err
	}

	return nicTagFromObject(obj)
}

// ListNICTags lists all tags ordered by name.
func ListNICTags(ctx context.Context, s *state.State, opts db.FindOptions) ([]*NICTag, error) {
	objs, err := s.Store.FindObjects(ctx, bucketNICTags, nil, opts)
	if err != nil {
		return nil, err
	}

	tags := make([]*NICTag, 0, len(objs))
	for _, obj := range objs {
		tag, err := nicTagFromObject(obj)
		if err != nil {
			return nil, err
		}

		tags = append(tags, tag)
	}

	return tags, nil
}

// UpdateNICTag renames a tag and/or changes its MTU. A rename commits as an
// atomic delete-old + create-new batch so name uniqueness holds throughout.
func UpdateNICTag(ctx context.Context, s *state.State, oldName string, input map[string]any) (*NICTag, error) {
	parsed, err := nicTagUpdateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	newName, renaming := parsed["name"].(string)
	newMTU, changingMTU := parsed["mtu"].(int)

	if !renaming && !changingMTU {
		return nil, api.InvalidParams(
			api.MissingParam("mtu"),
			api.MissingParam("name"),
		)
	}

	if oldName == AdminTagName {
		return nil, api.InvalidParams(api.InvalidParam("name", "admin nic tag cannot be updated", oldName))
	}

	tag, err := GetNICTag(ctx, s, oldName)
	if err != nil {
		return nil, err
	}

	renaming = renaming && newName != oldName
	if renaming && oldName == ExternalTagName {
		return nil, api.InvalidParams(api.InvalidParam("name", "external nic tag cannot be renamed", newName))
	}

	networks, err := networksByTag(ctx, s, oldName)
	if err != nil {
		return nil, err
	}

	if renaming && len(networks) > 0 {
		errs := make([]api.FieldError, 0, len(networks))
		for _, n := range networks {
			errs = append(errs, api.UsedByResource("network", n.UUID))
		}

		return nil, api.InUseError("nic tag is in use", errs...)
	}

	if changingMTU && newMTU < tag.MTU {
		for _, n := range networks {
			if n.MTU > newMTU {
				return nil, api.InvalidParams(api.InvalidParam("mtu",
					fmt.Sprintf("MTU must be at least %d, the MTU of network %q", n.MTU, n.UUID), newMTU))
			}
		}
	}

	updated := &NICTag{UUID: tag.UUID, Name: tag.Name, MTU: tag.MTU}
	if changingMTU {
		updated.MTU = newMTU
	}

	if renaming {
		updated.Name = newName

		err = s.Store.Batch(ctx, []db.Op{
			db.DeleteOp(bucketNICTags, oldName, tag.Etag),
			db.PutOp(bucketNICTags, newName, updated.raw(), db.NullEtag),
		})
	} else {
		_, err = s.Store.PutObject(ctx, bucketNICTags, oldName, updated.raw(), db.PutOptions{Etag: tag.Etag})
	}

	if err != nil {
		if renaming && isEtagConflict(err) {
			return nil, api.InvalidParams(api.DuplicateParam("name"))
		}

		return nil, mapCommitError(err)
	}

	return updated, nil
}

// DeleteNICTag deletes a tag, refusing while any network references it.
func DeleteNICTag(ctx context.Context, s *state.State, name string) error {
	if name == AdminTagName {
		return api.InvalidParams(api.InvalidParam("name", "admin nic tag cannot be deleted", name))
	}

	tag, err := GetNICTag(ctx, s, name)
	if err != nil {
		return err
	}

	networks, err := networksByTag(ctx, s, name)
	if err != nil {
		return err
	}

	if len(networks) > 0 {
		errs := make([]api.FieldError, 0, len(networks))
		for _, n := range networks {
			errs = append(errs, api.UsedByResource("network", n.UUID))
		}

		return api.InUseError("nic tag is in use", errs...)
	}

	err = s.Store.DelObject(ctx, bucketNICTags, name, tag.Etag)
	return mapCommitError(err)
}

// networksByTag returns all networks referencing the named tag.
func networksByTag(ctx context.Context, s *state.State, name string) ([]*Network, error) {
	objs, err := s.Store.FindObjects(ctx, bucketNetworks, db.Eq("nic_tag", name), db.FindOptions{})
	if err != nil {
		return nil, err
	}

	networks := make([]*Network, 0, len(objs))
	for _, obj := range objs {
		n, err := networkFromObject(obj)
		if err != nil {
			return nil, err
		}

		networks = append(networks, n)
	}

	return networks, nil
}
