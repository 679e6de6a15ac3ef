package models

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/mitchellh/mapstructure"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/ipam"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/validate"
)

const maxVnetID = (1 << 24) - 1

// vnetAllocRetries bounds the random-probe loop when picking an unused
// vnet_id for a new fabric owner.
const vnetAllocRetries = 10

// FabricVLAN is one VLAN within an owner's fabric. All of an owner's fabric
// networks share the owner's vnet_id and hang off one of these VLANs.
type FabricVLAN struct {
	OwnerUUID   string `mapstructure:"owner_uuid"`
	VLANID      int    `mapstructure:"vlan_id"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	VnetID      int    `mapstructure:"vnet_id"`

	Etag string `mapstructure:"-"`
}

// API returns the wire form of the VLAN.
func (v *FabricVLAN) API() *api.FabricVLAN {
	return &api.FabricVLAN{
		OwnerUUID:   v.OwnerUUID,
		VLANID:      v.VLANID,
		Name:        v.Name,
		Description: v.Description,
		VnetID:      v.VnetID,
	}
}

func (v *FabricVLAN) raw() map[string]any {
	value := map[string]any{
		"owner_uuid": v.OwnerUUID,
		"vlan_id":    v.VLANID,
		"name":       v.Name,
		"vnet_id":    v.VnetID,
	}

	if v.Description != "" {
		value["description"] = v.Description
	}

	return value
}

func fabricVLANKey(ownerUUID string, vlanID int) string {
	return fmt.Sprintf("%s_%04d", ownerUUID, vlanID)
}

func fabricVLANFromObject(obj *db.Object) (*FabricVLAN, error) {
	vlan := &FabricVLAN{}
	err := mapstructure.WeakDecode(obj.Value, vlan)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode fabric VLAN %q: %w", obj.Key, err)
	}

	vlan.Etag = obj.Etag
	return vlan, nil
}

// ownerVnet returns the owner's vnet_id, allocating a fresh one on first use.
// The vnet bucket's unique index makes concurrent allocations of the same
// random value collide; losing either race is retried.
func ownerVnet(ctx context.Context, s *state.State, ownerUUID string) (int, error) {
	for attempt := 0; attempt < vnetAllocRetries; attempt++ {
		obj, err := s.Store.GetObject(ctx, bucketFabricVnets, ownerUUID)
		if err == nil {
			vnet, err := validate.ToInt(obj.Value["vnet_id"])
			if err != nil {
				return 0, fmt.Errorf("Corrupt vnet record for owner %q: %w", ownerUUID, err)
			}

			return int(vnet), nil
		}

		if !isNotFound(err) {
			return 0, err
		}

		var b [4]byte
		_, err = rand.Read(b[:])
		if err != nil {
			return 0, err
		}

		candidate := int(binary.BigEndian.Uint32(b[:])) & maxVnetID

		value := map[string]any{"owner_uuid": ownerUUID, "vnet_id": candidate}
		_, err = s.Store.PutObject(ctx, bucketFabricVnets, ownerUUID, value, db.PutOptions{Etag: db.NullEtag})
		if err == nil {
			logger.Info("Allocated fabric vnet", logger.Ctx{"owner": ownerUUID, "vnet_id": candidate})
			return candidate, nil
		}

		_, isUnique := db.IsUniqueError(err)
		if !isUnique && !isEtagConflict(err) {
			return 0, err
		}
	}

	return 0, api.SubnetsExhaustedError()
}

func fabricsEnabled(s *state.State) error {
	if !s.Config.FabricsEnabled {
		return api.NotFoundErrorf("fabrics are not enabled")
	}

	return nil
}

var fabricVLANCreateSchema = &validate.Schema{
	Required: map[string]validate.Validator{
		"name":    validate.StringPattern(networkNameRe, 1, 64),
		"vlan_id": validate.VLANID,
	},
	Optional: map[string]validate.Validator{
		"description": validate.String(0, 255),
	},
	Strict: true,
}

// CreateFabricVLAN creates a VLAN in the owner's fabric, allocating the
// owner's vnet_id on first use.
func CreateFabricVLAN(ctx context.Context, s *state.State, ownerUUID string, input map[string]any) (*FabricVLAN, error) {
	err := fabricsEnabled(s)
	if err != nil {
		return nil, err
	}

	parsed, err := fabricVLANCreateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	vnet, err := ownerVnet(ctx, s, ownerUUID)
	if err != nil {
		return nil, err
	}

	vlan := &FabricVLAN{
		OwnerUUID: ownerUUID,
		VLANID:    parsed["vlan_id"].(int),
		Name:      parsed["name"].(string),
		VnetID:    vnet,
	}

	if desc, ok := parsed["description"].(string); ok {
		vlan.Description = desc
	}

	_, err = s.Store.PutObject(ctx, bucketFabricVLANs, fabricVLANKey(ownerUUID, vlan.VLANID), vlan.raw(), db.PutOptions{Etag: db.NullEtag})
	if err != nil {
		if isEtagConflict(err) {
			return nil, api.InvalidParams(api.DuplicateParam("vlan_id"))
		}

		return nil, err
	}

	return vlan, nil
}

// GetFabricVLAN fetches one VLAN of an owner's fabric.
func GetFabricVLAN(ctx context.Context, s *state.State, ownerUUID string, vlanID int) (*FabricVLAN, error) {
	err := fabricsEnabled(s)
	if err != nil {
		return nil, err
	}

	obj, err := s.Store.GetObject(ctx, bucketFabricVLANs, fabricVLANKey(ownerUUID, vlanID))
	if err != nil {
		if isNotFound(err) {
			return nil, api.NotFoundErrorf("vlan not found")
		}

		return nil, err
	}

	return fabricVLANFromObject(obj)
}

// ListFabricVLANs lists an owner's VLANs in VLAN ID order.
func ListFabricVLANs(ctx context.Context, s *state.State, ownerUUID string) ([]*FabricVLAN, error) {
	err := fabricsEnabled(s)
	if err != nil {
		return nil, err
	}

	objs, err := s.Store.FindObjects(ctx, bucketFabricVLANs, db.Eq("owner_uuid", ownerUUID), db.FindOptions{})
	if err != nil {
		return nil, err
	}

	vlans := make([]*FabricVLAN, 0, len(objs))
	for _, obj := range objs {
		vlan, err := fabricVLANFromObject(obj)
		if err != nil {
			return nil, err
		}

		vlans = append(vlans, vlan)
	}

	return vlans, nil
}

var fabricVLANUpdateSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"name":        validate.StringPattern(networkNameRe, 1, 64),
		"description": validate.String(0, 255),
	},
	Strict: true,
}

// UpdateFabricVLAN updates a VLAN's name or description.
func UpdateFabricVLAN(ctx context.Context, s *state.State, ownerUUID string, vlanID int, input map[string]any) (*FabricVLAN, error) {
	parsed, err := fabricVLANUpdateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	vlan, err := GetFabricVLAN(ctx, s, ownerUUID, vlanID)
	if err != nil {
		return nil, err
	}

	if name, ok := parsed["name"].(string); ok {
		vlan.Name = name
	}

	if desc, ok := parsed["description"].(string); ok {
		vlan.Description = desc
	}

	_, err = s.Store.PutObject(ctx, bucketFabricVLANs, fabricVLANKey(ownerUUID, vlanID), vlan.raw(), db.PutOptions{Etag: vlan.Etag})
	if err != nil {
		return nil, mapCommitError(err)
	}

	return vlan, nil
}

// fabricNetworksOnVLAN returns the owner's fabric networks on one VLAN.
func fabricNetworksOnVLAN(ctx context.Context, s *state.State, vlan *FabricVLAN) ([]*Network, error) {
	objs, err := s.Store.FindObjects(ctx, bucketNetworks, db.And(
		db.Eq("fabric", true),
		db.Eq("vnet_id", vlan.VnetID),
		db.Eq("vlan_id", vlan.VLANID),
	), db.FindOptions{})
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

// DeleteFabricVLAN deletes a VLAN, refusing while fabric networks remain on
// it.
func DeleteFabricVLAN(ctx context.Context, s *state.State, ownerUUID string, vlanID int) error {
	vlan, err := GetFabricVLAN(ctx, s, ownerUUID, vlanID)
	if err != nil {
		return err
	}

	networks, err := fabricNetworksOnVLAN(ctx, s, vlan)
	if err != nil {
		return err
	}

	if len(networks) > 0 {
		errs := make([]api.FieldError, 0, len(networks))
		for _, n := range networks {
			errs = append(errs, api.UsedByResource("network", n.UUID))
		}

		return api.InUseError("vlan is in use", errs...)
	}

	return mapCommitError(s.Store.DelObject(ctx, bucketFabricVLANs, fabricVLANKey(ownerUUID, vlanID), vlan.Etag))
}

// defaultProvisionRange fills in a missing provision range for a fabric
// network: the whole subnet minus the network and broadcast addresses, with
// the gateway stepped over when it sits on either edge. Unparseable subnet or
// gateway strings are left for schema validation to reject.
func defaultProvisionRange(input map[string]any) {
	_, hasStart := input["provision_start_ip"]
	_, hasEnd := input["provision_end_ip"]
	if hasStart || hasEnd {
		return
	}

	raw, ok := input["subnet"].(string)
	if !ok {
		return
	}

	subnet, err := netip.ParsePrefix(raw)
	if err != nil {
		return
	}

	var gateway netip.Addr
	if rawGW, ok := input["gateway"].(string); ok {
		gateway, _ = netip.ParseAddr(rawGW)
	}

	start := ipam.Next(subnet.Masked().Addr())
	if start == gateway {
		start = ipam.Next(start)
	}

	end := lastAddr(subnet)
	if subnet.Addr().Is4() {
		end = ipam.Prev(end)
	}

	if end == gateway {
		end = ipam.Prev(end)
	}

	input["provision_start_ip"] = start.String()
	input["provision_end_ip"] = end.String()
}

// CreateFabricNetwork creates a fabric network on the owner's VLAN. The
// fabric binding (owner, vlan, vnet, overlay NIC tag) comes from the VLAN and
// daemon config, never from the request. A missing provision range defaults
// to the whole usable subnet.
func CreateFabricNetwork(ctx context.Context, s *state.State, ownerUUID string, vlanID int, input map[string]any) (*Network, error) {
	vlan, err := GetFabricVLAN(ctx, s, ownerUUID, vlanID)
	if err != nil {
		return nil, err
	}

	input["fabric"] = true
	input["owner_uuids"] = []string{ownerUUID}
	input["vlan_id"] = vlan.VLANID
	input["vnet_id"] = vlan.VnetID
	input["nic_tag"] = s.Config.OverlayTag

	defaultProvisionRange(input)

	return CreateNetwork(ctx, s, input)
}

// GetFabricNetwork fetches a fabric network, checking it lives on the given
// owner's VLAN.
func GetFabricNetwork(ctx context.Context, s *state.State, ownerUUID string, vlanID int, networkUUID string) (*Network, error) {
	vlan, err := GetFabricVLAN(ctx, s, ownerUUID, vlanID)
	if err != nil {
		return nil, err
	}

	n, err := GetNetwork(ctx, s, networkUUID)
	if err != nil {
		return nil, err
	}

	if !n.Fabric || n.VnetID != vlan.VnetID || n.VLANID != vlan.VLANID {
		return nil, api.NotFoundErrorf("network not found")
	}

	return n, nil
}

// ListFabricNetworks lists the owner's fabric networks on one VLAN.
func ListFabricNetworks(ctx context.Context, s *state.State, ownerUUID string, vlanID int) ([]*Network, error) {
	vlan, err := GetFabricVLAN(ctx, s, ownerUUID, vlanID)
	if err != nil {
		return nil, err
	}

	return fabricNetworksOnVLAN(ctx, s, vlan)
}

// DeleteFabricNetwork deletes a fabric network off the owner's VLAN.
func DeleteFabricNetwork(ctx context.Context, s *state.State, ownerUUID string, vlanID int, networkUUID string) error {
	n, err := GetFabricNetwork(ctx, s, ownerUUID, vlanID, networkUUID)
	if err != nil {
		return err
	}

	return DeleteNetwork(ctx, s, n.UUID)
}
