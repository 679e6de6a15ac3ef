package models_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

func TestFabricVLANCreate(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	vlan, err := models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{
		"name":    "default",
		"vlan_id": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, vlan.VLANID)
	assert.Equal(t, ownerUUID, vlan.OwnerUUID)

	// All of an owner's VLANs share one vnet.
	vlan2, err := models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{
		"name":    "second",
		"vlan_id": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, vlan.VnetID, vlan2.VnetID)

	// A different owner gets a different vnet.
	foreign, err := models.CreateFabricVLAN(ctx, s, otherUUID, map[string]any{
		"name":    "default",
		"vlan_id": 2,
	})
	require.NoError(t, err)
	assert.NotEqual(t, vlan.VnetID, foreign.VnetID)

	// Duplicate VLAN ID within one owner's fabric.
	_, err = models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{
		"name":    "dup",
		"vlan_id": 2,
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestFabricsDisabled(t *testing.T) {
	s := newState(t)
	s.Config.FabricsEnabled = false
	ctx := context.Background()

	_, err := models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{
		"name":    "default",
		"vlan_id": 2,
	})
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	_, err = models.ListFabricVLANs(ctx, s, ownerUUID)
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)
}

func TestFabricVLANGetListUpdate(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	_, err := models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{"name": "web", "vlan_id": 2})
	require.NoError(t, err)
	_, err = models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{"name": "db", "vlan_id": 3})
	require.NoError(t, err)

	vlan, err := models.GetFabricVLAN(ctx, s, ownerUUID, 2)
	require.NoError(t, err)
	assert.Equal(t, "web", vlan.Name)

	_, err = models.GetFabricVLAN(ctx, s, ownerUUID, 99)
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	// Only the owner's VLANs list.
	vlans, err := models.ListFabricVLANs(ctx, s, ownerUUID)
	require.NoError(t, err)
	assert.Len(t, vlans, 2)

	vlans, err = models.ListFabricVLANs(ctx, s, otherUUID)
	require.NoError(t, err)
	assert.Empty(t, vlans)

	updated, err := models.UpdateFabricVLAN(ctx, s, ownerUUID, 2, map[string]any{"name": "web2"})
	require.NoError(t, err)
	assert.Equal(t, "web2", updated.Name)
}

func TestFabricNetworkCreate(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "sdc_overlay")

	vlan, err := models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{"name": "default", "vlan_id": 2})
	require.NoError(t, err)

	// The fabric binding comes from the VLAN and config, not the request.
	n, err := models.CreateFabricNetwork(ctx, s, ownerUUID, 2, map[string]any{
		"name":               "web",
		"subnet":             "192.168.128.0/24",
		"provision_start_ip": "192.168.128.10",
		"provision_end_ip":   "192.168.128.250",
		"gateway":            "192.168.128.1",
	})
	require.NoError(t, err)
	assert.True(t, n.Fabric)
	assert.Equal(t, vlan.VnetID, n.VnetID)
	assert.Equal(t, 2, n.VLANID)
	assert.Equal(t, "sdc_overlay", n.NICTag)
	assert.Equal(t, []string{ownerUUID}, n.OwnerUUIDs)
	assert.True(t, n.InternetNAT)

	// A public subnet is not allowed on a fabric.
	_, err = models.CreateFabricNetwork(ctx, s, ownerUUID, 2, map[string]any{
		"name":               "pub",
		"subnet":             "203.0.113.0/24",
		"provision_start_ip": "203.0.113.10",
		"provision_end_ip":   "203.0.113.250",
		"gateway":            "203.0.113.1",
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// internet_nat defaults to true and then requires a gateway.
	_, err = models.CreateFabricNetwork(ctx, s, ownerUUID, 2, map[string]any{
		"name":               "nogw",
		"subnet":             "192.168.129.0/24",
		"provision_start_ip": "192.168.129.10",
		"provision_end_ip":   "192.168.129.250",
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestFabricNetworkDefaultProvisionRange(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "sdc_overlay")

	_, err := models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{"name": "default", "vlan_id": 2})
	require.NoError(t, err)

	// Without an explicit range the whole usable subnet provisions, minus
	// the gateway sitting on the low edge.
	n, err := models.CreateFabricNetwork(ctx, s, ownerUUID, 2, map[string]any{
		"name":    "web",
		"subnet":  "192.168.128.0/24",
		"gateway": "192.168.128.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "192.168.128.2", n.ProvisionStart.String())
	assert.Equal(t, "192.168.128.254", n.ProvisionEnd.String())

	// A gateway away from the edges leaves the full range.
	n, err = models.CreateFabricNetwork(ctx, s, ownerUUID, 2, map[string]any{
		"name":    "db",
		"subnet":  "192.168.129.0/24",
		"gateway": "192.168.129.100",
	})
	require.NoError(t, err)
	assert.Equal(t, "192.168.129.1", n.ProvisionStart.String())
	assert.Equal(t, "192.168.129.254", n.ProvisionEnd.String())

	// An explicit range is never overridden.
	n, err = models.CreateFabricNetwork(ctx, s, ownerUUID, 2, map[string]any{
		"name":               "app",
		"subnet":             "192.168.130.0/24",
		"gateway":            "192.168.130.1",
		"provision_start_ip": "192.168.130.10",
		"provision_end_ip":   "192.168.130.20",
	})
	require.NoError(t, err)
	assert.Equal(t, "192.168.130.10", n.ProvisionStart.String())
	assert.Equal(t, "192.168.130.20", n.ProvisionEnd.String())
}

func TestFabricNetworkOverlap(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "sdc_overlay")

	_, err := models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{"name": "default", "vlan_id": 2})
	require.NoError(t, err)
	_, err = models.CreateFabricVLAN(ctx, s, otherUUID, map[string]any{"name": "default", "vlan_id": 2})
	require.NoError(t, err)

	input := func(name string) map[string]any {
		return map[string]any{
			"name":               name,
			"subnet":             "192.168.128.0/24",
			"provision_start_ip": "192.168.128.10",
			"provision_end_ip":   "192.168.128.250",
			"gateway":            "192.168.128.1",
		}
	}

	_, err = models.CreateFabricNetwork(ctx, s, ownerUUID, 2, input("web"))
	require.NoError(t, err)

	// The same subnet cannot recur within one owner's vnet...
	_, err = models.CreateFabricNetwork(ctx, s, ownerUUID, 2, input("dup"))
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// ...but different vnets are separate address spaces.
	_, err = models.CreateFabricNetwork(ctx, s, otherUUID, 2, input("web"))
	assert.NoError(t, err)
}

func TestFabricNetworkGetListDelete(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "sdc_overlay")

	_, err := models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{"name": "default", "vlan_id": 2})
	require.NoError(t, err)
	_, err = models.CreateFabricVLAN(ctx, s, otherUUID, map[string]any{"name": "default", "vlan_id": 2})
	require.NoError(t, err)

	n, err := models.CreateFabricNetwork(ctx, s, ownerUUID, 2, map[string]any{
		"name":               "web",
		"subnet":             "192.168.128.0/24",
		"provision_start_ip": "192.168.128.10",
		"provision_end_ip":   "192.168.128.250",
		"gateway":            "192.168.128.1",
	})
	require.NoError(t, err)

	got, err := models.GetFabricNetwork(ctx, s, ownerUUID, 2, n.UUID)
	require.NoError(t, err)
	assert.Equal(t, n.UUID, got.UUID)

	// Another owner's fabric does not expose it.
	_, err = models.GetFabricNetwork(ctx, s, otherUUID, 2, n.UUID)
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	networks, err := models.ListFabricNetworks(ctx, s, ownerUUID, 2)
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, n.UUID, networks[0].UUID)

	// The VLAN cannot go while networks hang off it.
	err = models.DeleteFabricVLAN(ctx, s, ownerUUID, 2)
	assert.True(t, api.StatusErrorCheck(err, 409), "expected 409, got %v", err)

	require.NoError(t, models.DeleteFabricNetwork(ctx, s, ownerUUID, 2, n.UUID))
	require.NoError(t, models.DeleteFabricVLAN(ctx, s, ownerUUID, 2))

	_, err = models.GetFabricVLAN(ctx, s, ownerUUID, 2)
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)
}

func TestFabricNICOverlayMapping(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "sdc_overlay")

	_, err := models.CreateFabricVLAN(ctx, s, ownerUUID, map[string]any{"name": "default", "vlan_id": 2})
	require.NoError(t, err)

	n, err := models.CreateFabricNetwork(ctx, s, ownerUUID, 2, map[string]any{
		"name":               "web",
		"subnet":             "192.168.128.0/24",
		"provision_start_ip": "192.168.128.10",
		"provision_end_ip":   "192.168.128.250",
		"gateway":            "192.168.128.1",
	})
	require.NoError(t, err)

	nic, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"cn_uuid":         serverUUID,
		"network_uuid":    n.UUID,
	})
	require.NoError(t, err)

	mappingKey := fmt.Sprintf("%08d_%015d", n.VnetID, nic.MAC)
	obj, err := s.Store.GetObject(ctx, "napi_overlay_mappings", mappingKey)
	require.NoError(t, err)
	assert.Equal(t, serverUUID, obj.Value["cn_uuid"])

	// Zone NICs without a compute node have no VL2 mapping to advertise.
	homeless, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:02",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"network_uuid":    n.UUID,
	})
	require.NoError(t, err)

	_, err = s.Store.GetObject(ctx, "napi_overlay_mappings", fmt.Sprintf("%08d_%015d", n.VnetID, homeless.MAC))
	assert.Error(t, err)
	require.NoError(t, models.DeleteNIC(ctx, s, homeless.MAC))

	// Deleting a mapped fabric NIC leaves a tombstone for cache shootdown;
	// the GC sweep collects it.
	require.NoError(t, models.DeleteNIC(ctx, s, nic.MAC))

	removed, err := models.GCOverlayMappings(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Nothing left to collect.
	removed, err = models.GCOverlayMappings(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
