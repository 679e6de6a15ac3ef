package models_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

func TestNetworkCreate(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")

	n, err := models.CreateNetwork(ctx, s, map[string]any{
		"name":               "prod",
		"nic_tag":            "external",
		"subnet":             "10.1.0.0/24",
		"provision_start_ip": "10.1.0.10",
		"provision_end_ip":   "10.1.0.250",
		"vlan_id":            0,
		"gateway":            "10.1.0.1",
		"resolvers":          []string{"10.1.0.2", "8.8.8.8"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.FamilyIPv4, n.Family)
	assert.Equal(t, models.MTUDefault, n.MTU)
	assert.Equal(t, "10.1.0.1", n.Gateway.String())

	// The gateway and the in-subnet resolver are pre-reserved; the external
	// resolver gets no record.
	for _, ip := range []string{"10.1.0.1", "10.1.0.2"} {
		rec, err := models.GetIP(ctx, s, n, ip)
		require.NoError(t, err)
		assert.True(t, rec.Reserved, "address %s", ip)
		assert.Equal(t, adminUUID, rec.BelongsToUUID)
	}

	// The broadcast address is reserved on IPv4 networks.
	rec, err := models.GetIP(ctx, s, n, "10.1.0.255")
	require.NoError(t, err)
	assert.True(t, rec.Reserved)

	// Names are unique across classical networks.
	_, err = models.CreateNetwork(ctx, s, map[string]any{
		"name":               "prod",
		"nic_tag":            "external",
		"subnet":             "10.9.0.0/24",
		"provision_start_ip": "10.9.0.10",
		"provision_end_ip":   "10.9.0.250",
		"vlan_id":            0,
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestNetworkCreateValidation(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")

	base := func() map[string]any {
		return map[string]any{
			"name":               "net0",
			"nic_tag":            "external",
			"subnet":             "10.1.0.0/24",
			"provision_start_ip": "10.1.0.10",
			"provision_end_ip":   "10.1.0.250",
			"vlan_id":            0,
		}
	}

	// Unknown NIC tag.
	input := base()
	input["nic_tag"] = "missing"
	_, err := models.CreateNetwork(ctx, s, input)
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// Provision range outside the subnet.
	input = base()
	input["provision_end_ip"] = "10.2.0.250"
	_, err = models.CreateNetwork(ctx, s, input)
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// Inverted provision range.
	input = base()
	input["provision_start_ip"] = "10.1.0.250"
	input["provision_end_ip"] = "10.1.0.10"
	_, err = models.CreateNetwork(ctx, s, input)
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// The network and broadcast addresses are not provisionable.
	input = base()
	input["provision_start_ip"] = "10.1.0.0"
	_, err = models.CreateNetwork(ctx, s, input)
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// Gateway must be inside the subnet and match its family.
	input = base()
	input["gateway"] = "10.2.0.1"
	_, err = models.CreateNetwork(ctx, s, input)
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	input = base()
	input["gateway"] = "fd00::1"
	_, err = models.CreateNetwork(ctx, s, input)
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// MTU cannot exceed the NIC tag's.
	input = base()
	input["mtu"] = 9000
	_, err = models.CreateNetwork(ctx, s, input)
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// VLAN 1 is forbidden.
	input = base()
	input["vlan_id"] = 1
	_, err = models.CreateNetwork(ctx, s, input)
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// Fabric-only parameters are rejected on classical networks.
	input = base()
	input["vnet_id"] = 42
	_, err = models.CreateNetwork(ctx, s, input)
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestNetworkCreateIPv6(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")

	n, err := models.CreateNetwork(ctx, s, map[string]any{
		"name":               "v6net",
		"nic_tag":            "external",
		"subnet":             "fd00:1::/64",
		"provision_start_ip": "fd00:1::10",
		"provision_end_ip":   "fd00:1::ff",
		"vlan_id":            0,
	})
	require.NoError(t, err)
	assert.Equal(t, models.FamilyIPv6, n.Family)

	// No broadcast reservation on IPv6.
	rec, err := models.GetIP(ctx, s, n, "fd00:1::ffff:ffff:ffff:ffff")
	require.NoError(t, err)
	assert.True(t, rec.Free())
	assert.False(t, rec.Reserved)
}

func TestNetworkOverlap(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")

	// Private classical networks may overlap each other.
	createNetwork(t, s, "priv0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")
	createNetwork(t, s, "priv1", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.100")

	// Public subnets may not.
	createNetwork(t, s, "pub0", "external", "203.0.113.0/24", "203.0.113.10", "203.0.113.250")

	_, err := models.CreateNetwork(ctx, s, map[string]any{
		"name":               "pub1",
		"nic_tag":            "external",
		"subnet":             "203.0.113.0/25",
		"provision_start_ip": "203.0.113.10",
		"provision_end_ip":   "203.0.113.100",
		"vlan_id":            0,
	})
	require.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	apiErr := err.(*api.Error)
	require.NotEmpty(t, apiErr.Errors)
	assert.Equal(t, api.CodeUsedBy, apiErr.Errors[0].Code)
}

func TestNetworkGetList(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	createTag(t, s, "internal")

	n0 := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")
	createNetwork(t, s, "net1", "internal", "10.2.0.0/24", "10.2.0.10", "10.2.0.250")

	got, err := models.GetNetwork(ctx, s, n0.UUID)
	require.NoError(t, err)
	assert.Equal(t, "net0", got.Name)

	_, err = models.GetNetwork(ctx, s, "f2e174c4-0000-4000-8000-000000000000")
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	// The admin network is fetchable by its literal name.
	createTag(t, s, "admin")
	adminNet := createNetwork(t, s, "admin", "admin", "10.99.0.0/24", "10.99.0.10", "10.99.0.250")

	got, err = models.GetNetwork(ctx, s, "admin")
	require.NoError(t, err)
	assert.Equal(t, adminNet.UUID, got.UUID)

	networks, err := models.ListNetworks(ctx, s, map[string]any{"nic_tag": "internal"})
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, "net1", networks[0].Name)

	networks, err = models.ListNetworks(ctx, s, map[string]any{"name": "net0"})
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, n0.UUID, networks[0].UUID)

	_, err = models.ListNetworks(ctx, s, map[string]any{"bogus": "x"})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestNetworkListProvisionableBy(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")

	open := createNetwork(t, s, "open", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	_, err := models.CreateNetwork(ctx, s, map[string]any{
		"name":               "owned",
		"nic_tag":            "external",
		"subnet":             "10.2.0.0/24",
		"provision_start_ip": "10.2.0.10",
		"provision_end_ip":   "10.2.0.250",
		"vlan_id":            0,
		"owner_uuids":        []string{ownerUUID},
	})
	require.NoError(t, err)

	// The owner sees both, a stranger only the ownerless one, the admin all.
	networks, err := models.ListNetworks(ctx, s, map[string]any{"provisionable_by": ownerUUID})
	require.NoError(t, err)
	assert.Len(t, networks, 2)

	networks, err = models.ListNetworks(ctx, s, map[string]any{"provisionable_by": otherUUID})
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, open.UUID, networks[0].UUID)

	networks, err = models.ListNetworks(ctx, s, map[string]any{"provisionable_by": adminUUID})
	require.NoError(t, err)
	assert.Len(t, networks, 2)
}

func TestNetworkGetOwnerScoping(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")

	open := createNetwork(t, s, "open", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	owned, err := models.CreateNetwork(ctx, s, map[string]any{
		"name":               "owned",
		"nic_tag":            "external",
		"subnet":             "10.2.0.0/24",
		"provision_start_ip": "10.2.0.10",
		"provision_end_ip":   "10.2.0.250",
		"vlan_id":            0,
		"owner_uuids":        []string{ownerUUID},
	})
	require.NoError(t, err)

	// owner_uuid requires membership; excluded networks read as absent.
	got, err := models.GetNetworkFor(ctx, s, owned.UUID, map[string]any{"owner_uuid": ownerUUID})
	require.NoError(t, err)
	assert.Equal(t, owned.UUID, got.UUID)

	_, err = models.GetNetworkFor(ctx, s, owned.UUID, map[string]any{"owner_uuid": otherUUID})
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	// The admin sees everything.
	got, err = models.GetNetworkFor(ctx, s, owned.UUID, map[string]any{"owner_uuid": adminUUID})
	require.NoError(t, err)
	assert.Equal(t, owned.UUID, got.UUID)

	// provisionable_by lets anyone at an ownerless network but keeps
	// strangers off an owned one.
	got, err = models.GetNetworkFor(ctx, s, open.UUID, map[string]any{"provisionable_by": otherUUID})
	require.NoError(t, err)
	assert.Equal(t, open.UUID, got.UUID)

	_, err = models.GetNetworkFor(ctx, s, owned.UUID, map[string]any{"provisionable_by": otherUUID})
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	got, err = models.GetNetworkFor(ctx, s, owned.UUID, map[string]any{"provisionable_by": ownerUUID})
	require.NoError(t, err)
	assert.Equal(t, owned.UUID, got.UUID)

	// No filters behaves like a plain fetch.
	got, err = models.GetNetworkFor(ctx, s, owned.UUID, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, owned.UUID, got.UUID)

	_, err = models.GetNetworkFor(ctx, s, owned.UUID, map[string]any{"bogus": "x"})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestNetworkUpdate(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	updated, err := models.UpdateNetwork(ctx, s, n.UUID, map[string]any{
		"name":        "net0renamed",
		"description": "updated",
	})
	require.NoError(t, err)
	assert.Equal(t, "net0renamed", updated.Name)
	assert.Equal(t, "updated", updated.Description)

	// Immutable fields are rejected when changed...
	_, err = models.UpdateNetwork(ctx, s, n.UUID, map[string]any{"subnet": "10.2.0.0/24"})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	_, err = models.UpdateNetwork(ctx, s, n.UUID, map[string]any{"vlan_id": 100})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// ...but accepted unchanged, so full-object round trips stay idempotent.
	_, err = models.UpdateNetwork(ctx, s, n.UUID, map[string]any{
		"subnet":  "10.1.0.0/24",
		"vlan_id": 0,
		"uuid":    n.UUID,
	})
	assert.NoError(t, err)
}

func TestNetworkUpdateGatewayReserved(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	_, err := models.UpdateNetwork(ctx, s, n.UUID, map[string]any{"gateway": "10.1.0.1"})
	require.NoError(t, err)

	rec, err := models.GetIP(ctx, s, n, "10.1.0.1")
	require.NoError(t, err)
	assert.True(t, rec.Reserved)
}

func TestNetworkUpdateProvisionRange(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.100")

	updated, err := models.UpdateNetwork(ctx, s, n.UUID, map[string]any{
		"provision_start_ip": "10.1.0.20",
		"provision_end_ip":   "10.1.0.200",
	})
	require.NoError(t, err)

	// The next allocation comes from the moved range.
	nic, err := models.ProvisionNIC(ctx, s, updated, map[string]any{
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.20", nic.IP.String())

	// The old edge placeholders are gone: .9 reads as plain free.
	rec, err := models.GetIP(ctx, s, updated, "10.1.0.9")
	require.NoError(t, err)
	assert.Empty(t, rec.Etag)
}

func TestNetworkDelete(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	// A network with NICs cannot be deleted.
	nic := createZoneNIC(t, s, "90:b8:d0:00:00:01", n)

	err := models.DeleteNetwork(ctx, s, n.UUID)
	require.True(t, api.StatusErrorCheck(err, 409), "expected 409, got %v", err)

	require.NoError(t, models.DeleteNIC(ctx, s, nic.MAC))

	// A network inside a pool cannot be deleted.
	pool, err := models.CreateNetworkPool(ctx, s, map[string]any{
		"name":     "pool0",
		"networks": []string{n.UUID},
	})
	require.NoError(t, err)

	err = models.DeleteNetwork(ctx, s, n.UUID)
	require.True(t, api.StatusErrorCheck(err, 409), "expected 409, got %v", err)

	require.NoError(t, models.DeleteNetworkPool(ctx, s, pool.UUID))
	require.NoError(t, models.DeleteNetwork(ctx, s, n.UUID))

	_, err = models.GetNetwork(ctx, s, n.UUID)
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)
}
