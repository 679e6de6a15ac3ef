package models_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

func TestNICCreateWithAddress(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	nic, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"network_uuid":    n.UUID,
		"ip":              "10.1.0.77",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.77", nic.IP.String())
	assert.Equal(t, api.NICStateRunning, nic.State)

	// The address record binds back to the NIC's holder.
	rec, err := models.GetIP(ctx, s, n, "10.1.0.77")
	require.NoError(t, err)
	assert.Equal(t, zoneUUID, rec.BelongsToUUID)
	assert.Equal(t, "zone", rec.BelongsToType)

	// The same address cannot be claimed for another holder.
	_, err = models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:02",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": otherUUID,
		"belongs_to_type": "zone",
		"network_uuid":    n.UUID,
		"ip":              "10.1.0.77",
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// Neither can the MAC.
	_, err = models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// An explicit address requires its network.
	_, err = models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:03",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"ip":              "10.1.0.78",
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// And must lie within the network's subnet.
	_, err = models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:03",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"network_uuid":    n.UUID,
		"ip":              "10.9.0.1",
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestNICCreateWithAllocation(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	// Sequential creates walk the provision range.
	for i, want := range []string{"10.1.0.10", "10.1.0.11", "10.1.0.12"} {
		nic, err := models.CreateNIC(ctx, s, map[string]any{
			"mac":             models.FormatMAC(0x90b8d0000010 + uint64(i)),
			"owner_uuid":      ownerUUID,
			"belongs_to_uuid": zoneUUID,
			"belongs_to_type": "zone",
			"network_uuid":    n.UUID,
		})
		require.NoError(t, err)
		assert.Equal(t, want, nic.IP.String())
	}
}

func TestNICCreateIPLess(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	nic, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      adminUUID,
		"belongs_to_uuid": serverUUID,
		"belongs_to_type": "server",
		"nic_tags_provided": []string{
			"external",
		},
	})
	require.NoError(t, err)
	assert.False(t, nic.IP.IsValid())
	assert.Empty(t, nic.NetworkUUID)
	assert.Equal(t, []string{"external"}, nic.NICTagsProvided)

	got, err := models.GetNIC(ctx, s, nic.MAC)
	require.NoError(t, err)
	assert.False(t, got.IP.IsValid())
}

func TestNICCreateUnauthorized(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")

	n, err := models.CreateNetwork(ctx, s, map[string]any{
		"name":               "owned",
		"nic_tag":            "external",
		"subnet":             "10.1.0.0/24",
		"provision_start_ip": "10.1.0.10",
		"provision_end_ip":   "10.1.0.250",
		"vlan_id":            0,
		"owner_uuids":        []string{ownerUUID},
	})
	require.NoError(t, err)

	_, err = models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      otherUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"network_uuid":    n.UUID,
	})
	assert.True(t, api.StatusErrorCheck(err, 403), "expected 403, got %v", err)

	// The admin owner provisions anywhere.
	_, err = models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:02",
		"owner_uuid":      adminUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"network_uuid":    n.UUID,
	})
	assert.NoError(t, err)
}

func TestNICPrimaryDemotion(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	first, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"primary":         true,
	})
	require.NoError(t, err)
	assert.True(t, first.Primary)

	// A second primary NIC for the same holder demotes the first.
	second, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:02",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"primary":         true,
	})
	require.NoError(t, err)
	assert.True(t, second.Primary)

	got, err := models.GetNIC(ctx, s, first.MAC)
	require.NoError(t, err)
	assert.False(t, got.Primary)

	// A primary NIC of a different holder is untouched.
	foreign, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:03",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": otherUUID,
		"belongs_to_type": "zone",
		"primary":         true,
	})
	require.NoError(t, err)

	got, err = models.GetNIC(ctx, s, second.MAC)
	require.NoError(t, err)
	assert.True(t, got.Primary)

	got, err = models.GetNIC(ctx, s, foreign.MAC)
	require.NoError(t, err)
	assert.True(t, got.Primary)
}

func TestNICUnderlay(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "sdc_underlay")
	createTag(t, s, "external")

	underlayNet := createNetwork(t, s, "underlay0", "sdc_underlay", "10.88.0.0/24", "10.88.0.10", "10.88.0.250")
	otherNet := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	// Underlay NICs must belong to a server and carry a cn_uuid.
	_, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      adminUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"underlay":        true,
		"network_uuid":    underlayNet.UUID,
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// And must ride the configured underlay tag.
	_, err = models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      adminUUID,
		"belongs_to_uuid": serverUUID,
		"belongs_to_type": "server",
		"underlay":        true,
		"cn_uuid":         serverUUID,
		"network_uuid":    otherNet.UUID,
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// cn_uuid is optional; the mapping records the server the NIC belongs to.
	nic, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      adminUUID,
		"belongs_to_uuid": serverUUID,
		"belongs_to_type": "server",
		"underlay":        true,
		"network_uuid":    underlayNet.UUID,
	})
	require.NoError(t, err)
	assert.True(t, nic.Underlay)

	obj, err := s.Store.GetObject(ctx, "napi_underlay_mappings", serverUUID)
	require.NoError(t, err)
	assert.Equal(t, nic.IP.String(), obj.Value["ip"])
	assert.Equal(t, serverUUID, obj.Value["cn_uuid"])

	// Deleting the NIC clears the mapping.
	require.NoError(t, models.DeleteNIC(ctx, s, nic.MAC))

	_, err = s.Store.GetObject(ctx, "napi_underlay_mappings", serverUUID)
	assert.Error(t, err)

	// A cn_uuid differing from the holder does not redirect the mapping.
	nic, err = models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:02",
		"owner_uuid":      adminUUID,
		"belongs_to_uuid": serverUUID,
		"belongs_to_type": "server",
		"underlay":        true,
		"cn_uuid":         otherUUID,
		"network_uuid":    underlayNet.UUID,
	})
	require.NoError(t, err)

	obj, err = s.Store.GetObject(ctx, "napi_underlay_mappings", serverUUID)
	require.NoError(t, err)
	assert.Equal(t, serverUUID, obj.Value["cn_uuid"])

	require.NoError(t, models.DeleteNIC(ctx, s, nic.MAC))
}

func TestNICUpdate(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	nic := createZoneNIC(t, s, "90:b8:d0:00:00:01", n)

	updated, err := models.UpdateNIC(ctx, s, nic.MAC, map[string]any{
		"state":             "stopped",
		"allow_ip_spoofing": true,
	})
	require.NoError(t, err)
	assert.Equal(t, api.NICStateStopped, updated.State)
	assert.True(t, updated.AllowIPSpoofing)
	assert.Equal(t, nic.IP, updated.IP)

	_, err = models.UpdateNIC(ctx, s, 0x90b8d0ffffff, map[string]any{"state": "stopped"})
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)
}

func TestNICUpdateRetarget(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	nic := createZoneNIC(t, s, "90:b8:d0:00:00:01", n)

	// Changing the holder rewrites the address record too.
	updated, err := models.UpdateNIC(ctx, s, nic.MAC, map[string]any{
		"belongs_to_uuid": otherUUID,
		"belongs_to_type": "zone",
	})
	require.NoError(t, err)
	assert.Equal(t, otherUUID, updated.BelongsToUUID)

	rec, err := models.GetIP(ctx, s, n, nic.IP.String())
	require.NoError(t, err)
	assert.Equal(t, otherUUID, rec.BelongsToUUID)
}

func TestNICUpdateRebind(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n0 := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")
	n1 := createNetwork(t, s, "net1", "external", "10.2.0.0/24", "10.2.0.10", "10.2.0.250")

	nic := createZoneNIC(t, s, "90:b8:d0:00:00:01", n0)
	oldIP := nic.IP

	// Moving to another network releases the old claim and takes the new.
	updated, err := models.UpdateNIC(ctx, s, nic.MAC, map[string]any{
		"network_uuid": n1.UUID,
		"ip":           "10.2.0.33",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.2.0.33", updated.IP.String())
	assert.Equal(t, n1.UUID, updated.NetworkUUID)

	rec, err := models.GetIP(ctx, s, n0, oldIP.String())
	require.NoError(t, err)
	assert.True(t, rec.Free())
	assert.Empty(t, rec.Etag)

	rec, err = models.GetIP(ctx, s, n1, "10.2.0.33")
	require.NoError(t, err)
	assert.Equal(t, zoneUUID, rec.BelongsToUUID)

	// A network move without a target address is rejected.
	_, err = models.UpdateNIC(ctx, s, nic.MAC, map[string]any{"network_uuid": n0.UUID})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestNICDelete(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	nic := createZoneNIC(t, s, "90:b8:d0:00:00:01", n)
	addr := nic.IP.String()

	require.NoError(t, models.DeleteNIC(ctx, s, nic.MAC))

	_, err := models.GetNIC(ctx, s, nic.MAC)
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	// The address is free again.
	rec, err := models.GetIP(ctx, s, n, addr)
	require.NoError(t, err)
	assert.True(t, rec.Free())
	assert.Empty(t, rec.Etag)
}

func TestNICDeleteKeepsReservation(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	nic, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:01",
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"network_uuid":    n.UUID,
		"ip":              "10.1.0.77",
		"reserved":        true,
	})
	require.NoError(t, err)

	require.NoError(t, models.DeleteNIC(ctx, s, nic.MAC))

	// The reservation survives the NIC: the record is free but kept.
	rec, err := models.GetIP(ctx, s, n, "10.1.0.77")
	require.NoError(t, err)
	assert.True(t, rec.Free())
	assert.True(t, rec.Reserved)
	assert.Equal(t, ownerUUID, rec.OwnerUUID)
	assert.NotEmpty(t, rec.Etag)
}

func TestNICProvisionGeneratesMAC(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	nic, err := models.ProvisionNIC(ctx, s, n, map[string]any{
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(models.FormatMAC(nic.MAC), "90:b8:d0:"))
	assert.Equal(t, "10.1.0.10", nic.IP.String())
}

func TestNICList(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	createZoneNIC(t, s, "90:b8:d0:00:00:02", n)
	createZoneNIC(t, s, "90:b8:d0:00:00:01", nil)
	createServerNIC(t, s, "90:b8:d0:00:00:03")

	// MAC order.
	nics, err := models.ListNICs(ctx, s, map[string]any{})
	require.NoError(t, err)
	require.Len(t, nics, 3)
	assert.Equal(t, uint64(0x90b8d0000001), nics[0].MAC)
	assert.Equal(t, uint64(0x90b8d0000003), nics[2].MAC)

	nics, err = models.ListNICs(ctx, s, map[string]any{"belongs_to_type": "server"})
	require.NoError(t, err)
	require.Len(t, nics, 1)
	assert.Equal(t, serverUUID, nics[0].BelongsToUUID)

	nics, err = models.ListNICs(ctx, s, map[string]any{"network_uuid": n.UUID})
	require.NoError(t, err)
	assert.Len(t, nics, 1)

	_, err = models.ListNICs(ctx, s, map[string]any{"bogus": true})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}
