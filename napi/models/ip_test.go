package models_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

func TestGetIPFree(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	// An unrecorded in-subnet address reads as synthesized free.
	rec, err := models.GetIP(ctx, s, n, "10.1.0.50")
	require.NoError(t, err)
	assert.True(t, rec.Free())
	assert.Empty(t, rec.Etag)
	assert.Equal(t, "10.1.0.50", rec.Address.String())

	// Out-of-subnet and malformed addresses fail.
	_, err = models.GetIP(ctx, s, n, "10.2.0.50")
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	_, err = models.GetIP(ctx, s, n, "not-an-ip")
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestUpdateIPReserve(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	rec, err := models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{
		"reserved":   true,
		"owner_uuid": ownerUUID,
	})
	require.NoError(t, err)
	assert.True(t, rec.Reserved)
	assert.Equal(t, ownerUUID, rec.OwnerUUID)
	assert.NotEmpty(t, rec.Etag)

	got, err := models.GetIP(ctx, s, n, "10.1.0.50")
	require.NoError(t, err)
	assert.True(t, got.Reserved)
	assert.Equal(t, rec.Etag, got.Etag)
}

func TestUpdateIPUnreserveRemovesRecord(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	_, err := models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{"reserved": true})
	require.NoError(t, err)

	rec, err := models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{"reserved": false})
	require.NoError(t, err)
	assert.False(t, rec.Reserved)

	got, err := models.GetIP(ctx, s, n, "10.1.0.50")
	require.NoError(t, err)
	assert.Empty(t, got.Etag, "a fully cleared record should be removed")
}

func TestUpdateIPAssign(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	// belongs_to_uuid and belongs_to_type come in pairs.
	_, err := models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{"belongs_to_uuid": zoneUUID})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	rec, err := models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"owner_uuid":      ownerUUID,
	})
	require.NoError(t, err)
	assert.Equal(t, zoneUUID, rec.BelongsToUUID)
	assert.False(t, rec.Free())

	// An occupied address cannot be assigned to someone else.
	_, err = models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{
		"belongs_to_uuid": otherUUID,
		"belongs_to_type": "zone",
	})
	require.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	apiErr := err.(*api.Error)
	require.NotEmpty(t, apiErr.Errors)
	assert.Equal(t, api.CodeUsedBy, apiErr.Errors[0].Code)

	// Assign and unassign are mutually exclusive.
	_, err = models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"unassign":        true,
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestUpdateIPUnassign(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")
	n := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	_, err := models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"reserved":        true,
	})
	require.NoError(t, err)

	// Unassigning a reserved address keeps the reservation.
	rec, err := models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{"unassign": true})
	require.NoError(t, err)
	assert.True(t, rec.Free())
	assert.True(t, rec.Reserved)

	got, err := models.GetIP(ctx, s, n, "10.1.0.50")
	require.NoError(t, err)
	assert.NotEmpty(t, got.Etag)
	assert.True(t, got.Reserved)
}

func TestListIPs(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")

	n, err := models.CreateNetwork(ctx, s, map[string]any{
		"name":               "net0",
		"nic_tag":            "external",
		"subnet":             "10.1.0.0/24",
		"provision_start_ip": "10.1.0.10",
		"provision_end_ip":   "10.1.0.250",
		"vlan_id":            0,
		"gateway":            "10.1.0.1",
	})
	require.NoError(t, err)

	_, err = models.UpdateIP(ctx, s, n, "10.1.0.50", map[string]any{
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
		"owner_uuid":      ownerUUID,
	})
	require.NoError(t, err)

	// Placeholders are hidden; the gateway, broadcast and assigned records
	// show, in address order.
	records, err := models.ListIPs(ctx, s, n, map[string]any{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "10.1.0.1", records[0].Address.String())
	assert.Equal(t, "10.1.0.50", records[1].Address.String())
	assert.Equal(t, "10.1.0.255", records[2].Address.String())

	records, err = models.ListIPs(ctx, s, n, map[string]any{"belongs_to_uuid": zoneUUID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "10.1.0.50", records[0].Address.String())

	records, err = models.ListIPs(ctx, s, n, map[string]any{"reserved": true})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSearchIPs(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "external")

	// Two private networks containing the address, one that does not.
	n0 := createNetwork(t, s, "net0", "external", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")
	createNetwork(t, s, "net1", "external", "10.1.0.0/25", "10.1.0.10", "10.1.0.100")
	createNetwork(t, s, "net2", "external", "10.2.0.0/24", "10.2.0.10", "10.2.0.250")

	_, err := models.UpdateIP(ctx, s, n0, "10.1.0.50", map[string]any{
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
	})
	require.NoError(t, err)

	results, err := models.SearchIPs(ctx, s, "10.1.0.50")
	require.NoError(t, err)
	require.Len(t, results, 2)

	found := map[string]bool{}
	for _, r := range results {
		found[r.NetworkUUID] = !r.Free
	}

	assert.True(t, found[n0.UUID], "assigned in net0")

	_, err = models.SearchIPs(ctx, s, "bogus")
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}
