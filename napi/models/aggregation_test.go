package models_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

func TestAggregationCreate(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createServerNIC(t, s, "90:b8:d0:00:00:01")
	createServerNIC(t, s, "90:b8:d0:00:00:02")

	aggr, err := models.CreateAggregation(ctx, s, map[string]any{
		"name": "aggr0",
		"macs": []string{"90:b8:d0:00:00:01", "90:b8:d0:00:00:02"},
	})
	require.NoError(t, err)
	assert.Equal(t, serverUUID+"-aggr0", aggr.ID)
	assert.Equal(t, serverUUID, aggr.BelongsToUUID)
	assert.Equal(t, api.LACPModeOff, aggr.LACPMode)

	// One server cannot carry two same-named aggregations.
	createServerNIC(t, s, "90:b8:d0:00:00:03")
	createServerNIC(t, s, "90:b8:d0:00:00:04")

	_, err = models.CreateAggregation(ctx, s, map[string]any{
		"name": "aggr0",
		"macs": []string{"90:b8:d0:00:00:03", "90:b8:d0:00:00:04"},
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestAggregationCreateValidation(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createServerNIC(t, s, "90:b8:d0:00:00:01")
	createServerNIC(t, s, "90:b8:d0:00:00:02")

	// At least two NICs.
	_, err := models.CreateAggregation(ctx, s, map[string]any{
		"name": "aggr0",
		"macs": []string{"90:b8:d0:00:00:01"},
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// No duplicate members.
	_, err = models.CreateAggregation(ctx, s, map[string]any{
		"name": "aggr0",
		"macs": []string{"90:b8:d0:00:00:01", "90:b8:d0:00:00:01"},
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// Members must exist.
	_, err = models.CreateAggregation(ctx, s, map[string]any{
		"name": "aggr0",
		"macs": []string{"90:b8:d0:00:00:01", "90:b8:d0:00:00:ff"},
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// Members must be server NICs.
	zoneNIC := createZoneNIC(t, s, "90:b8:d0:00:00:10", nil)
	_, err = models.CreateAggregation(ctx, s, map[string]any{
		"name": "aggr0",
		"macs": []string{"90:b8:d0:00:00:01", models.FormatMAC(zoneNIC.MAC)},
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// All on one server.
	foreign, err := models.CreateNIC(ctx, s, map[string]any{
		"mac":             "90:b8:d0:00:00:20",
		"owner_uuid":      adminUUID,
		"belongs_to_uuid": otherUUID,
		"belongs_to_type": "server",
	})
	require.NoError(t, err)

	_, err = models.CreateAggregation(ctx, s, map[string]any{
		"name": "aggr0",
		"macs": []string{"90:b8:d0:00:00:01", models.FormatMAC(foreign.MAC)},
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// A NIC cannot sit in two aggregations.
	_, err = models.CreateAggregation(ctx, s, map[string]any{
		"name": "aggr0",
		"macs": []string{"90:b8:d0:00:00:01", "90:b8:d0:00:00:02"},
	})
	require.NoError(t, err)

	createServerNIC(t, s, "90:b8:d0:00:00:03")
	_, err = models.CreateAggregation(ctx, s, map[string]any{
		"name": "aggr1",
		"macs": []string{"90:b8:d0:00:00:02", "90:b8:d0:00:00:03"},
	})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestAggregationGetListUpdateDelete(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createServerNIC(t, s, "90:b8:d0:00:00:01")
	createServerNIC(t, s, "90:b8:d0:00:00:02")
	createServerNIC(t, s, "90:b8:d0:00:00:03")

	aggr, err := models.CreateAggregation(ctx, s, map[string]any{
		"name":      "aggr0",
		"macs":      []string{"90:b8:d0:00:00:01", "90:b8:d0:00:00:02"},
		"lacp_mode": api.LACPModeActive,
	})
	require.NoError(t, err)

	got, err := models.GetAggregation(ctx, s, aggr.ID)
	require.NoError(t, err)
	assert.Equal(t, api.LACPModeActive, got.LACPMode)

	_, err = models.GetAggregation(ctx, s, "missing-aggr9")
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	aggrs, err := models.ListAggregations(ctx, s, map[string]any{"belongs_to_uuid": serverUUID})
	require.NoError(t, err)
	assert.Len(t, aggrs, 1)

	aggrs, err = models.ListAggregations(ctx, s, map[string]any{"macs": "90:b8:d0:00:00:01"})
	require.NoError(t, err)
	assert.Len(t, aggrs, 1)

	// Membership can grow within the same server.
	updated, err := models.UpdateAggregation(ctx, s, aggr.ID, map[string]any{
		"macs":      []string{"90:b8:d0:00:00:01", "90:b8:d0:00:00:02", "90:b8:d0:00:00:03"},
		"lacp_mode": api.LACPModePassive,
	})
	require.NoError(t, err)
	assert.Len(t, updated.MACs, 3)
	assert.Equal(t, api.LACPModePassive, updated.LACPMode)

	require.NoError(t, models.DeleteAggregation(ctx, s, aggr.ID))

	_, err = models.GetAggregation(ctx, s, aggr.ID)
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)
}

func TestAggregationDeleteInUse(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createServerNIC(t, s, "90:b8:d0:00:00:01")
	createServerNIC(t, s, "90:b8:d0:00:00:02")

	aggr, err := models.CreateAggregation(ctx, s, map[string]any{
		"name":              "aggr0",
		"macs":              []string{"90:b8:d0:00:00:01", "90:b8:d0:00:00:02"},
		"nic_tags_provided": []string{"storage"},
	})
	require.NoError(t, err)

	createTag(t, s, "storage")
	n := createNetwork(t, s, "storage0", "storage", "10.5.0.0/24", "10.5.0.10", "10.5.0.250")
	nic := createZoneNIC(t, s, "90:b8:d0:00:00:10", n)

	// A NIC riding a provided tag pins the aggregation.
	err = models.DeleteAggregation(ctx, s, aggr.ID)
	require.True(t, api.StatusErrorCheck(err, 409), "expected 409, got %v", err)

	apiErr := err.(*api.Error)
	require.NotEmpty(t, apiErr.Errors)
	assert.Equal(t, models.FormatMAC(nic.MAC), apiErr.Errors[0].Invalid)

	require.NoError(t, models.DeleteNIC(ctx, s, nic.MAC))
	require.NoError(t, models.DeleteAggregation(ctx, s, aggr.ID))
}
