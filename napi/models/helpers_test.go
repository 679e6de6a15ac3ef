package models_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/ipam"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
)

const (
	adminUUID  = "930896af-bf8c-48d4-885c-6573a94b1853"
	ownerUUID  = "e0d39a5a-63b1-47a9-8c90-45aae2464e23"
	otherUUID  = "aa5e0a04-7701-45d6-acce-96d3e6f87cbd"
	zoneUUID   = "0e56fe34-39a3-42d5-86a8-675e75ed4e1c"
	serverUUID = "564d4d2c-f3b0-4e3d-8e22-1fb4909c40a6"
)

func newState(t *testing.T) *state.State {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, models.InitBuckets(context.Background(), store))

	return &state.State{
		Store: store,
		IPAM:  ipam.New(store, 0),
		Config: &state.Config{
			AdminUUID:      adminUUID,
			UnderlayTag:    "sdc_underlay",
			OverlayTag:     "sdc_overlay",
			FabricsEnabled: true,
			OUI:            "90:b8:d0",
			EtagRetries:    3,
			AllocRetries:   10,
			VXLANPort:      4789,
		},
	}
}

func createTag(t *testing.T, s *state.State, name string) *models.NICTag {
	t.Helper()

	tag, err := models.CreateNICTag(context.Background(), s, map[string]any{"name": name})
	require.NoError(t, err)

	return tag
}

// createNetwork creates a classical network on an existing NIC tag with a
// /24-style fixture layout: gateway .1, provision range .10 - .250.
func createNetwork(t *testing.T, s *state.State, name string, tag string, subnet string, start string, end string) *models.Network {
	t.Helper()

	n, err := models.CreateNetwork(context.Background(), s, map[string]any{
		"name":               name,
		"nic_tag":            tag,
		"subnet":             subnet,
		"provision_start_ip": start,
		"provision_end_ip":   end,
		"vlan_id":            0,
	})
	require.NoError(t, err)

	return n
}

func createZoneNIC(t *testing.T, s *state.State, mac string, network *models.Network) *models.NIC {
	t.Helper()

	input := map[string]any{
		"mac":             mac,
		"owner_uuid":      ownerUUID,
		"belongs_to_uuid": zoneUUID,
		"belongs_to_type": "zone",
	}
	if network != nil {
		input["network_uuid"] = network.UUID
	}

	nic, err := models.CreateNIC(context.Background(), s, input)
	require.NoError(t, err)

	return nic
}

func createServerNIC(t *testing.T, s *state.State, mac string) *models.NIC {
	t.Helper()

	nic, err := models.CreateNIC(context.Background(), s, map[string]any{
		"mac":             mac,
		"owner_uuid":      adminUUID,
		"belongs_to_uuid": serverUUID,
		"belongs_to_type": "server",
	})
	require.NoError(t, err)

	return nic
}
