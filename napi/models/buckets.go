// Package models implements the data models and business rules of the IPAM
// control plane: NIC tags, networks, IP records, NICs, network pools, fabric
// VLANs and aggregations. Referential integrity between the entities lives
// here as plain function calls within one package.
package models

import (
	"context"
	"strings"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
)

// Bucket names.
const (
	bucketNICTags         = "napi_nic_tags"
	bucketNetworks        = "napi_networks"
	bucketNetworkPools    = "napi_network_pools"
	bucketNICs            = "napi_nics"
	bucketAggregations    = "napi_aggregations"
	bucketFabricVLANs     = "napi_fabric_vlans"
	bucketFabricVnets     = "napi_fabric_vnets"
	bucketUnderlayMaps    = "napi_underlay_mappings"
	bucketOverlayMaps     = "napi_overlay_mappings"
	ipBucketPrefix        = "napi_ips_"
	ipBucketVersion       = 5
	legacyIPBucketVersion = 4
)

var bucketSchemas = []*db.Schema{
	{
		Name:    bucketNICTags,
		Version: 1,
		Indexes: map[string]db.Index{
			"uuid": {Type: db.IndexString, Unique: true},
			"mtu":  {Type: db.IndexNumber},
		},
	},
	{
		Name:    bucketNetworks,
		Version: 2,
		Indexes: map[string]db.Index{
			"name_str":     {Type: db.IndexString, Unique: true},
			"nic_tag":      {Type: db.IndexString},
			"vlan_id":      {Type: db.IndexNumber},
			"vnet_id":      {Type: db.IndexNumber},
			"family":       {Type: db.IndexString},
			"fabric":       {Type: db.IndexBoolean},
			"owner_uuids":  {Type: db.IndexArrayString},
			"subnet":       {Type: db.IndexSubnet},
			"subnet_start": {Type: db.IndexIP},
			"subnet_end":   {Type: db.IndexIP},
		},
	},
	{
		Name:    bucketNetworkPools,
		Version: 1,
		Indexes: map[string]db.Index{
			"name":        {Type: db.IndexString, Unique: true},
			"networks":    {Type: db.IndexArrayString},
			"owner_uuids": {Type: db.IndexArrayString},
			"family":      {Type: db.IndexString},
		},
	},
	{
		Name:    bucketNICs,
		Version: 2,
		Indexes: map[string]db.Index{
			"belongs_to_uuid":   {Type: db.IndexString},
			"belongs_to_type":   {Type: db.IndexString},
			"owner_uuid":        {Type: db.IndexString},
			"network_uuid":      {Type: db.IndexString},
			"nic_tag":           {Type: db.IndexString},
			"nic_tags_provided": {Type: db.IndexArrayString},
			"cn_uuid":           {Type: db.IndexString},
			"underlay":          {Type: db.IndexBoolean},
			"primary_flag":      {Type: db.IndexBoolean},
			"state":             {Type: db.IndexString},
			"ipaddr":            {Type: db.IndexIP},
		},
	},
	{
		Name:    bucketAggregations,
		Version: 1,
		Indexes: map[string]db.Index{
			"name":              {Type: db.IndexString},
			"belongs_to_uuid":   {Type: db.IndexString},
			"macs":              {Type: db.IndexArrayString},
			"nic_tags_provided": {Type: db.IndexArrayString},
		},
	},
	{
		Name:    bucketFabricVLANs,
		Version: 1,
		Indexes: map[string]db.Index{
			"owner_uuid": {Type: db.IndexString},
			"vlan_id":    {Type: db.IndexNumber},
			"vnet_id":    {Type: db.IndexNumber},
		},
	},
	{
		Name:    bucketFabricVnets,
		Version: 1,
		Indexes: map[string]db.Index{
			"vnet_id": {Type: db.IndexNumber, Unique: true},
		},
	},
	{
		Name:    bucketUnderlayMaps,
		Version: 1,
		Indexes: map[string]db.Index{
			"ip": {Type: db.IndexIP},
		},
	},
	{
		Name:    bucketOverlayMaps,
		Version: 1,
		Indexes: map[string]db.Index{
			"cn_uuid": {Type: db.IndexString},
			"vnet_id": {Type: db.IndexNumber},
			"deleted": {Type: db.IndexBoolean},
		},
	},
}

// InitBuckets idempotently creates or upgrades every fixed bucket. Per-network
// IP buckets are created when their network is.
func InitBuckets(ctx context.Context, store *db.Store) error {
	for _, schema := range bucketSchemas {
		err := store.InitBucket(ctx, schema)
		if err != nil {
			return err
		}
	}

	return nil
}

// ipBucketName returns the per-network IP bucket name.
func ipBucketName(networkUUID string) string {
	return ipBucketPrefix + strings.ReplaceAll(networkUUID, "-", "_")
}

func ipBucketSchema(networkUUID string) *db.Schema {
	return &db.Schema{
		Name:    ipBucketName(networkUUID),
		Version: ipBucketVersion,
		Indexes: map[string]db.Index{
			"belongs_to_uuid": {Type: db.IndexString},
			"owner_uuid":      {Type: db.IndexString},
			"reserved":        {Type: db.IndexBoolean},
		},
	}
}
