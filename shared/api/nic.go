package api

// NIC belongs-to types.
const (
	NICBelongsToZone   = "zone"
	NICBelongsToServer = "server"
	NICBelongsToOther  = "other"
)

// NIC states.
const (
	NICStateProvisioning = "provisioning"
	NICStateRunning      = "running"
	NICStateStopped      = "stopped"
)

// NIC represents a network interface card, keyed by MAC address. Fields
// derived from the NIC's network (gateway, resolvers, routes, vlan_id, mtu)
// are filled in at serialization time and never stored.
type NIC struct {
	MAC           string `json:"mac"`
	OwnerUUID     string `json:"owner_uuid"`
	BelongsToUUID string `json:"belongs_to_uuid"`
	BelongsToType string `json:"belongs_to_type"`
	Primary       bool   `json:"primary"`
	State         string `json:"state"`

	IP          string `json:"ip,omitempty"`
	NetworkUUID string `json:"network_uuid,omitempty"`

	NICTag          string   `json:"nic_tag,omitempty"`
	NICTagsProvided []string `json:"nic_tags_provided,omitempty"`

	Model    string `json:"model,omitempty"`
	CNUUID   string `json:"cn_uuid,omitempty"`
	Underlay bool   `json:"underlay,omitempty"`

	AllowDHCPSpoofing      bool `json:"allow_dhcp_spoofing,omitempty"`
	AllowIPSpoofing        bool `json:"allow_ip_spoofing,omitempty"`
	AllowMACSpoofing       bool `json:"allow_mac_spoofing,omitempty"`
	AllowRestrictedTraffic bool `json:"allow_restricted_traffic,omitempty"`
	AllowUnfilteredPromisc bool `json:"allow_unfiltered_promisc,omitempty"`

	// Joined from the network.
	VLANID    int               `json:"vlan_id,omitempty"`
	MTU       int               `json:"mtu,omitempty"`
	Netmask   string            `json:"netmask,omitempty"`
	Gateway   string            `json:"gateway,omitempty"`
	Resolvers []string          `json:"resolvers,omitempty"`
	Routes    map[string]string `json:"routes,omitempty"`
	Fabric    bool              `json:"fabric,omitempty"`

	CreatedTimestamp  int64 `json:"created_timestamp"`
	ModifiedTimestamp int64 `json:"modified_timestamp"`
}
