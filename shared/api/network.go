package api

// Network represents a logical network, either a classical network or a
// user-fabric overlay.
type Network struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Family  string `json:"family"`
	NICTag  string `json:"nic_tag"`
	VLANID  int    `json:"vlan_id"`
	VnetID  *int   `json:"vnet_id,omitempty"`
	MTU     int    `json:"mtu,omitempty"`
	Subnet  string `json:"subnet"`
	Netmask string `json:"netmask,omitempty"`

	ProvisionStartIP string            `json:"provision_start_ip"`
	ProvisionEndIP   string            `json:"provision_end_ip"`
	Gateway          string            `json:"gateway,omitempty"`
	Resolvers        []string          `json:"resolvers"`
	Routes           map[string]string `json:"routes,omitempty"`

	OwnerUUIDs []string `json:"owner_uuids,omitempty"`

	Fabric             bool `json:"fabric,omitempty"`
	InternetNAT        bool `json:"internet_nat,omitempty"`
	GatewayProvisioned bool `json:"gateway_provisioned,omitempty"`
}

// FabricVLAN is a VLAN within an owner's fabric. Fabric networks hang off a
// VLAN; the VLAN names the owner's vnet_id.
type FabricVLAN struct {
	OwnerUUID   string `json:"owner_uuid"`
	VLANID      int    `json:"vlan_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	VnetID      int    `json:"vnet_id"`
}
