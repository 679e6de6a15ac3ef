package api

// NetworkPool is an ordered set of networks sharing one address family.
// Allocation tries member networks in order.
type NetworkPool struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Family         string   `json:"family"`
	Networks       []string `json:"networks"`
	OwnerUUIDs     []string `json:"owner_uuids,omitempty"`
	NICTagsPresent []string `json:"nic_tags_present"`
}
