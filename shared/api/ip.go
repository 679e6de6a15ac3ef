package api

// IP is one address record inside a network's IP bucket. An address is free
// when it has no belongs_to_uuid; a reserved address is never handed out by
// next-free allocation.
type IP struct {
	IP            string `json:"ip"`
	NetworkUUID   string `json:"network_uuid"`
	Reserved      bool   `json:"reserved"`
	Free          bool   `json:"free"`
	BelongsToUUID string `json:"belongs_to_uuid,omitempty"`
	BelongsToType string `json:"belongs_to_type,omitempty"`
	OwnerUUID     string `json:"owner_uuid,omitempty"`
}
