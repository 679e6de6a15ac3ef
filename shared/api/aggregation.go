package api

// Aggregation LACP modes.
const (
	LACPModeOff     = "off"
	LACPModeActive  = "active"
	LACPModePassive = "passive"
)

// Aggregation is a link-aggregation group of NICs on one server. Its ID is
// "<server_uuid>-<name>".
type Aggregation struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	LACPMode        string   `json:"lacp_mode"`
	MACs            []string `json:"macs"`
	BelongsToUUID   string   `json:"belongs_to_uuid"`
	NICTagsProvided []string `json:"nic_tags_provided,omitempty"`
}
