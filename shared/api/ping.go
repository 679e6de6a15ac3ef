package api

// PingConfig echoes the daemon settings that clients care about.
type PingConfig struct {
	FabricsEnabled bool   `json:"fabrics_enabled"`
	UnderlayTag    string `json:"underlay_tag,omitempty"`
	OUI            string `json:"oui,omitempty"`
}

// Ping is the liveness response.
type Ping struct {
	Pid     int        `json:"pid"`
	Healthy bool       `json:"healthy"`
	Config  PingConfig `json:"config"`
}
