package api

// NICTag is a named handle for an L2 segment. Networks reference tags by
// name; the tag advertises the segment's MTU.
type NICTag struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	MTU  int    `json:"mtu"`
}
