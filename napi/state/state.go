// Package state carries the daemon-wide dependencies handed to request
// handlers and models. Nothing here is request-mutable: the store, the
// allocator and the config are shared, everything else is scoped per request.
package state

import (
	"context"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/ipam"
)

// Publisher is the change-notification sink. Publish must not block request
// handling.
type Publisher interface {
	Publish(eventType string, metadata any)
}

// Config is the daemon configuration, loaded at startup and read-only after.
type Config struct {
	ListenAddress string
	DBPath        string

	// AdminUUID is the process-wide admin owner; any ownership check
	// passes for it.
	AdminUUID string

	// UnderlayTag is the NIC tag carrying encapsulated overlay traffic.
	// Fabric networks may not be provisioned on it.
	UnderlayTag string

	// OverlayTag is the NIC tag assigned to fabric networks.
	OverlayTag string

	FabricsEnabled bool

	// OUI is the three-octet prefix used when generating MAC addresses.
	OUI string

	// EtagRetries bounds whole-path retries after etag conflicts.
	EtagRetries int

	// AllocRetries bounds next-free allocation retries under contention.
	AllocRetries int

	// VXLANPort is recorded in underlay mapping records.
	VXLANPort int
}

// State is the bundle of daemon-wide dependencies.
type State struct {
	Store  *db.Store
	IPAM   *ipam.Allocator
	Events Publisher
	Config *Config

	// ShutdownCtx is canceled when the daemon begins shutting down.
	ShutdownCtx context.Context
}

// IsAdmin reports whether the given owner is the configured admin owner.
func (s *State) IsAdmin(ownerUUID string) bool {
	return ownerUUID != "" && ownerUUID == s.Config.AdminUUID
}
