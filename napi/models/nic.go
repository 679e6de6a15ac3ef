package models

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/ipam"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/validate"
)

// NIC is a network interface, keyed by MAC address. A NIC may hold one
// address on one network; IP-less NICs are legal.
type NIC struct {
	MAC           uint64
	OwnerUUID     string
	BelongsToUUID string
	BelongsToType string
	Primary       bool
	State         string

	IP          netip.Addr
	NetworkUUID string

	NICTagsProvided []string

	Model    string
	CNUUID   string
	Underlay bool

	AllowDHCPSpoofing      bool
	AllowIPSpoofing        bool
	AllowMACSpoofing       bool
	AllowRestrictedTraffic bool
	AllowUnfilteredPromisc bool

	CreatedTimestamp  int64
	ModifiedTimestamp int64

	Etag string
}

func (n *NIC) key() string {
	return macKey(n.MAC)
}

func (n *NIC) raw(network *Network) map[string]any {
	value := map[string]any{
		"mac":                n.MAC,
		"owner_uuid":         n.OwnerUUID,
		"belongs_to_uuid":    n.BelongsToUUID,
		"belongs_to_type":    n.BelongsToType,
		"primary_flag":       n.Primary,
		"state":              n.State,
		"created_timestamp":  n.CreatedTimestamp,
		"modified_timestamp": n.ModifiedTimestamp,
	}

	if n.IP.IsValid() {
		value["ipaddr"] = n.IP.String()
	}

	if n.NetworkUUID != "" {
		value["network_uuid"] = n.NetworkUUID
	}

	// The NIC tag is denormalized from the network for filtering.
	if network != nil {
		value["nic_tag"] = network.NICTag
	}

	if len(n.NICTagsProvided) > 0 {
		value["nic_tags_provided"] = n.NICTagsProvided
	}

	if n.Model != "" {
		value["model"] = n.Model
	}

	if n.CNUUID != "" {
		value["cn_uuid"] = n.CNUUID
	}

	if n.Underlay {
		value["underlay"] = true
	}

	flags := map[string]bool{
		"allow_dhcp_spoofing":      n.AllowDHCPSpoofing,
		"allow_ip_spoofing":        n.AllowIPSpoofing,
		"allow_mac_spoofing":       n.AllowMACSpoofing,
		"allow_restricted_traffic": n.AllowRestrictedTraffic,
		"allow_unfiltered_promisc": n.AllowUnfilteredPromisc,
	}
	for name, set := range flags {
		if set {
			value[name] = true
		}
	}

	return value
}

type rawNIC struct {
	MAC           uint64 `mapstructure:"mac"`
	OwnerUUID     string `mapstructure:"owner_uuid"`
	BelongsToUUID string `mapstructure:"belongs_to_uuid"`
	BelongsToType string `mapstructure:"belongs_to_type"`
	Primary       bool   `mapstructure:"primary_flag"`
	State         string `mapstructure:"state"`

	IPAddr      string `mapstructure:"ipaddr"`
	NetworkUUID string `mapstructure:"network_uuid"`

	NICTagsProvided []string `mapstructure:"nic_tags_provided"`

	Model    string `mapstructure:"model"`
	CNUUID   string `mapstructure:"cn_uuid"`
	Underlay bool   `mapstructure:"underlay"`

	AllowDHCPSpoofing      bool `mapstructure:"allow_dhcp_spoofing"`
	AllowIPSpoofing        bool `mapstructure:"allow_ip_spoofing"`
	AllowMACSpoofing       bool `mapstructure:"allow_mac_spoofing"`
	AllowRestrictedTraffic bool `mapstructure:"allow_restricted_traffic"`
	AllowUnfilteredPromisc bool `mapstructure:"allow_unfiltered_promisc"`

	CreatedTimestamp  int64 `mapstructure:"created_timestamp"`
	ModifiedTimestamp int64 `mapstructure:"modified_timestamp"`
}

func nicFromObject(obj *db.Object) (*NIC, error) {
	raw := rawNIC{}
	err := mapstructure.WeakDecode(obj.Value, &raw)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode NIC %q: %w", obj.Key, err)
	}

	n := &NIC{
		MAC:                    raw.MAC,
		OwnerUUID:              raw.OwnerUUID,
		BelongsToUUID:          raw.BelongsToUUID,
		BelongsToType:          raw.BelongsToType,
		Primary:                raw.Primary,
		State:                  raw.State,
		NetworkUUID:            raw.NetworkUUID,
		NICTagsProvided:        raw.NICTagsProvided,
		Model:                  raw.Model,
		CNUUID:                 raw.CNUUID,
		Underlay:               raw.Underlay,
		AllowDHCPSpoofing:      raw.AllowDHCPSpoofing,
		AllowIPSpoofing:        raw.AllowIPSpoofing,
		AllowMACSpoofing:       raw.AllowMACSpoofing,
		AllowRestrictedTraffic: raw.AllowRestrictedTraffic,
		AllowUnfilteredPromisc: raw.AllowUnfilteredPromisc,
		CreatedTimestamp:       raw.CreatedTimestamp,
		ModifiedTimestamp:      raw.ModifiedTimestamp,
		Etag:                   obj.Etag,
	}

	if raw.IPAddr != "" {
		n.IP, err = netip.ParseAddr(raw.IPAddr)
		if err != nil {
			return nil, fmt.Errorf("Failed to parse address of NIC %q: %w", obj.Key, err)
		}
	}

	return n, nil
}

// API returns the wire form of the NIC, joining in the derived fields of its
// network (which may be nil for IP-less NICs).
func (n *NIC) API(network *Network) *api.NIC {
	out := &api.NIC{
		MAC:                    FormatMAC(n.MAC),
		OwnerUUID:              n.OwnerUUID,
		BelongsToUUID:          n.BelongsToUUID,
		BelongsToType:          n.BelongsToType,
		Primary:                n.Primary,
		State:                  n.State,
		NetworkUUID:            n.NetworkUUID,
		NICTagsProvided:        n.NICTagsProvided,
		Model:                  n.Model,
		CNUUID:                 n.CNUUID,
		Underlay:               n.Underlay,
		AllowDHCPSpoofing:      n.AllowDHCPSpoofing,
		AllowIPSpoofing:        n.AllowIPSpoofing,
		AllowMACSpoofing:       n.AllowMACSpoofing,
		AllowRestrictedTraffic: n.AllowRestrictedTraffic,
		AllowUnfilteredPromisc: n.AllowUnfilteredPromisc,
		CreatedTimestamp:       n.CreatedTimestamp,
		ModifiedTimestamp:      n.ModifiedTimestamp,
	}

	if n.IP.IsValid() {
		out.IP = n.IP.String()
	}

	if network != nil {
		out.NICTag = network.NICTag
		out.VLANID = network.VLANID
		out.MTU = network.MTU
		out.Netmask = netmask(network.Subnet)
		out.Routes = network.Routes
		out.Fabric = network.Fabric

		if network.Gateway.IsValid() {
			out.Gateway = network.Gateway.String()
		}

		for _, r := range network.Resolvers {
			out.Resolvers = append(out.Resolvers, r.String())
		}
	}

	return out
}

// macValidator parses a MAC address in colon, dash or numeric form.
func macValidator(ctx context.Context, name string, value any) (any, validate.ExtraFields, error) {
	s, ok := value.(string)
	if !ok {
		n, err := validate.ToInt(value)
		if err != nil || n < 0 || n > maxMAC {
			return nil, nil, validate.Errf("invalid MAC address")
		}

		return uint64(n), nil, nil
	}

	mac, err := ParseMAC(s)
	if err != nil {
		return nil, nil, validate.Errf("invalid MAC address")
	}

	return mac, nil, nil
}

var nicStateEnum = validate.Enum(api.NICStateProvisioning, api.NICStateRunning, api.NICStateStopped)

func nicBodySchema() map[string]validate.Validator {
	return map[string]validate.Validator{
		"primary":           validate.Bool,
		"state":             nicStateEnum,
		"model":             validate.String(1, 64),
		"cn_uuid":           validate.UUID,
		"underlay":          validate.Bool,
		"nic_tags_provided": validate.StringArray(16, validate.StringPattern(nicTagNameRe, 1, 31)),
		"reserved":          validate.Bool,

		"allow_dhcp_spoofing":      validate.Bool,
		"allow_ip_spoofing":        validate.Bool,
		"allow_mac_spoofing":       validate.Bool,
		"allow_restricted_traffic": validate.Bool,
		"allow_unfiltered_promisc": validate.Bool,
	}
}

var nicCreateSchema = &validate.Schema{
	Required: map[string]validate.Validator{
		"mac":             macValidator,
		"owner_uuid":      validate.UUID,
		"belongs_to_uuid": validate.UUID,
		"belongs_to_type": validate.Enum(api.NICBelongsToZone, api.NICBelongsToServer, api.NICBelongsToOther),
	},
	Optional: func() map[string]validate.Validator {
		fields := nicBodySchema()
		fields["ip"] = validate.IPAddr
		fields["network_uuid"] = validate.UUID
		return fields
	}(),
	Strict: true,
	After: []validate.Hook{
		{
			Fields: []string{"ip", "network_uuid"},
			Run: func(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
				_, hasIP := parsed["ip"]
				_, hasNetwork := parsed["network_uuid"]
				if hasIP && !hasNetwork {
					errs.Add(api.MissingParam("network_uuid"))
				}

				return nil
			},
		},
		{
			Fields: []string{"underlay", "belongs_to_type"},
			Run:    underlayHook,
		},
	},
}

// underlayHook checks that underlay NICs belong to a server.
func underlayHook(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
	underlay, _ := parsed["underlay"].(bool)
	if !underlay {
		return nil
	}

	belongsType, _ := parsed["belongs_to_type"].(string)
	if belongsType != api.NICBelongsToServer {
		errs.Add(api.InvalidParam("underlay", "only server NICs can be underlay NICs", true))
	}

	return nil
}

// applyNICBody copies the optional body fields onto the NIC.
func applyNICBody(n *NIC, parsed map[string]any) {
	if primary, ok := parsed["primary"].(bool); ok {
		n.Primary = primary
	}

	if nicState, ok := parsed["state"].(string); ok {
		n.State = nicState
	}

	if model, ok := parsed["model"].(string); ok {
		n.Model = model
	}

	if cn, ok := parsed["cn_uuid"].(string); ok {
		n.CNUUID = cn
	}

	if underlay, ok := parsed["underlay"].(bool); ok {
		n.Underlay = underlay
	}

	if tags, ok := parsed["nic_tags_provided"].([]string); ok {
		n.NICTagsProvided = tags
	}

	flags := map[string]*bool{
		"allow_dhcp_spoofing":      &n.AllowDHCPSpoofing,
		"allow_ip_spoofing":        &n.AllowIPSpoofing,
		"allow_mac_spoofing":       &n.AllowMACSpoofing,
		"allow_restricted_traffic": &n.AllowRestrictedTraffic,
		"allow_unfiltered_promisc": &n.AllowUnfilteredPromisc,
	}
	for name, dst := range flags {
		if v, ok := parsed[name].(bool); ok {
			*dst = v
		}
	}
}

// demotionOps returns updates clearing the primary flag on the holder's other
// primary NICs, committed in the same batch as the NIC gaining the flag.
func demotionOps(ctx context.Context, s *state.State, belongsToUUID string, exceptKey string) ([]db.Op, error) {
	objs, err := s.Store.FindObjects(ctx, bucketNICs,
		db.And(db.Eq("belongs_to_uuid", belongsToUUID), db.Eq("primary_flag", true)),
		db.FindOptions{})
	if err != nil {
		return nil, err
	}

	ops := []db.Op{}
	for _, obj := range objs {
		if obj.Key == exceptKey {
			continue
		}

		other, err := nicFromObject(obj)
		if err != nil {
			return nil, err
		}

		other.Primary = false
		other.ModifiedTimestamp = time.Now().UnixMilli()

		var network *Network
		if other.NetworkUUID != "" {
			network, err = GetNetwork(ctx, s, other.NetworkUUID)
			if err != nil {
				return nil, err
			}
		}

		ops = append(ops, db.PutOp(bucketNICs, obj.Key, other.raw(network), obj.Etag))
	}

	return ops, nil
}

// underlayMappingOps returns the op recording (or clearing) a compute node's
// underlay address mapping. The compute node is the server the NIC belongs to.
func underlayMappingOps(s *state.State, n *NIC, remove bool) []db.Op {
	if !n.Underlay || !n.IP.IsValid() {
		return nil
	}

	if remove {
		op := db.DeleteOp(bucketUnderlayMaps, n.BelongsToUUID, db.AnyEtag)
		op.IgnoreMissing = true
		return []db.Op{op}
	}

	value := map[string]any{
		"cn_uuid": n.BelongsToUUID,
		"ip":      n.IP.String(),
		"port":    s.Config.VXLANPort,
	}

	return []db.Op{db.PutOp(bucketUnderlayMaps, n.BelongsToUUID, value, db.AnyEtag)}
}

func overlayMappingKey(vnetID int, mac uint64) string {
	return fmt.Sprintf("%08d_%s", vnetID, macKey(mac))
}

// overlayMappingOps returns the op recording a fabric zone NIC's overlay
// mapping, or tombstoning it so connected compute nodes shoot down their VL2
// caches. NICs without a compute node have nothing to map.
func overlayMappingOps(n *NIC, network *Network, remove bool) []db.Op {
	if network == nil || !network.Fabric || !n.IP.IsValid() {
		return nil
	}

	if n.BelongsToType != api.NICBelongsToZone || n.CNUUID == "" {
		return nil
	}

	value := map[string]any{
		"mac":     n.MAC,
		"ip":      n.IP.String(),
		"cn_uuid": n.CNUUID,
		"vnet_id": network.VnetID,
		"deleted": remove,
	}

	return []db.Op{db.PutOp(bucketOverlayMaps, overlayMappingKey(network.VnetID, n.MAC), value, db.AnyEtag)}
}

// CreateNIC creates a NIC with a caller-chosen MAC, claiming the requested
// address (or the next free one when only a network is given) in the same
// atomic batch as the NIC row.
func CreateNIC(ctx context.Context, s *state.State, input map[string]any) (*NIC, error) {
	parsed, err := nicCreateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	nic := &NIC{
		MAC:               parsed["mac"].(uint64),
		OwnerUUID:         parsed["owner_uuid"].(string),
		BelongsToUUID:     parsed["belongs_to_uuid"].(string),
		BelongsToType:     parsed["belongs_to_type"].(string),
		State:             api.NICStateRunning,
		CreatedTimestamp:  time.Now().UnixMilli(),
		ModifiedTimestamp: time.Now().UnixMilli(),
	}

	applyNICBody(nic, parsed)

	var network *Network
	if networkUUID, ok := parsed["network_uuid"].(string); ok {
		network, err = GetNetwork(ctx, s, networkUUID)
		if err != nil {
			return nil, err
		}

		if !network.provisionableBy(s, nic.OwnerUUID) {
			return nil, api.NotAuthorizedError()
		}

		err = checkUnderlayBinding(s, nic, network)
		if err != nil {
			return nil, err
		}

		nic.NetworkUUID = network.UUID
	}

	reserved, _ := parsed["reserved"].(bool)
	addr, hasAddr := parsed["ip"].(netip.Addr)

	switch {
	case network == nil:
		err = commitNIC(ctx, s, nic, nil, db.NullEtag)
	case hasAddr:
		err = createNICWithAddress(ctx, s, nic, network, addr, reserved)
	default:
		err = createNICWithAllocation(ctx, s, nic, network, reserved)
	}

	if err != nil {
		if isEtagConflict(err) {
			return nil, api.InvalidParams(api.DuplicateParam("mac"))
		}

		return nil, err
	}

	logger.Info("Created NIC", logger.Ctx{"mac": FormatMAC(nic.MAC), "belongs_to": nic.BelongsToUUID})

	return nic, nil
}

// checkUnderlayBinding refuses underlay NICs off the configured underlay tag.
func checkUnderlayBinding(s *state.State, nic *NIC, network *Network) error {
	if !nic.Underlay || s.Config.UnderlayTag == "" {
		return nil
	}

	if network.NICTag != s.Config.UnderlayTag {
		return api.InvalidParams(api.InvalidParam("underlay",
			fmt.Sprintf("underlay NICs must use the %q nic tag", s.Config.UnderlayTag), true))
	}

	return nil
}

// commitNIC writes the NIC row plus its side effects (primary demotions and
// fabric/underlay mappings) in one batch.
func commitNIC(ctx context.Context, s *state.State, nic *NIC, network *Network, etag string) error {
	ops := []db.Op{db.PutOp(bucketNICs, nic.key(), nic.raw(network), etag)}

	if nic.Primary {
		demotions, err := demotionOps(ctx, s, nic.BelongsToUUID, nic.key())
		if err != nil {
			return err
		}

		ops = append(ops, demotions...)
	}

	ops = append(ops, underlayMappingOps(s, nic, false)...)
	ops = append(ops, overlayMappingOps(nic, network, false)...)

	err := s.Store.Batch(ctx, ops)
	if err != nil {
		return err
	}

	if network != nil && network.Fabric {
		publish(s, "vl2.update", map[string]any{
			"vnet_id": network.VnetID,
			"mac":     FormatMAC(nic.MAC),
			"ip":      nic.IP.String(),
			"cn_uuid": nic.CNUUID,
		})
	}

	return nil
}

func createNICWithAddress(ctx context.Context, s *state.State, nic *NIC, network *Network, addr netip.Addr, reserved bool) error {
	if !network.Subnet.Contains(addr) {
		return api.InvalidParams(api.InvalidParam("ip", "address is not within the network's subnet", addr.String()))
	}

	rng := network.IPRange()
	claim := ipam.Claim{
		BelongsToUUID: nic.BelongsToUUID,
		BelongsToType: nic.BelongsToType,
		OwnerUUID:     nic.OwnerUUID,
		Reserved:      reserved,
	}

	retries := s.Config.EtagRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		_, claimOp, err := s.IPAM.PlanClaim(ctx, rng.Bucket, addr, claim, s.Config.AdminUUID, rng.Legacy)
		if err != nil {
			return err
		}

		nic.IP = addr

		ops := []db.Op{db.PutOp(bucketNICs, nic.key(), nic.raw(network), db.NullEtag), claimOp}

		if nic.Primary {
			demotions, err := demotionOps(ctx, s, nic.BelongsToUUID, nic.key())
			if err != nil {
				return err
			}

			ops = append(ops, demotions...)
		}

		ops = append(ops, underlayMappingOps(s, nic, false)...)
		ops = append(ops, overlayMappingOps(nic, network, false)...)

		err = s.Store.Batch(ctx, ops)
		if err == nil {
			if network.Fabric {
				publish(s, "vl2.update", map[string]any{
					"vnet_id": network.VnetID,
					"mac":     FormatMAC(nic.MAC),
					"ip":      nic.IP.String(),
					"cn_uuid": nic.CNUUID,
				})
			}

			return nil
		}

		if !isEtagConflict(err) {
			return err
		}

		// Either the MAC or the address record lost a race; re-read and
		// retry, unless the MAC itself is taken.
		_, macErr := s.Store.GetObject(ctx, bucketNICs, nic.key())
		if macErr == nil {
			return api.InvalidParams(api.DuplicateParam("mac"))
		}

		lastErr = err
	}

	return mapCommitError(lastErr)
}

func createNICWithAllocation(ctx context.Context, s *state.State, nic *NIC, network *Network, reserved bool) error {
	claim := ipam.Claim{
		BelongsToUUID: nic.BelongsToUUID,
		BelongsToType: nic.BelongsToType,
		OwnerUUID:     nic.OwnerUUID,
		Reserved:      reserved,
	}

	rec, err := s.IPAM.Allocate(ctx, network.IPRange(), claim, func(rec *ipam.Record) ([]db.Op, error) {
		nic.IP = rec.Address

		ops := []db.Op{db.PutOp(bucketNICs, nic.key(), nic.raw(network), db.NullEtag)}

		if nic.Primary {
			demotions, err := demotionOps(ctx, s, nic.BelongsToUUID, nic.key())
			if err != nil {
				return nil, err
			}

			ops = append(ops, demotions...)
		}

		ops = append(ops, underlayMappingOps(s, nic, false)...)
		ops = append(ops, overlayMappingOps(nic, network, false)...)

		return ops, nil
	})
	if err != nil {
		return err
	}

	nic.IP = rec.Address

	if network.Fabric {
		publish(s, "vl2.update", map[string]any{
			"vnet_id": network.VnetID,
			"mac":     FormatMAC(nic.MAC),
			"ip":      nic.IP.String(),
			"cn_uuid": nic.CNUUID,
		})
	}

	return nil
}

// ProvisionNIC creates a NIC with a freshly generated MAC on the given
// network, allocating the next free address unless an explicit one is asked
// for.
func ProvisionNIC(ctx context.Context, s *state.State, network *Network, input map[string]any) (*NIC, error) {
	if _, hasMAC := input["mac"]; !hasMAC {
		mac, err := RandomMAC(s.Config.OUI)
		if err != nil {
			return nil, err
		}

		input["mac"] = FormatMAC(mac)
	}

	input["network_uuid"] = network.UUID

	return CreateNIC(ctx, s, input)
}

// GetNIC fetches a NIC by MAC.
func GetNIC(ctx context.Context, s *state.State, mac uint64) (*NIC, error) {
	obj, err := s.Store.GetObject(ctx, bucketNICs, macKey(mac))
	if err != nil {
		if isNotFound(err) {
			return nil, api.NotFoundErrorf("nic not found")
		}

		return nil, err
	}

	return nicFromObject(obj)
}

var nicListSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"owner_uuid":        validate.UUID,
		"belongs_to_uuid":   validate.UUID,
		"belongs_to_type":   validate.Enum(api.NICBelongsToZone, api.NICBelongsToServer, api.NICBelongsToOther),
		"network_uuid":      validate.UUID,
		"nic_tag":           validate.StringPattern(nicTagNameRe, 1, 31),
		"nic_tags_provided": validate.StringPattern(nicTagNameRe, 1, 31),
		"cn_uuid":           validate.UUID,
		"state":             nicStateEnum,
		"underlay":          validate.Bool,
		"limit":             validate.Int(1, 1000),
		"offset":            validate.Int(0, 1<<31-1),
	},
	Strict: true,
}

// ListNICs lists NICs matching the given query parameters, in MAC order.
func ListNICs(ctx context.Context, s *state.State, params map[string]any) ([]*NIC, error) {
	parsed, err := nicListSchema.Validate(ctx, params)
	if err != nil {
		return nil, err
	}

	filters := []db.Filter{}
	for _, field := range []string{"owner_uuid", "belongs_to_uuid", "belongs_to_type", "network_uuid", "nic_tag", "cn_uuid", "state"} {
		if v, ok := parsed[field].(string); ok {
			filters = append(filters, db.Eq(field, v))
		}
	}

	if tag, ok := parsed["nic_tags_provided"].(string); ok {
		filters = append(filters, db.Contains("nic_tags_provided", tag))
	}

	if underlay, ok := parsed["underlay"].(bool); ok {
		filters = append(filters, db.Eq("underlay", underlay))
	}

	var filter db.Filter
	if len(filters) > 0 {
		filter = db.And(filters...)
	}

	opts := db.FindOptions{}
	if limit, ok := parsed["limit"].(int); ok {
		opts.Limit = limit
	}

	if offset, ok := parsed["offset"].(int); ok {
		opts.Offset = offset
	}

	objs, err := s.Store.FindObjects(ctx, bucketNICs, filter, opts)
	if err != nil {
		return nil, err
	}

	nics := make([]*NIC, 0, len(objs))
	for _, obj := range objs {
		nic, err := nicFromObject(obj)
		if err != nil {
			return nil, err
		}

		nics = append(nics, nic)
	}

	return nics, nil
}

var nicUpdateSchema = &validate.Schema{
	Optional: func() map[string]validate.Validator {
		fields := nicBodySchema()
		fields["owner_uuid"] = validate.UUID
		fields["belongs_to_uuid"] = validate.UUID
		fields["belongs_to_type"] = validate.Enum(api.NICBelongsToZone, api.NICBelongsToServer, api.NICBelongsToOther)
		fields["ip"] = validate.IPAddr
		fields["network_uuid"] = validate.UUID
		return fields
	}(),
	Strict: true,
	After: []validate.Hook{
		{
			Fields: []string{"underlay", "belongs_to_type"},
			Run: func(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
				underlay, _ := parsed["underlay"].(bool)
				if !underlay {
					return nil
				}

				belongsType, present := parsed["belongs_to_type"].(string)
				if present && belongsType != api.NICBelongsToServer {
					errs.Add(api.InvalidParam("underlay", "only server NICs can be underlay NICs", true))
				}

				return nil
			},
		},
	},
}

// UpdateNIC updates a NIC. Moving the NIC to a different network or address
// releases the old claim and commits the new one in the same batch as the NIC
// row, so the NIC never holds two addresses.
func UpdateNIC(ctx context.Context, s *state.State, mac uint64, input map[string]any) (*NIC, error) {
	parsed, err := nicUpdateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	retries := s.Config.EtagRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		nic, err := GetNIC(ctx, s, mac)
		if err != nil {
			return nil, err
		}

		updated, err := updateNICOnce(ctx, s, nic, parsed)
		if err != nil {
			if isEtagConflict(err) {
				lastErr = err
				continue
			}

			return nil, err
		}

		return updated, nil
	}

	return nil, mapCommitError(lastErr)
}

func updateNICOnce(ctx context.Context, s *state.State, nic *NIC, parsed map[string]any) (*NIC, error) {
	updated := *nic
	updated.ModifiedTimestamp = time.Now().UnixMilli()

	if owner, ok := parsed["owner_uuid"].(string); ok {
		updated.OwnerUUID = owner
	}

	if belongsTo, ok := parsed["belongs_to_uuid"].(string); ok {
		updated.BelongsToUUID = belongsTo
	}

	if belongsType, ok := parsed["belongs_to_type"].(string); ok {
		updated.BelongsToType = belongsType
	}

	applyNICBody(&updated, parsed)

	var oldNetwork, newNetwork *Network
	var err error

	if nic.NetworkUUID != "" {
		oldNetwork, err = GetNetwork(ctx, s, nic.NetworkUUID)
		if err != nil {
			return nil, err
		}
	}

	newNetwork = oldNetwork
	if networkUUID, ok := parsed["network_uuid"].(string); ok && networkUUID != nic.NetworkUUID {
		newNetwork, err = GetNetwork(ctx, s, networkUUID)
		if err != nil {
			return nil, err
		}

		if !newNetwork.provisionableBy(s, updated.OwnerUUID) {
			return nil, api.NotAuthorizedError()
		}

		updated.NetworkUUID = newNetwork.UUID
	}

	newAddr, hasAddr := parsed["ip"].(netip.Addr)
	rebinding := (hasAddr && newAddr != nic.IP) || updated.NetworkUUID != nic.NetworkUUID
	retargeting := !rebinding && nic.IP.IsValid() &&
		(updated.BelongsToUUID != nic.BelongsToUUID || updated.BelongsToType != nic.BelongsToType ||
			updated.OwnerUUID != nic.OwnerUUID)

	ops := []db.Op{}

	if rebinding {
		if newNetwork == nil {
			return nil, api.InvalidParams(api.MissingParam("network_uuid"))
		}

		err = checkUnderlayBinding(s, &updated, newNetwork)
		if err != nil {
			return nil, err
		}

		// Release the old claim.
		if nic.IP.IsValid() && oldNetwork != nil {
			oldRec, err := GetIP(ctx, s, oldNetwork, nic.IP.String())
			if err != nil {
				return nil, err
			}

			if oldRec.Etag != "" {
				ops = append(ops, ipam.ReleaseOps(oldNetwork.IPRange().Bucket, oldRec, oldNetwork.IPRange().Legacy)...)
			}
		}

		if !hasAddr {
			return nil, api.InvalidParams(api.MissingParam("ip"))
		}

		if !newNetwork.Subnet.Contains(newAddr) {
			return nil, api.InvalidParams(api.InvalidParam("ip", "address is not within the network's subnet", newAddr.String()))
		}

		claim := ipam.Claim{
			BelongsToUUID: updated.BelongsToUUID,
			BelongsToType: updated.BelongsToType,
			OwnerUUID:     updated.OwnerUUID,
		}

		rng := newNetwork.IPRange()
		_, claimOp, err := s.IPAM.PlanClaim(ctx, rng.Bucket, newAddr, claim, s.Config.AdminUUID, rng.Legacy)
		if err != nil {
			return nil, err
		}

		ops = append(ops, claimOp)
		updated.IP = newAddr
	} else if retargeting {
		// The address record follows the NIC's holder.
		rec, err := GetIP(ctx, s, oldNetwork, nic.IP.String())
		if err != nil {
			return nil, err
		}

		if rec.Etag != "" {
			rng := oldNetwork.IPRange()
			rec.BelongsToUUID = updated.BelongsToUUID
			rec.BelongsToType = updated.BelongsToType
			rec.OwnerUUID = updated.OwnerUUID
			ops = append(ops, db.PutOp(rng.Bucket, ipam.Key(rec.Address), rec.Value(rng.Legacy), rec.Etag))
		}
	}

	ops = append([]db.Op{db.PutOp(bucketNICs, nic.key(), updated.raw(newNetwork), nic.Etag)}, ops...)

	if updated.Primary && !nic.Primary {
		demotions, err := demotionOps(ctx, s, updated.BelongsToUUID, nic.key())
		if err != nil {
			return nil, err
		}

		ops = append(ops, demotions...)
	}

	if nic.Underlay && (!updated.Underlay || rebinding) {
		ops = append(ops, underlayMappingOps(s, nic, true)...)
	}

	ops = append(ops, underlayMappingOps(s, &updated, false)...)

	if oldNetwork != nil && oldNetwork.Fabric && rebinding {
		ops = append(ops, overlayMappingOps(nic, oldNetwork, true)...)
	}

	ops = append(ops, overlayMappingOps(&updated, newNetwork, false)...)

	err = s.Store.Batch(ctx, ops)
	if err != nil {
		return nil, err
	}

	if (oldNetwork != nil && oldNetwork.Fabric) || (newNetwork != nil && newNetwork.Fabric) {
		publish(s, "vl2.update", map[string]any{
			"mac":     FormatMAC(updated.MAC),
			"ip":      updated.IP.String(),
			"cn_uuid": updated.CNUUID,
		})
	}

	return &updated, nil
}

// DeleteNIC deletes a NIC, releasing its address (reservations survive as
// free reserved records) and tombstoning any fabric mapping so compute nodes
// shoot down their VL2 caches.
func DeleteNIC(ctx context.Context, s *state.State, mac uint64) error {
	nic, err := GetNIC(ctx, s, mac)
	if err != nil {
		return err
	}

	ops := []db.Op{db.DeleteOp(bucketNICs, nic.key(), nic.Etag)}

	var network *Network
	if nic.NetworkUUID != "" {
		network, err = GetNetwork(ctx, s, nic.NetworkUUID)
		if err != nil && !api.StatusErrorCheck(err, 404) {
			return err
		}
	}

	if nic.IP.IsValid() && network != nil {
		rec, err := GetIP(ctx, s, network, nic.IP.String())
		if err != nil {
			return err
		}

		if rec.Etag != "" && rec.BelongsToUUID == nic.BelongsToUUID {
			rng := network.IPRange()
			ops = append(ops, ipam.ReleaseOps(rng.Bucket, rec, rng.Legacy)...)
		}
	}

	ops = append(ops, underlayMappingOps(s, nic, true)...)
	ops = append(ops, overlayMappingOps(nic, network, true)...)

	err = s.Store.Batch(ctx, ops)
	if err != nil {
		return mapCommitError(err)
	}

	if network != nil && network.Fabric {
		publish(s, "vl2.shootdown", map[string]any{
			"vnet_id": network.VnetID,
			"mac":     FormatMAC(nic.MAC),
			"ip":      nic.IP.String(),
		})
	}

	logger.Info("Deleted NIC", logger.Ctx{"mac": FormatMAC(nic.MAC)})

	return nil
}
