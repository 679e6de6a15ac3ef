package models

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"sort"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/ipam"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/validate"
)

// AdminNetworkName is the name of the admin network, fetchable by name in
// place of a UUID.
const AdminNetworkName = "admin"

// otherBelongsType marks infrastructure address records (gateways, resolvers,
// the broadcast address) that no NIC holds.
const otherBelongsType = "other"

// Network MTU lower bound (RFC 791 minimum reassembly size).
const mtuMin = 576

const maxResolvers = 4

var networkNameRe = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Network is a logical network: an L3 subnet bound to a NIC tag and VLAN,
// carrying a provision range from which NIC addresses are allocated. Fabric
// networks additionally belong to one owner's overlay (vnet_id).
type Network struct {
	UUID        string
	Name        string
	Description string

	Family string
	NICTag string
	VLANID int
	VnetID int
	MTU    int

	Subnet         netip.Prefix
	ProvisionStart netip.Addr
	ProvisionEnd   netip.Addr
	Gateway        netip.Addr
	Resolvers      []netip.Addr
	Routes         map[string]string

	OwnerUUIDs []string

	Fabric             bool
	InternetNAT        bool
	GatewayProvisioned bool

	// IPUseStrings records whether the network's IP bucket stores addresses
	// in canonical string form. Older IPv4 buckets store integers and are
	// dual-written for rollback safety.
	IPUseStrings bool

	Etag string
}

// nameStr returns the namespaced unique name: fabric network names are unique
// per owner, all others globally.
func (n *Network) nameStr() string {
	if n.Fabric && len(n.OwnerUUIDs) > 0 {
		return n.OwnerUUIDs[0] + ":" + n.Name
	}

	return "global:" + n.Name
}

// IPRange returns the allocation range over the network's IP bucket.
func (n *Network) IPRange() ipam.Range {
	return ipam.Range{
		Bucket: ipBucketName(n.UUID),
		Start:  n.ProvisionStart,
		End:    n.ProvisionEnd,
		Legacy: !n.IPUseStrings && n.Family == FamilyIPv4,
	}
}

func (n *Network) raw() map[string]any {
	resolvers := make([]string, 0, len(n.Resolvers))
	for _, r := range n.Resolvers {
		resolvers = append(resolvers, r.String())
	}

	owners := n.OwnerUUIDs
	if owners == nil {
		owners = []string{}
	}

	value := map[string]any{
		"uuid":               n.UUID,
		"name":               n.Name,
		"name_str":           n.nameStr(),
		"family":             n.Family,
		"nic_tag":            n.NICTag,
		"vlan_id":            n.VLANID,
		"mtu":                n.MTU,
		"subnet":             n.Subnet.String(),
		"subnet_start":       n.Subnet.Addr().String(),
		"subnet_end":         lastAddr(n.Subnet).String(),
		"provision_start_ip": n.ProvisionStart.String(),
		"provision_end_ip":   n.ProvisionEnd.String(),
		"resolvers":          resolvers,
		"owner_uuids":        owners,
		"fabric":             n.Fabric,
		"ip_use_strings":     n.IPUseStrings,
	}

	if n.Description != "" {
		value["description"] = n.Description
	}

	if n.Gateway.IsValid() {
		value["gateway"] = n.Gateway.String()
	}

	if len(n.Routes) > 0 {
		value["routes"] = n.Routes
	}

	if n.Fabric {
		value["vnet_id"] = n.VnetID
		value["internet_nat"] = n.InternetNAT
		value["gateway_provisioned"] = n.GatewayProvisioned
	}

	return value
}

type rawNetwork struct {
	UUID        string `mapstructure:"uuid"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`

	Family string `mapstructure:"family"`
	NICTag string `mapstructure:"nic_tag"`
	VLANID int    `mapstructure:"vlan_id"`
	VnetID int    `mapstructure:"vnet_id"`
	MTU    int    `mapstructure:"mtu"`

	Subnet           string            `mapstructure:"subnet"`
	ProvisionStartIP string            `mapstructure:"provision_start_ip"`
	ProvisionEndIP   string            `mapstructure:"provision_end_ip"`
	Gateway          string            `mapstructure:"gateway"`
	Resolvers        []string          `mapstructure:"resolvers"`
	Routes           map[string]string `mapstructure:"routes"`

	OwnerUUIDs []string `mapstructure:"owner_uuids"`

	Fabric             bool `mapstructure:"fabric"`
	InternetNAT        bool `mapstructure:"internet_nat"`
	GatewayProvisioned bool `mapstructure:"gateway_provisioned"`
	IPUseStrings       bool `mapstructure:"ip_use_strings"`
}

func networkFromObject(obj *db.Object) (*Network, error) {
	raw := rawNetwork{}
	err := mapstructure.WeakDecode(obj.Value, &raw)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode network %q: %w", obj.Key, err)
	}

	n := &Network{
		UUID:               raw.UUID,
		Name:               raw.Name,
		Description:        raw.Description,
		Family:             raw.Family,
		NICTag:             raw.NICTag,
		VLANID:             raw.VLANID,
		VnetID:             raw.VnetID,
		MTU:                raw.MTU,
		Routes:             raw.Routes,
		OwnerUUIDs:         raw.OwnerUUIDs,
		Fabric:             raw.Fabric,
		InternetNAT:        raw.InternetNAT,
		GatewayProvisioned: raw.GatewayProvisioned,
		IPUseStrings:       raw.IPUseStrings,
		Etag:               obj.Etag,
	}

	n.Subnet, err = netip.ParsePrefix(raw.Subnet)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse subnet of network %q: %w", obj.Key, err)
	}

	n.ProvisionStart, err = netip.ParseAddr(raw.ProvisionStartIP)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse provision range of network %q: %w", obj.Key, err)
	}

	n.ProvisionEnd, err = netip.ParseAddr(raw.ProvisionEndIP)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse provision range of network %q: %w", obj.Key, err)
	}

	if raw.Gateway != "" {
		n.Gateway, err = netip.ParseAddr(raw.Gateway)
		if err != nil {
			return nil, fmt.Errorf("Failed to parse gateway of network %q: %w", obj.Key, err)
		}
	}

	for _, r := range raw.Resolvers {
		addr, err := netip.ParseAddr(r)
		if err != nil {
			return nil, fmt.Errorf("Failed to parse resolver of network %q: %w", obj.Key, err)
		}

		n.Resolvers = append(n.Resolvers, addr)
	}

	return n, nil
}

// API returns the wire form of the network.
func (n *Network) API() *api.Network {
	resolvers := make([]string, 0, len(n.Resolvers))
	for _, r := range n.Resolvers {
		resolvers = append(resolvers, r.String())
	}

	out := &api.Network{
		UUID:             n.UUID,
		Name:             n.Name,
		Description:      n.Description,
		Family:           n.Family,
		NICTag:           n.NICTag,
		VLANID:           n.VLANID,
		MTU:              n.MTU,
		Subnet:           n.Subnet.String(),
		Netmask:          netmask(n.Subnet),
		ProvisionStartIP: n.ProvisionStart.String(),
		ProvisionEndIP:   n.ProvisionEnd.String(),
		Resolvers:        resolvers,
		Routes:           n.Routes,
		OwnerUUIDs:       n.OwnerUUIDs,
		Fabric:           n.Fabric,
	}

	if n.Gateway.IsValid() {
		out.Gateway = n.Gateway.String()
	}

	if n.Fabric {
		vnet := n.VnetID
		out.VnetID = &vnet
		out.InternetNAT = n.InternetNAT
		out.GatewayProvisioned = n.GatewayProvisioned
	}

	return out
}

func networkCreateSchema(s *state.State) *validate.Schema {
	return &validate.Schema{
		Required: map[string]validate.Validator{
			"name":               validate.StringPattern(networkNameRe, 1, 64),
			"subnet":             validate.Subnet,
			"nic_tag":            validate.StringPattern(nicTagNameRe, 1, 31),
			"provision_start_ip": validate.IPAddr,
			"provision_end_ip":   validate.IPAddr,
			"vlan_id":            validate.VLANID,
		},
		Optional: map[string]validate.Validator{
			"uuid":                validate.UUID,
			"description":         validate.String(0, 255),
			"family":              validate.Enum(FamilyIPv4, FamilyIPv6),
			"gateway":             validate.IPAddr,
			"resolvers":           validate.IPArray(maxResolvers),
			"routes":              routesValidator,
			"owner_uuids":         validate.UUIDArray(32),
			"mtu":                 validate.Int(mtuMin, MTUMax),
			"fabric":              validate.Bool,
			"vnet_id":             validate.VnetID,
			"internet_nat":        validate.Bool,
			"gateway_provisioned": validate.Bool,
		},
		Strict: true,
		After: []validate.Hook{
			{
				Fields: []string{"fabric", "vnet_id", "owner_uuids", "subnet", "gateway", "internet_nat", "nic_tag"},
				Run:    fabricCreateHook(s),
			},
			{
				Fields: []string{"subnet", "family", "gateway", "resolvers", "routes", "provision_start_ip", "provision_end_ip"},
				Run:    familyHook,
			},
			{
				Fields: []string{"subnet", "provision_start_ip", "provision_end_ip"},
				Run:    provisionRangeHook,
			},
			{
				Fields: []string{"nic_tag", "mtu"},
				Run:    nicTagMTUHook(s),
			},
		},
	}
}

// fabricCreateHook checks the fabric-only parameter coupling: fabrics need
// exactly one owner, a vnet_id and a private subnet, and may not ride the
// underlay NIC tag; classical networks may not carry fabric-only parameters.
func fabricCreateHook(s *state.State) func(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
	return func(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
		fabric, _ := parsed["fabric"].(bool)

		if !fabric {
			for _, field := range []string{"vnet_id", "internet_nat", "gateway_provisioned"} {
				v, present := parsed[field]
				if present {
					errs.Add(api.InvalidParam(field, "parameter only applies to fabric networks", v))
				}
			}

			return nil
		}

		owners, _ := parsed["owner_uuids"].([]string)
		switch {
		case len(owners) == 0:
			errs.Add(api.MissingParam("owner_uuids"))
		case len(owners) != 1:
			errs.Add(api.InvalidParam("owner_uuids", "fabric networks have exactly one owner", owners))
		}

		_, hasVnet := parsed["vnet_id"].(int)
		if !hasVnet {
			errs.Add(api.MissingParam("vnet_id"))
		}

		subnet, ok := parsed["subnet"].(netip.Prefix)
		if ok && !isPrivate(subnet) {
			errs.Add(api.InvalidParam("subnet", "fabric networks must use a private subnet", subnet.String()))
		}

		tag, ok := parsed["nic_tag"].(string)
		if ok && s.Config.UnderlayTag != "" && tag == s.Config.UnderlayTag {
			errs.Add(api.InvalidParam("nic_tag", "fabric networks cannot use the underlay nic tag", tag))
		}

		nat, present := parsed["internet_nat"].(bool)
		if !present {
			nat = true
			parsed["internet_nat"] = true
		}

		_, hasGateway := parsed["gateway"].(netip.Addr)
		if nat && !hasGateway {
			errs.Add(api.InvalidParam("internet_nat", "gateway is required when internet_nat is enabled", nat))
		}

		return nil
	}
}

// familyHook checks that the gateway, resolvers and routes share the subnet's
// address family and that the gateway lies within the subnet. Resolvers may be
// outside the subnet.
func familyHook(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
	subnet, ok := parsed["subnet"].(netip.Prefix)
	if !ok {
		return nil
	}

	family := prefixFamily(subnet)

	explicit, present := parsed["family"].(string)
	if present && explicit != family {
		errs.Add(api.InvalidParam("family", "family does not match the subnet", explicit))
	}

	gateway, present := parsed["gateway"].(netip.Addr)
	if present {
		if familyOf(gateway) != family {
			errs.Add(api.InvalidParam("gateway", "gateway does not match the subnet family", gateway.String()))
		} else if !subnet.Contains(gateway) {
			errs.Add(api.InvalidParam("gateway", "gateway is not within the subnet", gateway.String()))
		}
	}

	resolvers, present := parsed["resolvers"].([]netip.Addr)
	if present {
		for _, r := range resolvers {
			if familyOf(r) != family {
				errs.Add(api.InvalidParam("resolvers", "resolver does not match the subnet family", r.String()))
				break
			}
		}
	}

	routes, present := parsed["routes"].(map[string]string)
	if present {
		for dest, gw := range routes {
			destFam, gwFam := routeFamilies(dest, gw)
			if destFam != family || gwFam != family {
				errs.Add(api.InvalidParam("routes", "route does not match the subnet family", dest))
				break
			}
		}
	}

	return nil
}

// provisionRangeHook checks that the provision range lies within the subnet,
// is correctly ordered, and avoids the network and broadcast addresses.
func provisionRangeHook(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
	subnet, ok := parsed["subnet"].(netip.Prefix)
	if !ok {
		return nil
	}

	start, startOK := parsed["provision_start_ip"].(netip.Addr)
	end, endOK := parsed["provision_end_ip"].(netip.Addr)
	if !startOK || !endOK {
		return nil
	}

	for field, addr := range map[string]netip.Addr{"provision_start_ip": start, "provision_end_ip": end} {
		if !subnet.Contains(addr) {
			errs.Add(api.InvalidParam(field, "address is not within the subnet", addr.String()))
			continue
		}

		if subnet.Addr().Is4() && (addr == subnet.Addr() || addr == lastAddr(subnet)) {
			errs.Add(api.InvalidParam(field, "address cannot be the network or broadcast address", addr.String()))
		}
	}

	if start.Compare(end) >= 0 {
		errs.Add(api.InvalidParam("provision_start_ip", "provision_start_ip must be below provision_end_ip", start.String()))
	}

	return nil
}

// nicTagMTUHook resolves the NIC tag and checks the network MTU fits under
// it, defaulting the MTU to the tag's when unspecified.
func nicTagMTUHook(s *state.State) func(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
	return func(ctx context.Context, parsed map[string]any, errs *validate.FieldErrors) error {
		name, ok := parsed["nic_tag"].(string)
		if !ok {
			return nil
		}

		tag, err := GetNICTag(ctx, s, name)
		if err != nil {
			if api.StatusErrorCheck(err, 404) {
				errs.Add(api.InvalidParam("nic_tag", "nic tag does not exist", name))
				return nil
			}

			return err
		}

		mtu, present := parsed["mtu"].(int)
		if !present {
			parsed["mtu"] = tag.MTU
		} else if mtu > tag.MTU {
			errs.Add(api.InvalidParam("mtu", fmt.Sprintf("MTU cannot exceed %d, the MTU of nic tag %q", tag.MTU, name), mtu))
		}

		return nil
	}
}

// checkOverlap rejects the candidate subnet when it overlaps an existing
// network it must not coexist with. Classical networks may overlap only when
// both subnets are private; fabric networks may never overlap within the same
// vnet, but different vnets (and the classical world) are separate address
// spaces.
func checkOverlap(ctx context.Context, s *state.State, n *Network) error {
	stmt := fmt.Sprintf(
		"SELECT _key, ix_fabric, ix_vnet_id, ix_subnet FROM %s WHERE ix_family = ? AND ix_subnet_start <= ? AND ix_subnet_end >= ?",
		bucketNetworks)

	rows, err := s.Store.SQL(ctx, stmt,
		n.Family, db.EncodeIP(lastAddr(n.Subnet)), db.EncodeIP(n.Subnet.Addr()))
	if err != nil {
		return err
	}

	candidatePrivate := isPrivate(n.Subnet)

	conflicts := []api.FieldError{}
	for _, row := range rows {
		key, _ := row["_key"].(string)
		if key == n.UUID {
			continue
		}

		fabricInt, _ := validate.ToInt(row["ix_fabric"])
		if (fabricInt != 0) != n.Fabric {
			continue
		}

		if n.Fabric {
			vnet, _ := validate.ToInt(row["ix_vnet_id"])
			if int(vnet) != n.VnetID {
				continue
			}
		} else {
			otherSubnet, _ := row["ix_subnet"].(string)
			prefix, err := netip.ParsePrefix(otherSubnet)
			if err == nil && candidatePrivate && isPrivate(prefix) {
				continue
			}
		}

		conflicts = append(conflicts, api.FieldError{
			Field:   "subnet",
			Code:    api.CodeUsedBy,
			Message: fmt.Sprintf("Subnet overlaps with network %q", key),
			Invalid: key,
		})
	}

	if len(conflicts) > 0 {
		sort.Slice(conflicts, func(i, j int) bool {
			a, _ := conflicts[i].Invalid.(string)
			b, _ := conflicts[j].Invalid.(string)
			return a < b
		})

		return api.NetworkOverlapError(conflicts...)
	}

	return nil
}

// reservedRecord is the record holding an infrastructure address (gateway,
// in-subnet resolver, broadcast).
func reservedRecord(s *state.State, addr netip.Addr) *ipam.Record {
	return &ipam.Record{
		Address:       addr,
		Reserved:      true,
		BelongsToUUID: s.Config.AdminUUID,
		BelongsToType: otherBelongsType,
		OwnerUUID:     s.Config.AdminUUID,
	}
}

// CreateNetwork creates a network along with its IP bucket, pre-reserving the
// gateway, in-subnet resolvers and (for IPv4) the broadcast address, and
// placing the placeholder records that bound the allocation scan.
func CreateNetwork(ctx context.Context, s *state.State, input map[string]any) (*Network, error) {
	parsed, err := networkCreateSchema(s).Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	subnet := parsed["subnet"].(netip.Prefix)

	n := &Network{
		UUID:           uuid.New().String(),
		Name:           parsed["name"].(string),
		Family:         prefixFamily(subnet),
		NICTag:         parsed["nic_tag"].(string),
		VLANID:         parsed["vlan_id"].(int),
		MTU:            parsed["mtu"].(int),
		Subnet:         subnet,
		ProvisionStart: parsed["provision_start_ip"].(netip.Addr),
		ProvisionEnd:   parsed["provision_end_ip"].(netip.Addr),
		IPUseStrings:   true,
	}

	if id, ok := parsed["uuid"].(string); ok {
		n.UUID = id
	}

	if desc, ok := parsed["description"].(string); ok {
		n.Description = desc
	}

	if gw, ok := parsed["gateway"].(netip.Addr); ok {
		n.Gateway = gw
	}

	if resolvers, ok := parsed["resolvers"].([]netip.Addr); ok {
		n.Resolvers = resolvers
	}

	if routes, ok := parsed["routes"].(map[string]string); ok {
		n.Routes = routes
	}

	if owners, ok := parsed["owner_uuids"].([]string); ok {
		n.OwnerUUIDs = owners
	}

	if fabric, ok := parsed["fabric"].(bool); ok && fabric {
		n.Fabric = true
		n.VnetID = parsed["vnet_id"].(int)
		n.InternetNAT = parsed["internet_nat"].(bool)
		if gp, ok := parsed["gateway_provisioned"].(bool); ok {
			n.GatewayProvisioned = gp
		}
	}

	err = checkOverlap(ctx, s, n)
	if err != nil {
		return nil, err
	}

	bucket := ipBucketName(n.UUID)
	err = s.Store.InitBucket(ctx, ipBucketSchema(n.UUID))
	if err != nil {
		return nil, err
	}

	// Infrastructure addresses first; placeholders must not shadow them.
	records := map[netip.Addr]*ipam.Record{}
	if n.Gateway.IsValid() {
		records[n.Gateway] = reservedRecord(s, n.Gateway)
	}

	for _, r := range n.Resolvers {
		if subnet.Contains(r) && records[r] == nil {
			records[r] = reservedRecord(s, r)
		}
	}

	if subnet.Addr().Is4() {
		broadcast := lastAddr(subnet)
		if records[broadcast] == nil {
			records[broadcast] = reservedRecord(s, broadcast)
		}
	}

	for _, addr := range []netip.Addr{ipam.Prev(n.ProvisionStart), ipam.Next(n.ProvisionEnd)} {
		if records[addr] == nil {
			records[addr] = &ipam.Record{Address: addr}
		}
	}

	ops := []db.Op{db.PutOp(bucketNetworks, n.UUID, n.raw(), db.NullEtag)}
	for addr, rec := range records {
		ops = append(ops, db.PutOp(bucket, ipam.Key(addr), rec.Value(false), db.NullEtag))
	}

	err = s.Store.Batch(ctx, ops)
	if err != nil {
		_ = s.Store.DeleteBucket(ctx, bucket)

		uniqueErr, isUnique := db.IsUniqueError(err)
		if isUnique && uniqueErr.Field == "name_str" {
			return nil, api.InvalidParams(api.DuplicateParam("name"))
		}

		if isEtagConflict(err) {
			return nil, api.InvalidParams(api.DuplicateParam("uuid"))
		}

		return nil, err
	}

	logger.Info("Created network", logger.Ctx{"uuid": n.UUID, "name": n.Name, "subnet": n.Subnet.String()})

	return n, nil
}

// GetNetwork fetches a network by UUID, or by the literal name "admin".
func GetNetwork(ctx context.Context, s *state.State, id string) (*Network, error) {
	if id == AdminNetworkName {
		objs, err := s.Store.FindObjects(ctx, bucketNetworks,
			db.Eq("name_str", "global:"+AdminNetworkName), db.FindOptions{})
		if err != nil {
			return nil, err
		}

		if len(objs) == 0 {
			return nil, api.NotFoundErrorf("network not found")
		}

		if len(objs) > 1 {
			logger.Warn("Multiple admin networks found", logger.Ctx{"count": len(objs), "uuid": objs[0].Key})
		}

		return networkFromObject(objs[0])
	}

	obj, err := s.Store.GetObject(ctx, bucketNetworks, id)
	if err != nil {
		if isNotFound(err) {
			return nil, api.NotFoundErrorf("network not found")
		}

		return nil, err
	}

	return networkFromObject(obj)
}

var networkGetSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"owner_uuid":       validate.UUID,
		"provisionable_by": validate.UUID,
	},
	Strict: true,
}

// GetNetworkFor fetches a network while hiding it from accounts it does not
// belong to: owner_uuid must appear among the network's owners (admins see
// everything), and provisionable_by must be allowed to provision on it.
// Excluded networks read as absent rather than forbidden.
func GetNetworkFor(ctx context.Context, s *state.State, id string, params map[string]any) (*Network, error) {
	parsed, err := networkGetSchema.Validate(ctx, params)
	if err != nil {
		return nil, err
	}

	n, err := GetNetwork(ctx, s, id)
	if err != nil {
		return nil, err
	}

	if owner, ok := parsed["owner_uuid"].(string); ok && !s.IsAdmin(owner) {
		member := false
		for _, o := range n.OwnerUUIDs {
			if o == owner {
				member = true
				break
			}
		}

		if !member {
			return nil, api.NotFoundErrorf("network not found")
		}
	}

	if owner, ok := parsed["provisionable_by"].(string); ok && !n.provisionableBy(s, owner) {
		return nil, api.NotFoundErrorf("network not found")
	}

	return n, nil
}

var networkListSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"name":             validate.StringPattern(networkNameRe, 1, 64),
		"nic_tag":          validate.StringPattern(nicTagNameRe, 1, 31),
		"vlan_id":          validate.VLANID,
		"family":           validate.Enum(FamilyIPv4, FamilyIPv6),
		"fabric":           validate.Bool,
		"owner_uuid":       validate.UUID,
		"provisionable_by": validate.UUID,
		"limit":            validate.Int(1, 1000),
		"offset":           validate.Int(0, 1<<31-1),
	},
	Strict: true,
}

// ListNetworks lists networks matching the given query parameters, ordered by
// UUID.
func ListNetworks(ctx context.Context, s *state.State, params map[string]any) ([]*Network, error) {
	parsed, err := networkListSchema.Validate(ctx, params)
	if err != nil {
		return nil, err
	}

	filters := []db.Filter{}

	if tag, ok := parsed["nic_tag"].(string); ok {
		filters = append(filters, db.Eq("nic_tag", tag))
	}

	if vlan, ok := parsed["vlan_id"].(int); ok {
		filters = append(filters, db.Eq("vlan_id", vlan))
	}

	if family, ok := parsed["family"].(string); ok {
		filters = append(filters, db.Eq("family", family))
	}

	if fabric, ok := parsed["fabric"].(bool); ok {
		filters = append(filters, db.Eq("fabric", fabric))
	}

	if owner, ok := parsed["owner_uuid"].(string); ok {
		filters = append(filters, db.Contains("owner_uuids", owner))
	}

	if owner, ok := parsed["provisionable_by"].(string); ok && !s.IsAdmin(owner) {
		// Ownerless networks are provisionable by anyone.
		filters = append(filters, db.Or(
			db.Contains("owner_uuids", owner),
			db.Eq("owner_uuids", []string{}),
		))
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

	objs, err := s.Store.FindObjects(ctx, bucketNetworks, filter, opts)
	if err != nil {
		return nil, err
	}

	name, filterName := parsed["name"].(string)

	networks := make([]*Network, 0, len(objs))
	for _, obj := range objs {
		n, err := networkFromObject(obj)
		if err != nil {
			return nil, err
		}

		if filterName && n.Name != name {
			continue
		}

		networks = append(networks, n)
	}

	return networks, nil
}

var networkUpdateSchema = &validate.Schema{
	Optional: map[string]validate.Validator{
		"name":               validate.StringPattern(networkNameRe, 1, 64),
		"description":        validate.String(0, 255),
		"gateway":            validate.IPAddr,
		"resolvers":          validate.IPArray(maxResolvers),
		"routes":             routesValidator,
		"provision_start_ip": validate.IPAddr,
		"provision_end_ip":   validate.IPAddr,
		"mtu":                validate.Int(mtuMin, MTUMax),
		"owner_uuids":        validate.UUIDArray(32),

		// Immutable fields are accepted when unchanged so full-object
		// round trips stay idempotent.
		"uuid":                validate.UUID,
		"subnet":              validate.Subnet,
		"nic_tag":             validate.StringPattern(nicTagNameRe, 1, 31),
		"vlan_id":             validate.VLANID,
		"vnet_id":             validate.VnetID,
		"family":              validate.Enum(FamilyIPv4, FamilyIPv6),
		"fabric":              validate.Bool,
		"internet_nat":        validate.Bool,
		"gateway_provisioned": validate.Bool,
	},
	Strict: true,
}

// checkImmutable rejects changes to fields fixed at creation.
func checkImmutable(n *Network, parsed map[string]any, errs *validate.FieldErrors) {
	fixed := map[string]func() bool{
		"uuid":    func() bool { return parsed["uuid"].(string) != n.UUID },
		"subnet":  func() bool { return parsed["subnet"].(netip.Prefix) != n.Subnet },
		"nic_tag": func() bool { return parsed["nic_tag"].(string) != n.NICTag },
		"vlan_id": func() bool { return parsed["vlan_id"].(int) != n.VLANID },
		"vnet_id": func() bool { return parsed["vnet_id"].(int) != n.VnetID },
		"family":  func() bool { return parsed["family"].(string) != n.Family },
		"fabric":  func() bool { return parsed["fabric"].(bool) != n.Fabric },
	}

	if n.Fabric {
		fixed["internet_nat"] = func() bool { return parsed["internet_nat"].(bool) != n.InternetNAT }
		fixed["owner_uuids"] = func() bool {
			owners := parsed["owner_uuids"].([]string)
			if len(owners) != len(n.OwnerUUIDs) {
				return true
			}

			for i := range owners {
				if owners[i] != n.OwnerUUIDs[i] {
					return true
				}
			}

			return false
		}
		fixed["gateway"] = func() bool { return parsed["gateway"].(netip.Addr) != n.Gateway }
	}

	for field, changed := range fixed {
		v, present := parsed[field]
		if present && changed() {
			errs.Add(api.InvalidParam(field, field+" is immutable", v))
		}
	}
}

// UpdateNetwork updates a network's mutable fields. Provision range moves
// re-place the scan placeholders and a gateway change reserves the new
// gateway's record, all in the same atomic batch as the network row.
func UpdateNetwork(ctx context.Context, s *state.State, id string, input map[string]any) (*Network, error) {
	retries := s.Config.EtagRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		n, err := GetNetwork(ctx, s, id)
		if err != nil {
			return nil, err
		}

		updated, err := updateNetworkOnce(ctx, s, n, input)
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

func updateNetworkOnce(ctx context.Context, s *state.State, n *Network, input map[string]any) (*Network, error) {
	parsed, err := networkUpdateSchema.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	errs := &validate.FieldErrors{}
	checkImmutable(n, parsed, errs)
	err = errs.Err()
	if err != nil {
		return nil, err
	}

	updated := *n
	updated.Routes = n.Routes
	oldStart, oldEnd := n.ProvisionStart, n.ProvisionEnd
	oldGateway := n.Gateway

	if name, ok := parsed["name"].(string); ok {
		updated.Name = name
	}

	if desc, ok := parsed["description"].(string); ok {
		updated.Description = desc
	}

	if gw, ok := parsed["gateway"].(netip.Addr); ok {
		updated.Gateway = gw
	}

	if resolvers, ok := parsed["resolvers"].([]netip.Addr); ok {
		updated.Resolvers = resolvers
	}

	if routes, ok := parsed["routes"].(map[string]string); ok {
		updated.Routes = routes
	}

	if start, ok := parsed["provision_start_ip"].(netip.Addr); ok {
		updated.ProvisionStart = start
	}

	if end, ok := parsed["provision_end_ip"].(netip.Addr); ok {
		updated.ProvisionEnd = end
	}

	if owners, ok := parsed["owner_uuids"].([]string); ok && !n.Fabric {
		updated.OwnerUUIDs = owners
	}

	if mtu, ok := parsed["mtu"].(int); ok {
		tag, err := GetNICTag(ctx, s, n.NICTag)
		if err != nil {
			return nil, err
		}

		if mtu > tag.MTU {
			return nil, api.InvalidParams(api.InvalidParam("mtu",
				fmt.Sprintf("MTU cannot exceed %d, the MTU of nic tag %q", tag.MTU, n.NICTag), mtu))
		}

		updated.MTU = mtu
	}

	if gp, ok := parsed["gateway_provisioned"].(bool); ok && n.Fabric {
		updated.GatewayProvisioned = gp
	}

	// Re-run the cross-field coherence checks against the merged state.
	merged := map[string]any{
		"subnet":             updated.Subnet,
		"provision_start_ip": updated.ProvisionStart,
		"provision_end_ip":   updated.ProvisionEnd,
		"routes":             updated.Routes,
		"resolvers":          updated.Resolvers,
	}
	if updated.Gateway.IsValid() {
		merged["gateway"] = updated.Gateway
	}

	errs = &validate.FieldErrors{}
	err = familyHook(ctx, merged, errs)
	if err != nil {
		return nil, err
	}

	err = provisionRangeHook(ctx, merged, errs)
	if err != nil {
		return nil, err
	}

	err = errs.Err()
	if err != nil {
		return nil, err
	}

	bucket := ipBucketName(n.UUID)
	legacy := updated.IPRange().Legacy

	ops := []db.Op{db.PutOp(bucketNetworks, n.UUID, updated.raw(), n.Etag)}

	// Placeholders follow a provision range move: drop the records bounding
	// the old range (when still bare placeholders) and bound the new one.
	oldEdges := []netip.Addr{ipam.Prev(oldStart), ipam.Next(oldEnd)}
	newEdges := []netip.Addr{ipam.Prev(updated.ProvisionStart), ipam.Next(updated.ProvisionEnd)}

	for i, edge := range oldEdges {
		if edge == newEdges[i] {
			continue
		}

		obj, err := s.Store.GetObject(ctx, bucket, ipam.Key(edge))
		if err != nil {
			if isNotFound(err) {
				continue
			}

			return nil, err
		}

		rec, err := ipam.RecordFromObject(obj)
		if err != nil {
			return nil, err
		}

		if rec.Placeholder() {
			ops = append(ops, db.DeleteOp(bucket, ipam.Key(edge), rec.Etag))
		}
	}

	for i, edge := range newEdges {
		if edge == oldEdges[i] {
			continue
		}

		_, err := s.Store.GetObject(ctx, bucket, ipam.Key(edge))
		if err == nil {
			continue
		}

		if !isNotFound(err) {
			return nil, err
		}

		rec := &ipam.Record{Address: edge}
		ops = append(ops, db.PutOp(bucket, ipam.Key(edge), rec.Value(legacy), db.NullEtag))
	}

	// A new gateway address becomes reserved in the same batch.
	if updated.Gateway.IsValid() && updated.Gateway != oldGateway {
		obj, err := s.Store.GetObject(ctx, bucket, ipam.Key(updated.Gateway))
		if err != nil && !isNotFound(err) {
			return nil, err
		}

		if err != nil {
			rec := reservedRecord(s, updated.Gateway)
			ops = append(ops, db.PutOp(bucket, ipam.Key(updated.Gateway), rec.Value(legacy), db.NullEtag))
		} else {
			rec, err := ipam.RecordFromObject(obj)
			if err != nil {
				return nil, err
			}

			if !rec.Reserved {
				rec.Reserved = true
				ops = append(ops, db.PutOp(bucket, ipam.Key(updated.Gateway), rec.Value(legacy), rec.Etag))
			}
		}
	}

	err = s.Store.Batch(ctx, ops)
	if err != nil {
		uniqueErr, isUnique := db.IsUniqueError(err)
		if isUnique && uniqueErr.Field == "name_str" {
			return nil, api.InvalidParams(api.DuplicateParam("name"))
		}

		return nil, err
	}

	return &updated, nil
}

// DeleteNetwork deletes a network and its IP bucket, refusing while NICs
// occupy it or a pool contains it.
func DeleteNetwork(ctx context.Context, s *state.State, id string) error {
	n, err := GetNetwork(ctx, s, id)
	if err != nil {
		return err
	}

	nicObjs, err := s.Store.FindObjects(ctx, bucketNICs, db.Eq("network_uuid", n.UUID), db.FindOptions{})
	if err != nil {
		return err
	}

	if len(nicObjs) > 0 {
		// Keys are zero-padded MAC integers, so this is MAC order.
		errs := make([]api.FieldError, 0, len(nicObjs))
		for _, obj := range nicObjs {
			mac, err := ParseMAC(obj.Key)
			if err != nil {
				return err
			}

			errs = append(errs, api.UsedByResource("nic", FormatMAC(mac)))
		}

		return api.InUseError("network is in use", errs...)
	}

	poolObjs, err := s.Store.FindObjects(ctx, bucketNetworkPools, db.Contains("networks", n.UUID), db.FindOptions{})
	if err != nil {
		return err
	}

	if len(poolObjs) > 0 {
		errs := make([]api.FieldError, 0, len(poolObjs))
		for _, obj := range poolObjs {
			errs = append(errs, api.UsedByResource("network_pool", obj.Key))
		}

		return api.InUseError("network is in use", errs...)
	}

	err = s.Store.DelObject(ctx, bucketNetworks, n.UUID, n.Etag)
	if err != nil {
		return mapCommitError(err)
	}

	err = s.Store.DeleteBucket(ctx, ipBucketName(n.UUID))
	if err != nil {
		return err
	}

	logger.Info("Deleted network", logger.Ctx{"uuid": n.UUID, "name": n.Name})

	return nil
}

// provisionableBy reports whether an owner may provision NICs on the network.
func (n *Network) provisionableBy(s *state.State, ownerUUID string) bool {
	if len(n.OwnerUUIDs) == 0 || ownerUUID == "" || s.IsAdmin(ownerUUID) {
		return true
	}

	for _, o := range n.OwnerUUIDs {
		if o == ownerUUID {
			return true
		}
	}

	return false
}
