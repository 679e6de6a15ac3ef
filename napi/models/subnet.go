package models

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/TritonDataCenter/sdc-napi-sub002/shared/validate"
)

// Address families.
const (
	FamilyIPv4 = "ipv4"
	FamilyIPv6 = "ipv6"
)

var rfc1918 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

var ula = netip.MustParsePrefix("fc00::/7")

func familyOf(addr netip.Addr) string {
	if addr.Is4() {
		return FamilyIPv4
	}

	return FamilyIPv6
}

func prefixFamily(prefix netip.Prefix) string {
	return familyOf(prefix.Addr())
}

// isPrivate reports whether the subnet lies entirely within RFC1918 (v4) or
// the ULA range (v6). Overlap between private networks is allowed; fabric
// networks must be private.
func isPrivate(prefix netip.Prefix) bool {
	if prefix.Addr().Is4() {
		for _, p := range rfc1918 {
			if p.Contains(prefix.Addr()) && prefix.Bits() >= p.Bits() {
				return true
			}
		}

		return false
	}

	return ula.Contains(prefix.Addr()) && prefix.Bits() >= ula.Bits()
}

// lastAddr returns the highest address in the subnet (for IPv4, the
// broadcast address).
func lastAddr(prefix netip.Prefix) netip.Addr {
	bytes := prefix.Addr().AsSlice()
	bits := prefix.Bits()

	for i := bits; i < len(bytes)*8; i++ {
		bytes[i/8] |= 1 << (7 - i%8)
	}

	addr, _ := netip.AddrFromSlice(bytes)
	return addr.Unmap()
}

// netmask returns the dotted netmask of an IPv4 subnet.
func netmask(prefix netip.Prefix) string {
	if !prefix.Addr().Is4() {
		return ""
	}

	mask := ^uint32(0) << (32 - prefix.Bits())
	return fmt.Sprintf("%d.%d.%d.%d", byte(mask>>24), byte(mask>>16), byte(mask>>8), byte(mask))
}

// routesValidator checks a routes object: destinations are addresses or CIDR
// subnets, next hops are addresses or the literal "linklocal". Family
// coherence against the subnet is checked by a cross-field hook.
func routesValidator(ctx context.Context, name string, value any) (any, validate.ExtraFields, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		m, mOK := value.(map[string]string)
		if !mOK {
			return nil, nil, validate.Errf("must be an object")
		}

		obj = map[string]any{}
		for k, v := range m {
			obj[k] = v
		}
	}

	routes := map[string]string{}
	for dest, gw := range obj {
		gwStr, ok := gw.(string)
		if !ok {
			return nil, nil, validate.Errf("route gateway must be a string")
		}

		if gwStr != "linklocal" {
			gwAddr, err := netip.ParseAddr(gwStr)
			if err != nil {
				return nil, nil, validate.Errf("invalid route gateway %q", gwStr)
			}

			gwStr = gwAddr.Unmap().String()
		}

		destStr, err := canonicalDest(dest)
		if err != nil {
			return nil, nil, err
		}

		routes[destStr] = gwStr
	}

	return routes, nil, nil
}

// routeFamilies returns the family of a route's destination and gateway; a
// "linklocal" gateway matches any family.
func routeFamilies(dest string, gw string) (string, string) {
	destFamily, err := routeDestFamily(dest)
	if err != nil {
		return "", ""
	}

	if gw == "linklocal" {
		return destFamily, destFamily
	}

	gwAddr, err := netip.ParseAddr(gw)
	if err != nil {
		return destFamily, ""
	}

	return destFamily, familyOf(gwAddr.Unmap())
}

func routeDestFamily(dest string) (string, error) {
	if strings.Contains(dest, "/") {
		prefix, err := netip.ParsePrefix(dest)
		if err != nil {
			return "", validate.Errf("invalid route destination %q", dest)
		}

		return prefixFamily(prefix), nil
	}

	addr, err := netip.ParseAddr(dest)
	if err != nil {
		return "", validate.Errf("invalid route destination %q", dest)
	}

	return familyOf(addr.Unmap()), nil
}

func canonicalDest(dest string) (string, error) {
	if strings.Contains(dest, "/") {
		prefix, err := netip.ParsePrefix(dest)
		if err != nil {
			return "", validate.Errf("invalid route destination %q", dest)
		}

		return prefix.Masked().String(), nil
	}

	addr, err := netip.ParseAddr(dest)
	if err != nil {
		return "", validate.Errf("invalid route destination %q", dest)
	}

	return addr.Unmap().String(), nil
}
