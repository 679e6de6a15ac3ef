// Package ipam implements race-free IP address allocation inside a network's
// IP bucket. There is no global lock: correctness comes from compare-and-swap
// on individual address records, with placeholder records bounding the gap
// scan at the edges of the provision range.
package ipam

import (
	"fmt"
	"math/big"
	"net/netip"

	"github.com/mitchellh/mapstructure"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
)

// Record is one address record. An address is free when BelongsToUUID is
// empty. A placeholder has no owner and is not reserved; it exists only so
// the gap scan sees both edges of the provision range.
type Record struct {
	Address       netip.Addr
	Reserved      bool
	BelongsToUUID string
	BelongsToType string
	OwnerUUID     string
	Etag          string
}

// Free reports whether the address has no current holder.
func (r *Record) Free() bool {
	return r.BelongsToUUID == ""
}

// Placeholder reports whether the record only bounds the gap scan.
func (r *Record) Placeholder() bool {
	return r.Free() && !r.Reserved && r.OwnerUUID == ""
}

// Claim describes who takes an address.
type Claim struct {
	BelongsToUUID string
	BelongsToType string
	OwnerUUID     string
	Reserved      bool
}

// Range describes the provision range of one network's IP bucket.
type Range struct {
	Bucket string
	Start  netip.Addr
	End    netip.Addr

	// Legacy enables the rollback-compatible dual write of the address as
	// both an integer and a string for IPv4 buckets at schema version <= 4.
	Legacy bool
}

type rawRecord struct {
	IP            any    `mapstructure:"ip"`
	IPAddr        string `mapstructure:"ipaddr"`
	Reserved      bool   `mapstructure:"reserved"`
	BelongsToUUID string `mapstructure:"belongs_to_uuid"`
	BelongsToType string `mapstructure:"belongs_to_type"`
	OwnerUUID     string `mapstructure:"owner_uuid"`
}

// Value returns the stored form of the record. Legacy buckets carry IPv4
// addresses as integers under "ip" with the canonical string under "ipaddr";
// current buckets store only the canonical string.
func (r *Record) Value(legacy bool) map[string]any {
	value := map[string]any{
		"reserved": r.Reserved,
	}

	if legacy && r.Address.Is4() {
		b := r.Address.As4()
		value["ip"] = int64(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
		value["ipaddr"] = r.Address.String()
	} else {
		value["ip"] = r.Address.String()
	}

	if r.BelongsToUUID != "" {
		value["belongs_to_uuid"] = r.BelongsToUUID
		value["belongs_to_type"] = r.BelongsToType
	}

	if r.OwnerUUID != "" {
		value["owner_uuid"] = r.OwnerUUID
	}

	return value
}

// RecordFromObject decodes a stored object back into a Record.
func RecordFromObject(obj *db.Object) (*Record, error) {
	raw := rawRecord{}
	err := mapstructure.WeakDecode(obj.Value, &raw)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode IP record %s/%s: %w", obj.Bucket, obj.Key, err)
	}

	rec := &Record{
		Reserved:      raw.Reserved,
		BelongsToUUID: raw.BelongsToUUID,
		BelongsToType: raw.BelongsToType,
		OwnerUUID:     raw.OwnerUUID,
		Etag:          obj.Etag,
	}

	switch {
	case raw.IPAddr != "":
		rec.Address, err = netip.ParseAddr(raw.IPAddr)
	default:
		switch ip := raw.IP.(type) {
		case string:
			rec.Address, err = netip.ParseAddr(ip)
		case float64:
			rec.Address = addrFromUint32(uint32(ip))
		case int64:
			rec.Address = addrFromUint32(uint32(ip))
		default:
			err = fmt.Errorf("unsupported address form %T", raw.IP)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("Failed to parse address in %s/%s: %w", obj.Bucket, obj.Key, err)
	}

	return rec, nil
}

func addrFromUint32(n uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

// Key returns the bucket key for an address: its fixed-width sortable
// encoding, so key order is address order.
func Key(addr netip.Addr) string {
	return db.EncodeIP(addr)
}

// Prev returns the address immediately before addr.
func Prev(addr netip.Addr) netip.Addr {
	return addr.Prev()
}

// Next returns the address immediately after addr.
func Next(addr netip.Addr) netip.Addr {
	return addr.Next()
}

// Distance returns the number of addresses in [from, to], clamped to
// maxInt64 for pathological IPv6 ranges.
func Distance(from netip.Addr, to netip.Addr) int64 {
	f := new(big.Int).SetBytes(from.AsSlice())
	t := new(big.Int).SetBytes(to.AsSlice())

	d := new(big.Int).Sub(t, f)
	d.Add(d, big.NewInt(1))

	if !d.IsInt64() {
		return int64(^uint64(0) >> 1)
	}

	return d.Int64()
}
