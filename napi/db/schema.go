package db

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/TritonDataCenter/sdc-napi-sub002/shared/validate"
)

// IndexType names the typed index kinds a bucket can declare.
type IndexType string

// Index types.
const (
	IndexString      IndexType = "string"
	IndexNumber      IndexType = "number"
	IndexBoolean     IndexType = "boolean"
	IndexIP          IndexType = "ip"
	IndexSubnet      IndexType = "subnet"
	IndexArrayIP     IndexType = "[ip]"
	IndexArrayString IndexType = "[string]"
)

// Index declares one indexed field of a bucket.
type Index struct {
	Type   IndexType `json:"type"`
	Unique bool      `json:"unique,omitempty"`
}

// Schema describes a versioned bucket.
type Schema struct {
	Name    string           `json:"name"`
	Version int              `json:"version"`
	Indexes map[string]Index `json:"indexes"`
}

// colPrefix prefixes index columns so field names can never collide with the
// fixed _key/_value/_etag columns or SQL keywords.
const colPrefix = "ix_"

var bucketNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// validName guards against interpolating anything but known-safe identifiers
// into DDL and queries.
func validName(name string) error {
	if !bucketNameRe.MatchString(name) {
		return fmt.Errorf("Invalid bucket name %q", name)
	}

	return nil
}

func (s *Schema) column(field string) string {
	return colPrefix + field
}

func (s *Schema) createStatements() ([]string, error) {
	err := validName(s.Name)
	if err != nil {
		return nil, err
	}

	cols := []string{"_key TEXT PRIMARY KEY", "_value TEXT NOT NULL", "_etag TEXT NOT NULL"}
	stmts := []string{}

	for field, idx := range s.Indexes {
		if !bucketNameRe.MatchString(field) {
			return nil, fmt.Errorf("Invalid index field %q", field)
		}

		sqlType := "TEXT"
		if idx.Type == IndexNumber || idx.Type == IndexBoolean {
			sqlType = "INTEGER"
		}

		cols = append(cols, s.column(field)+" "+sqlType)

		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}

		stmts = append(stmts, fmt.Sprintf(
			"CREATE %sINDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
			unique, s.Name, field, s.Name, s.column(field)))
	}

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.Name, strings.Join(cols, ", "))
	return append([]string{create}, stmts...), nil
}

// EncodeIP returns the fixed-width sortable encoding of an address: the hex
// form of its 16-byte representation (IPv4 addresses as v4-mapped v6). String
// comparison over these values orders addresses numerically, which is what
// the gap scan and the overlap queries rely on.
func EncodeIP(addr netip.Addr) string {
	b := addr.As16()
	return fmt.Sprintf("%x", b[:])
}

// DecodeIP reverses EncodeIP.
func DecodeIP(enc string) (netip.Addr, error) {
	if len(enc) != 32 {
		return netip.Addr{}, fmt.Errorf("Invalid encoded address %q", enc)
	}

	var b [16]byte
	for i := 0; i < 16; i++ {
		var v byte
		_, err := fmt.Sscanf(enc[i*2:i*2+2], "%02x", &v)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("Invalid encoded address %q", enc)
		}

		b[i] = v
	}

	addr := netip.AddrFrom16(b)
	return addr.Unmap(), nil
}

// encodeArray flattens a string array to a delimited form that supports
// membership tests with LIKE.
func encodeArray(items []string) string {
	if len(items) == 0 {
		return ",,"
	}

	return "," + strings.Join(items, ",") + ","
}

// encodeIndexValue converts a raw field value into its column representation.
func encodeIndexValue(idx Index, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch idx.Type {
	case IndexString, IndexSubnet:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}

		return s, nil

	case IndexNumber:
		n, err := validate.ToInt(value)
		if err != nil {
			return nil, err
		}

		return n, nil

	case IndexBoolean:
		b, err := validate.ToBool(value)
		if err != nil {
			return nil, err
		}

		if b {
			return int64(1), nil
		}

		return int64(0), nil

	case IndexIP:
		switch v := value.(type) {
		case netip.Addr:
			return EncodeIP(v), nil
		case string:
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, err
			}

			return EncodeIP(addr.Unmap()), nil
		}

		return nil, fmt.Errorf("expected IP address, got %T", value)

	case IndexArrayIP:
		addrs, ok := value.([]string)
		if !ok {
			return nil, fmt.Errorf("expected []string, got %T", value)
		}

		enc := make([]string, 0, len(addrs))
		for _, a := range addrs {
			addr, err := netip.ParseAddr(a)
			if err != nil {
				return nil, err
			}

			enc = append(enc, EncodeIP(addr.Unmap()))
		}

		return encodeArray(enc), nil

	case IndexArrayString:
		items, ok := value.([]string)
		if !ok {
			// Tolerate []any out of decoded JSON.
			anyItems, anyOK := value.([]any)
			if !anyOK {
				return nil, fmt.Errorf("expected []string, got %T", value)
			}

			items = make([]string, 0, len(anyItems))
			for _, item := range anyItems {
				s, sOK := item.(string)
				if !sOK {
					return nil, fmt.Errorf("expected string array element, got %T", item)
				}

				items = append(items, s)
			}
		}

		return encodeArray(items), nil
	}

	return nil, fmt.Errorf("unknown index type %q", idx.Type)
}
