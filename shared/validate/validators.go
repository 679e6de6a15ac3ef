package validate

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ToInt coerces a JSON or query-string value to an int64.
func ToInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("not an integer")
		}

		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer")
		}

		return n, nil
	}

	return 0, fmt.Errorf("not an integer")
}

// ToBool coerces a JSON or query-string value to a bool.
func ToBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("not a boolean")
		}

		return b, nil
	}

	return false, fmt.Errorf("not a boolean")
}

func toString(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("not a string")
	}

	return s, nil
}

func toSlice(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}

		return out, nil
	case string:
		// Query-string form: comma separated.
		parts := strings.Split(v, ",")
		out := make([]any, len(parts))
		for i, s := range parts {
			out[i] = s
		}

		return out, nil
	}

	return nil, fmt.Errorf("not an array")
}

// UUID validates an RFC4122 UUID string.
func UUID(ctx context.Context, name string, value any) (any, ExtraFields, error) {
	s, err := toString(value)
	if err != nil {
		return nil, nil, err
	}

	id, err := uuid.Parse(s)
	if err != nil || strings.Count(s, "-") != 4 {
		return nil, nil, Errf("invalid UUID")
	}

	return id.String(), nil, nil
}

// String validates a string with the given length bounds.
func String(min int, max int) Validator {
	return func(ctx context.Context, name string, value any) (any, ExtraFields, error) {
		s, err := toString(value)
		if err != nil {
			return nil, nil, err
		}

		if len(s) < min || len(s) > max {
			return nil, nil, Errf("must be between %d and %d characters", min, max)
		}

		return s, nil, nil
	}
}

// StringPattern validates a string against a pattern and length bounds.
func StringPattern(re *regexp.Regexp, min int, max int) Validator {
	return func(ctx context.Context, name string, value any) (any, ExtraFields, error) {
		s, err := toString(value)
		if err != nil {
			return nil, nil, err
		}

		if len(s) < min || len(s) > max {
			return nil, nil, Errf("must be between %d and %d characters", min, max)
		}

		if !re.MatchString(s) {
			return nil, nil, Errf("must match %s", re.String())
		}

		return s, nil, nil
	}
}

// Bool validates a boolean (or "true"/"false" query string).
func Bool(ctx context.Context, name string, value any) (any, ExtraFields, error) {
	b, err := ToBool(value)
	if err != nil {
		return nil, nil, err
	}

	return b, nil, nil
}

// Int validates an integer within [min, max].
func Int(min int64, max int64) Validator {
	return func(ctx context.Context, name string, value any) (any, ExtraFields, error) {
		n, err := ToInt(value)
		if err != nil {
			return nil, nil, err
		}

		if n < min || n > max {
			return nil, nil, Errf("must be between %d and %d", min, max)
		}

		return int(n), nil, nil
	}
}

// Enum validates membership in a fixed value set.
func Enum(values ...string) Validator {
	return func(ctx context.Context, name string, value any) (any, ExtraFields, error) {
		s, err := toString(value)
		if err != nil {
			return nil, nil, err
		}

		for _, v := range values {
			if s == v {
				return s, nil, nil
			}
		}

		return nil, nil, Errf("must be one of: %s", strings.Join(values, ", "))
	}
}

// IPAddr validates an IPv4 or IPv6 address and parses it to a netip.Addr.
func IPAddr(ctx context.Context, name string, value any) (any, ExtraFields, error) {
	s, err := toString(value)
	if err != nil {
		return nil, nil, err
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil, nil, Errf("invalid IP address")
	}

	return addr.Unmap(), nil, nil
}

// Subnet validates a CIDR subnet and parses it to a netip.Prefix. The address
// part must be the network address (a masked prefix).
func Subnet(ctx context.Context, name string, value any) (any, ExtraFields, error) {
	s, err := toString(value)
	if err != nil {
		return nil, nil, err
	}

	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return nil, nil, Errf("invalid subnet CIDR")
	}

	if prefix.Masked() != prefix {
		return nil, nil, Errf("subnet address must be the network address")
	}

	return prefix, nil, nil
}

// VLANID validates a VLAN identifier: 0, or 2-4094. VLAN 1 is forbidden.
func VLANID(ctx context.Context, name string, value any) (any, ExtraFields, error) {
	n, err := ToInt(value)
	if err != nil {
		return nil, nil, err
	}

	if n == 1 || n < 0 || n > 4094 {
		return nil, nil, Errf("must be 0 or in the range 2-4094")
	}

	return int(n), nil, nil
}

// VnetID validates an overlay virtual network identifier (24 bits).
func VnetID(ctx context.Context, name string, value any) (any, ExtraFields, error) {
	n, err := ToInt(value)
	if err != nil {
		return nil, nil, err
	}

	if n < 0 || n > (1<<24)-1 {
		return nil, nil, Errf("must be in the range 0-16777215")
	}

	return int(n), nil, nil
}

// StringArray validates a bounded array whose elements pass elem, returning
// the parsed elements as []string.
func StringArray(max int, elem Validator) Validator {
	return func(ctx context.Context, name string, value any) (any, ExtraFields, error) {
		items, err := toSlice(value)
		if err != nil {
			return nil, nil, err
		}

		if len(items) > max {
			return nil, nil, Errf("must have at most %d entries", max)
		}

		out := make([]string, 0, len(items))
		for _, item := range items {
			pv, _, err := elem(ctx, name, item)
			if err != nil {
				return nil, nil, err
			}

			s, ok := pv.(string)
			if !ok {
				return nil, nil, Errf("invalid element")
			}

			out = append(out, s)
		}

		return out, nil, nil
	}
}

// UUIDArray validates a bounded array of UUIDs.
func UUIDArray(max int) Validator {
	return StringArray(max, UUID)
}

// IPArray validates a bounded array of IP addresses, returning []netip.Addr.
func IPArray(max int) Validator {
	return func(ctx context.Context, name string, value any) (any, ExtraFields, error) {
		items, err := toSlice(value)
		if err != nil {
			return nil, nil, err
		}

		if len(items) > max {
			return nil, nil, Errf("must have at most %d entries", max)
		}

		out := make([]netip.Addr, 0, len(items))
		for _, item := range items {
			pv, _, err := IPAddr(ctx, name, item)
			if err != nil {
				return nil, nil, err
			}

			out = append(out, pv.(netip.Addr))
		}

		return out, nil, nil
	}
}
