package models

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
)

// maxMAC is the largest 48-bit MAC value.
const maxMAC = (1 << 48) - 1

// ParseMAC accepts a MAC address in colon, dash or plain numeric form and
// returns its 48-bit integer value, which is how NICs are keyed.
func ParseMAC(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty MAC address")
	}

	sep := ""
	switch {
	case strings.Contains(s, ":"):
		sep = ":"
	case strings.Contains(s, "-"):
		sep = "-"
	}

	if sep == "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil || n > maxMAC {
			return 0, fmt.Errorf("invalid MAC address %q", s)
		}

		return n, nil
	}

	parts := strings.Split(s, sep)
	if len(parts) != 6 {
		return 0, fmt.Errorf("invalid MAC address %q", s)
	}

	var n uint64
	for _, part := range parts {
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid MAC address %q", s)
		}

		n = n<<8 | b
	}

	return n, nil
}

// FormatMAC renders a MAC integer in canonical colon form.
func FormatMAC(n uint64) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		byte(n>>40), byte(n>>32), byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

// macKey is the bucket key for a MAC: its zero-padded decimal integer form,
// so key order is MAC order.
func macKey(n uint64) string {
	return fmt.Sprintf("%015d", n)
}

// RandomMAC generates a MAC within the given OUI ("aa:bb:cc").
func RandomMAC(oui string) (uint64, error) {
	prefix, err := ParseMAC(oui + ":00:00:00")
	if err != nil {
		return 0, fmt.Errorf("invalid OUI %q", oui)
	}

	var b [3]byte
	_, err = rand.Read(b[:])
	if err != nil {
		return 0, err
	}

	return prefix | uint64(b[0])<<16 | uint64(b[1])<<8 | uint64(b[2]), nil
}
