// Package overlay holds the data types shared by the forwarder and router:
// the 32-bit overlay packet, dotted-quad address parsing, and longest-prefix
// matching. Both cores import this package rather than each other.
package overlay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAddress is returned when a dotted-quad string cannot be parsed.
var ErrInvalidAddress = errors.New("overlay: invalid dotted-quad address")

// ParseIP parses a dotted-quad string ("10.1.0.1") into a 32-bit integer
// with the first octet in the high byte, matching the wire/text convention
// used by the router control plane.
func ParseIP(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	var ip uint32
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		ip = ip<<8 | uint32(v)
	}
	return ip, nil
}

// FormatIP renders a 32-bit address as a dotted quad.
func FormatIP(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip>>24&0xFF, ip>>16&0xFF, ip>>8&0xFF, ip&0xFF)
}
