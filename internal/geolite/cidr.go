package geolite

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Range is an inclusive IPv4 interval.
type Range struct {
	Start uint32
	End   uint32
}

func (r Range) Contains(ip uint32) bool {
	return r.Start <= ip && ip <= r.End
}

// ParseCIDRRange turns "a.b.c.d/n" into its inclusive numeric range. Host bits
// of the base address are kept as written.
func ParseCIDRRange(cidr string) (Range, error) {
	addr, prefix, ok := strings.Cut(strings.TrimSpace(cidr), "/")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q: missing prefix length", ErrMalformedCIDR, cidr)
	}

	base, err := ParseIPv4(addr)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q: %v", ErrMalformedCIDR, cidr, err)
	}

	bits, err := strconv.Atoi(prefix)
	if err != nil || bits < 0 || bits > 32 {
		return Range{}, fmt.Errorf("%w: %q: prefix length must be 0-32", ErrMalformedCIDR, cidr)
	}

	hostMask := uint32((uint64(1) << (32 - bits)) - 1)
	return Range{Start: base, End: base | hostMask}, nil
}

// ParseIPv4 accepts dotted-decimal IPv4 only. IPv6 and IPv4-mapped forms are
// rejected with ErrInvalidIP.
func ParseIPv4(s string) (uint32, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || !addr.Is4() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIP, s)
	}
	octets := addr.As4()
	return binary.BigEndian.Uint32(octets[:]), nil
}

func IPv4ToUint32(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

func Uint32ToIPv4(v uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

// NetworkRange converts a parsed IPv4 network into its inclusive range.
func NetworkRange(network *net.IPNet) (Range, bool) {
	if network == nil {
		return Range{}, false
	}
	start, ok := IPv4ToUint32(network.IP)
	if !ok {
		return Range{}, false
	}
	ones, bits := network.Mask.Size()
	if bits == 128 {
		ones -= 96
	}
	if ones < 0 || ones > 32 {
		return Range{}, false
	}
	return Range{Start: start, End: start | uint32((uint64(1)<<(32-ones))-1)}, true
}
