package geolite

import (
	"errors"
	"net"
	"strconv"
	"testing"
)

func TestParseCIDRRange(t *testing.T) {
	tests := []struct {
		cidr  string
		start string
		end   string
	}{
		{cidr: "1.2.3.0/24", start: "1.2.3.0", end: "1.2.3.255"},
		{cidr: "10.0.0.1/32", start: "10.0.0.1", end: "10.0.0.1"},
		{cidr: "0.0.0.0/0", start: "0.0.0.0", end: "255.255.255.255"},
		{cidr: "192.168.0.0/16", start: "192.168.0.0", end: "192.168.255.255"},
		{cidr: "1.2.3.4/24", start: "1.2.3.4", end: "1.2.3.255"},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			got, err := ParseCIDRRange(tt.cidr)
			if err != nil {
				t.Fatalf("ParseCIDRRange(%q): %v", tt.cidr, err)
			}
			if s := Uint32ToIPv4(got.Start).String(); s != tt.start {
				t.Fatalf("start = %s, want %s", s, tt.start)
			}
			if e := Uint32ToIPv4(got.End).String(); e != tt.end {
				t.Fatalf("end = %s, want %s", e, tt.end)
			}
			if got.Start > got.End {
				t.Fatalf("start %d > end %d", got.Start, got.End)
			}
		})
	}
}

func TestParseCIDRRangeRejectsMalformed(t *testing.T) {
	inputs := []string{
		"",
		"1.2.3.0",
		"1.2.3/24",
		"1.2.3.0/33",
		"1.2.3.0/-1",
		"1.2.3.0/abc",
		"256.2.3.0/24",
		"::1/128",
		"a.b.c.d/8",
	}

	for _, input := range inputs {
		if _, err := ParseCIDRRange(input); !errors.Is(err, ErrMalformedCIDR) {
			t.Errorf("ParseCIDRRange(%q) error = %v, want ErrMalformedCIDR", input, err)
		}
	}
}

func TestPrefixLengthsKeepStartBeforeEnd(t *testing.T) {
	for bits := 0; bits <= 32; bits++ {
		cidr := "203.0.113.7/" + strconv.Itoa(bits)
		r, err := ParseCIDRRange(cidr)
		if err != nil {
			t.Fatalf("ParseCIDRRange(%q): %v", cidr, err)
		}
		if r.Start > r.End {
			t.Fatalf("%s: start %d > end %d", cidr, r.Start, r.End)
		}
		if bits == 32 && r.Start != r.End {
			t.Fatalf("%s: /32 should be a single address", cidr)
		}
	}
}

func TestParseIPv4(t *testing.T) {
	if v, err := ParseIPv4("1.2.3.4"); err != nil || v != 0x01020304 {
		t.Fatalf("ParseIPv4(1.2.3.4) = %#x, %v", v, err)
	}

	for _, input := range []string{"", "1.2.3", "2001:db8::1", "::ffff:1.2.3.4", "1.2.3.4.5", "01.2.3.4"} {
		if _, err := ParseIPv4(input); !errors.Is(err, ErrInvalidIP) {
			t.Errorf("ParseIPv4(%q) error = %v, want ErrInvalidIP", input, err)
		}
	}
}

func TestIPv4RoundTrip(t *testing.T) {
	ip := net.ParseIP("198.51.100.42")
	v, ok := IPv4ToUint32(ip)
	if !ok {
		t.Fatal("IPv4ToUint32 rejected an IPv4 address")
	}
	if got := Uint32ToIPv4(v); !got.Equal(ip) {
		t.Fatalf("round trip = %s, want %s", got, ip)
	}

	if _, ok := IPv4ToUint32(net.ParseIP("2001:db8::1")); ok {
		t.Fatal("IPv4ToUint32 accepted an IPv6 address")
	}
}

func TestNetworkRange(t *testing.T) {
	_, network, err := net.ParseCIDR("10.1.0.0/16")
	if err != nil {
		t.Fatalf("ParseCIDR: %v", err)
	}
	r, ok := NetworkRange(network)
	if !ok {
		t.Fatal("NetworkRange rejected an IPv4 network")
	}
	want, _ := ParseCIDRRange("10.1.0.0/16")
	if r != want {
		t.Fatalf("NetworkRange = %+v, want %+v", r, want)
	}
}
