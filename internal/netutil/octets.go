package netutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseOctetRange parses one octet spec, either a single value "10" or an
// inclusive ascending range "1-199".
func ParseOctetRange(spec string) ([]uint8, error) {
	if strings.Contains(spec, "-") {
		parts := strings.Split(spec, "-")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid octet range %q", spec)
		}

		start, err := parseOctet(parts[0])
		if err != nil {
			return nil, err
		}
		end, err := parseOctet(parts[1])
		if err != nil {
			return nil, err
		}
		if start > end {
			return nil, fmt.Errorf("invalid octet range %q: start after end", spec)
		}

		out := make([]uint8, 0, int(end)-int(start)+1)
		for v := int(start); v <= int(end); v++ {
			out = append(out, uint8(v))
		}
		return out, nil
	}

	value, err := parseOctet(spec)
	if err != nil {
		return nil, err
	}
	return []uint8{value}, nil
}

func parseOctet(s string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid octet %q", s)
	}
	return uint8(v), nil
}

// ExpandOctets builds the cartesian product of four octet specs.
// ExpandOctets("10", "0", "1-2", "1-254") covers two /24s worth of hosts.
func ExpandOctets(octet1, octet2, octet3, octet4 string) ([]net.IP, error) {
	o1, err := ParseOctetRange(octet1)
	if err != nil {
		return nil, err
	}
	o2, err := ParseOctetRange(octet2)
	if err != nil {
		return nil, err
	}
	o3, err := ParseOctetRange(octet3)
	if err != nil {
		return nil, err
	}
	o4, err := ParseOctetRange(octet4)
	if err != nil {
		return nil, err
	}

	ips := make([]net.IP, 0, len(o1)*len(o2)*len(o3)*len(o4))
	for _, a := range o1 {
		for _, b := range o2 {
			for _, c := range o3 {
				for _, d := range o4 {
					ips = append(ips, net.IPv4(a, b, c, d).To4())
				}
			}
		}
	}
	return ips, nil
}

// ExpandRange expands a dotted range string such as "10.1-199.0.1-199":
// four dot-separated octet specs.
func ExpandRange(rangeStr string) ([]net.IP, error) {
	parts := strings.Split(rangeStr, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid range %q: expected four octet specs like 10.1-199.0.1-199", rangeStr)
	}
	return ExpandOctets(parts[0], parts[1], parts[2], parts[3])
}
