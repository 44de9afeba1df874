// Package netutil expands scan targets: CIDR subnets, start/end spans, and
// per-octet range strings, all into flat IPv4 address lists.
package netutil

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ExpandCIDR returns all host addresses in a CIDR subnet. The network and
// broadcast addresses are excluded when the subnet has them.
// Example: "192.168.1.0/24" yields 254 addresses.
func ExpandCIDR(cidr string) ([]net.IP, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR: %w", err)
	}

	var ips []net.IP
	for cur := cloneIP(ip.Mask(ipnet.Mask)); ipnet.Contains(cur); incIP(cur) {
		ips = append(ips, cloneIP(cur))
	}

	if len(ips) > 2 {
		return ips[1 : len(ips)-1], nil
	}
	return ips, nil
}

// ExpandBetween returns all addresses from start to end inclusive.
func ExpandBetween(startIP, endIP string) ([]net.IP, error) {
	start := net.ParseIP(startIP).To4()
	if start == nil {
		return nil, fmt.Errorf("invalid start IP: %s", startIP)
	}
	end := net.ParseIP(endIP).To4()
	if end == nil {
		return nil, fmt.Errorf("invalid end IP: %s", endIP)
	}

	startInt := ipToUint32(start)
	endInt := ipToUint32(end)
	if startInt > endInt {
		return nil, fmt.Errorf("start IP %s is after end IP %s", startIP, endIP)
	}

	ips := make([]net.IP, 0, endInt-startInt+1)
	for i := startInt; i <= endInt; i++ {
		ips = append(ips, uint32ToIP(i))
	}
	return ips, nil
}

// IsValidIP checks if the given string is a valid IP address.
func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// IsPrivateIP checks if the IP is in a private range (RFC 1918).
func IsPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	ip = ip.To4()
	if ip == nil {
		return false
	}

	// 10.0.0.0/8
	if ip[0] == 10 {
		return true
	}

	// 172.16.0.0/12
	if ip[0] == 172 && ip[1] >= 16 && ip[1] <= 31 {
		return true
	}

	// 192.168.0.0/16
	if ip[0] == 192 && ip[1] == 168 {
		return true
	}

	return false
}

// incIP increments an IP address by one.
func incIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

// ipToUint32 converts an IPv4 address to a uint32.
func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

// uint32ToIP converts a uint32 to an IPv4 address.
func uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip
}
