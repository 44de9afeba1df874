package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandCIDR(t *testing.T) {
	ips, err := ExpandCIDR("192.168.1.0/24")
	require.NoError(t, err)
	require.Len(t, ips, 254)
	assert.Equal(t, "192.168.1.1", ips[0].String())
	assert.Equal(t, "192.168.1.254", ips[len(ips)-1].String())
}

func TestExpandCIDRSmallSubnet(t *testing.T) {
	ips, err := ExpandCIDR("10.0.0.0/30")
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "10.0.0.1", ips[0].String())
	assert.Equal(t, "10.0.0.2", ips[1].String())
}

func TestExpandCIDRInvalid(t *testing.T) {
	_, err := ExpandCIDR("not-a-subnet")
	assert.Error(t, err)
}

func TestExpandBetween(t *testing.T) {
	ips, err := ExpandBetween("192.168.1.250", "192.168.2.3")
	require.NoError(t, err)
	require.Len(t, ips, 10)
	assert.Equal(t, "192.168.1.250", ips[0].String())
	assert.Equal(t, "192.168.2.3", ips[9].String())
}

func TestExpandBetweenErrors(t *testing.T) {
	_, err := ExpandBetween("192.168.1.10", "192.168.1.1")
	assert.Error(t, err)

	_, err = ExpandBetween("bogus", "192.168.1.1")
	assert.Error(t, err)
}

func TestParseOctetRange(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		expected []uint8
		wantErr  bool
	}{
		{name: "single value", spec: "10", expected: []uint8{10}},
		{name: "range", spec: "1-5", expected: []uint8{1, 2, 3, 4, 5}},
		{name: "range touching max", spec: "253-255", expected: []uint8{253, 254, 255}},
		{name: "start after end", spec: "200-100", wantErr: true},
		{name: "three parts", spec: "1-5-10", wantErr: true},
		{name: "over 255", spec: "300", wantErr: true},
		{name: "not a number", spec: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOctetRange(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestExpandOctets(t *testing.T) {
	ips, err := ExpandOctets("192", "168", "1", "1-2")
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "192.168.1.1", ips[0].String())
	assert.Equal(t, "192.168.1.2", ips[1].String())
}

func TestExpandRange(t *testing.T) {
	ips, err := ExpandRange("10.0.1-2.1-100")
	require.NoError(t, err)
	assert.Len(t, ips, 200)
	assert.Equal(t, "10.0.1.1", ips[0].String())
	assert.Equal(t, "10.0.2.100", ips[len(ips)-1].String())
}

func TestExpandRangeErrors(t *testing.T) {
	_, err := ExpandRange("10.0.1")
	assert.Error(t, err)

	_, err = ExpandRange("10.0.1.300")
	assert.Error(t, err)
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.0.1", true},
		{"8.8.8.8", false},
		{"not-an-ip", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsPrivateIP(tt.ip))
		})
	}
}

func TestIsValidIP(t *testing.T) {
	assert.True(t, IsValidIP("192.168.1.1"))
	assert.True(t, IsValidIP(net.IPv4(10, 0, 0, 1).String()))
	assert.False(t, IsValidIP("192.168.1"))
}
