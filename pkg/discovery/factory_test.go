package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/minefleet/asicscan/pkg/backends/btminer"
	"github.com/minefleet/asicscan/pkg/miner"
)

func TestAdaptiveConcurrency(t *testing.T) {
	tests := []struct {
		ips  int
		want int
	}{
		{ips: 1, want: 25},
		{ips: 100, want: 25},
		{ips: 101, want: 50},
		{ips: 1000, want: 50},
		{ips: 1001, want: 100},
		{ips: 5000, want: 100},
		{ips: 5001, want: 150},
		{ips: 10000, want: 150},
		{ips: 10001, want: 200},
		{ips: 65536, want: 200},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, adaptiveConcurrency(tt.ips), "for %d addresses", tt.ips)
	}
}

func TestNewExpandsSubnet(t *testing.T) {
	factory, err := New(WithSubnet("192.168.10.0/24"))
	require.NoError(t, err)

	addrs := factory.Addresses()
	// Network and broadcast addresses are excluded.
	assert.Len(t, addrs, 254)
	assert.Equal(t, "192.168.10.1", addrs[0].String())
	assert.Equal(t, "192.168.10.254", addrs[len(addrs)-1].String())
	assert.Equal(t, 50, factory.Concurrency())
}

func TestNewExpandsOctetRanges(t *testing.T) {
	factory, err := New(WithOctets("10", "0", "0-3", "1-100"))
	require.NoError(t, err)
	assert.Len(t, factory.Addresses(), 400)
	assert.Equal(t, 50, factory.Concurrency())
}

func TestNewExpandsIPRange(t *testing.T) {
	factory, err := New(WithIPRange("192.168.1.10", "192.168.1.50"))
	require.NoError(t, err)

	addrs := factory.Addresses()
	assert.Len(t, addrs, 41)
	assert.Equal(t, "192.168.1.10", addrs[0].String())
	assert.Equal(t, "192.168.1.50", addrs[len(addrs)-1].String())
	assert.Equal(t, 25, factory.Concurrency())
}

func TestNewDeduplicatesAcrossSources(t *testing.T) {
	factory, err := New(
		WithSubnet("192.168.1.0/30"),
		WithIPRange("192.168.1.1", "192.168.1.2"),
		WithHosts("192.168.1.2"),
	)
	require.NoError(t, err)
	assert.Len(t, factory.Addresses(), 2)
}

// Addresses outside the RFC 1918 ranges still scan, but construction calls
// them out once.
func TestNewWarnsOnPublicTargets(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	factory, err := New(
		WithHosts("8.8.8.8", "192.168.1.5"),
		WithLogger(zap.New(core)),
	)
	require.NoError(t, err)
	assert.Len(t, factory.Addresses(), 2)

	entries := logs.FilterMessage("scan targets outside private ranges").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["addresses"])
}

func TestNewRejectsMalformedTargets(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{name: "bad cidr", opt: WithSubnet("not-a-subnet")},
		{name: "bad octet range", opt: WithOctets("10", "0", "9-1", "1")},
		{name: "octet out of bounds", opt: WithOctets("10", "0", "0", "1-300")},
		{name: "reversed ip range", opt: WithIPRange("192.168.1.50", "192.168.1.10")},
		{name: "bad host", opt: WithHosts("999.999.999.999")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestExplicitConcurrencyWins(t *testing.T) {
	factory, err := New(WithSubnet("192.168.10.0/24"), WithConcurrency(8))
	require.NoError(t, err)
	assert.Equal(t, 8, factory.Concurrency())
}

func TestScanWithoutAddresses(t *testing.T) {
	factory, err := New()
	require.NoError(t, err)

	_, err = factory.Scan(context.Background())
	assert.Error(t, err)
}

// Resolve against a blackhole address must come back empty within the probe
// timeout instead of hanging. 203.0.113.0/24 is reserved for documentation
// and never routed.
func TestResolveUnreachableAddressIsBounded(t *testing.T) {
	ip := net.ParseIP("203.0.113.1")
	factory, err := New(WithIPs(ip), WithTimeout(250*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	m, err := factory.Resolve(context.Background(), ip)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestScanStreamClosesOnEmptySweep(t *testing.T) {
	factory, err := New()
	require.NoError(t, err)

	ch := factory.ScanStream(context.Background())
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("stream never closed")
	}
}

func TestNarrowedSearchShrinksProbes(t *testing.T) {
	full, err := New(WithHosts("192.168.1.1"))
	require.NoError(t, err)

	narrow, err := New(WithHosts("192.168.1.1"),
		WithSearchMakes(miner.MakeBitAxe),
		WithSearchFirmwares(miner.FirmwareEPic),
	)
	require.NoError(t, err)

	assert.Greater(t, len(full.probes), len(narrow.probes))
	assert.Equal(t, []miner.Command{probeWebRoot}, narrow.probes)
}

// fakeMinerSocket answers each cgminer-style request by command name and
// closes, the way the real socket APIs behave.
func fakeMinerSocket(t *testing.T, responses map[string]string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				buf := make([]byte, 512)
				n, _ := conn.Read(buf)
				command := gjson.GetBytes(buf[:n], "command").String()
				_, _ = conn.Write([]byte(responses[command]))
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

// unusedPort reserves a port and releases it, so a dial against it is
// refused immediately.
func unusedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// A WhatsMiner-shaped listener carries one address end to end: probe race,
// classification, version and model resolution, and backend construction.
func TestResolveEndToEnd(t *testing.T) {
	port := fakeMinerSocket(t, map[string]string{
		"devdetails":  `{"STATUS":[{"STATUS":"S","Description":"btminer"}],"DEVDETAILS":[{"DEVDETAILS":0,"Model":"M30S++VG40"}]}`,
		"get_version": `{"STATUS":"S","Msg":{"fw_ver":"20240601.01.REL"}}`,
	})

	factory, err := New(
		WithHosts("127.0.0.1"),
		WithSearchMakes(miner.MakeWhatsMiner),
		WithTimeout(2*time.Second),
	)
	require.NoError(t, err)
	factory.prober.rpcPort = port
	factory.prober.webPort = unusedPort(t)
	factory.resolver.rpcPort = port

	m, err := factory.Resolve(context.Background(), net.ParseIP("127.0.0.1"))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.IsType(t, &btminer.Gen2{}, m)

	dev := m.DeviceInfo()
	assert.Equal(t, miner.MakeWhatsMiner, dev.Make)
	assert.Equal(t, miner.FirmwareStock, dev.Firmware)
	assert.Equal(t, "M30S++ VG40", dev.Model.Name)
}

// The same listener answering nothing recognizable resolves to no miner and
// no error.
func TestResolveEndToEndUnrecognized(t *testing.T) {
	port := fakeMinerSocket(t, map[string]string{
		"devdetails": `{"STATUS":[{"STATUS":"E","Msg":"invalid command"}]}`,
	})

	factory, err := New(
		WithHosts("127.0.0.1"),
		WithSearchMakes(miner.MakeWhatsMiner),
		WithTimeout(time.Second),
	)
	require.NoError(t, err)
	factory.prober.rpcPort = port
	factory.prober.webPort = unusedPort(t)
	factory.resolver.rpcPort = port

	m, err := factory.Resolve(context.Background(), net.ParseIP("127.0.0.1"))
	require.NoError(t, err)
	assert.Nil(t, m)
}
