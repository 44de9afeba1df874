package miner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandConstructors(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		expected Command
	}{
		{
			name:     "rpc without parameter",
			cmd:      RPC("devdetails"),
			expected: Command{Kind: KindRPC, Name: "devdetails"},
		},
		{
			name:     "rpc with parameter",
			cmd:      RPCParam("get.device.info", "miner"),
			expected: Command{Kind: KindRPC, Name: "get.device.info", Params: "miner"},
		},
		{
			name:     "web path",
			cmd:      WebAPI("api/v1/info"),
			expected: Command{Kind: KindWebAPI, Name: "api/v1/info"},
		},
		{
			name:     "graphql query",
			cmd:      GraphQL("{bos{info{version{full}}}}"),
			expected: Command{Kind: KindGraphQL, Name: "{bos{info{version{full}}}}"},
		},
		{
			name:     "grpc method",
			cmd:      GRPC("braiins.bos.v1.MinerService/GetMinerDetails"),
			expected: Command{Kind: KindGRPC, Name: "braiins.bos.v1.MinerService/GetMinerDetails"},
		},
		{
			name:     "ssh command line",
			cmd:      SSH("cat /etc/hwrevision"),
			expected: Command{Kind: KindSSH, Name: "cat /etc/hwrevision"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cmd)
		})
	}
}

func TestWebAPIParamsCanonical(t *testing.T) {
	// Equal maps must produce equal commands regardless of literal key order.
	a := WebAPIParams("cgi-bin/stats.cgi", map[string]string{"b": "2", "a": "1"})
	b := WebAPIParams("cgi-bin/stats.cgi", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":"1","b":"2"}`, a.Params)

	// An empty map degrades to the parameterless form.
	assert.Equal(t, WebAPI("summary"), WebAPIParams("summary", nil))
	assert.Equal(t, WebAPI("summary"), WebAPIParams("summary", map[string]string{}))
}

func TestCommandAsMapKey(t *testing.T) {
	seen := map[Command]int{}
	seen[RPC("summary")]++
	seen[RPC("summary")]++
	seen[RPCParam("summary", "0")]++
	seen[WebAPI("summary")]++

	assert.Len(t, seen, 3)
	assert.Equal(t, 2, seen[RPC("summary")])
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		expected string
	}{
		{name: "bare rpc", cmd: RPC("version"), expected: "rpc:version"},
		{name: "rpc with param", cmd: RPCParam("get.device.info", "miner"), expected: "rpc:get.device.info(miner)"},
		{name: "web", cmd: WebAPI("api/system/info"), expected: "web:api/system/info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cmd.String())
		})
	}
}

func TestCommandIsZero(t *testing.T) {
	assert.True(t, Command{}.IsZero())
	assert.False(t, RPC("version").IsZero())
}
