package miner

import (
	"encoding/json"
	"fmt"
)

// CommandKind identifies the wire protocol family a Command travels over.
type CommandKind string

const (
	KindRPC     CommandKind = "rpc"
	KindWebAPI  CommandKind = "web"
	KindGraphQL CommandKind = "graphql"
	KindGRPC    CommandKind = "grpc"
	KindSSH     CommandKind = "ssh"
)

// Command describes one request against a device: a protocol kind, a verb,
// and optional parameters. Commands are immutable after construction and
// compare structurally, so a Command is its own deduplication key and can be
// used directly as a map key.
type Command struct {
	// Kind selects which transport executes this command.
	Kind CommandKind

	// Name is the protocol verb: an RPC command word, a URL path, a GraphQL
	// query, a gRPC method, or a shell command line.
	Name string

	// Params is the canonical encoding of optional parameters: a plain
	// string for RPC commands, a JSON object with sorted keys for web
	// commands, empty when the command takes none.
	Params string
}

// RPC returns a raw-socket RPC command without parameters.
func RPC(command string) Command {
	return Command{Kind: KindRPC, Name: command}
}

// RPCParam returns a raw-socket RPC command with a single string parameter.
func RPCParam(command, parameter string) Command {
	return Command{Kind: KindRPC, Name: command, Params: parameter}
}

// WebAPI returns an HTTP API command for the given path.
func WebAPI(path string) Command {
	return Command{Kind: KindWebAPI, Name: path}
}

// WebAPIParams returns an HTTP API command with query parameters.
// Parameters are encoded canonically (JSON object, sorted keys) so two
// commands built from equal maps compare equal.
func WebAPIParams(path string, params map[string]string) Command {
	if len(params) == 0 {
		return WebAPI(path)
	}
	// json.Marshal sorts map keys, which makes the encoding canonical.
	encoded, err := json.Marshal(params)
	if err != nil {
		// A map[string]string cannot fail to marshal.
		panic(fmt.Sprintf("miner: encode web params: %v", err))
	}
	return Command{Kind: KindWebAPI, Name: path, Params: string(encoded)}
}

// GraphQL returns a GraphQL command carrying the full query text.
func GraphQL(query string) Command {
	return Command{Kind: KindGraphQL, Name: query}
}

// GRPC returns a gRPC command for the given fully qualified method.
func GRPC(method string) Command {
	return Command{Kind: KindGRPC, Name: method}
}

// SSH returns a shell command to run over SSH.
func SSH(command string) Command {
	return Command{Kind: KindSSH, Name: command}
}

// IsZero reports whether the command is the zero value.
func (c Command) IsZero() bool {
	return c == Command{}
}

// String returns a compact form for logs, e.g. "rpc:devdetails".
func (c Command) String() string {
	if c.Params == "" {
		return string(c.Kind) + ":" + c.Name
	}
	return fmt.Sprintf("%s:%s(%s)", c.Kind, c.Name, c.Params)
}
