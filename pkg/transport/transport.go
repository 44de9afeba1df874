// Package transport executes miner commands over the wire protocols ASIC
// fleets actually speak: raw TCP RPC in both cgminer and length-prefixed
// framing, vendor web APIs with digest or bearer authentication, LuCI-style
// form sessions, GraphQL, and SSH. A transport knows how to move bytes for
// one protocol family; it never interprets them.
package transport

import (
	"context"

	"github.com/minefleet/asicscan/pkg/miner"
)

// Transport executes commands of the kinds it supports and returns the raw
// response body. Implementations are safe for concurrent use.
type Transport interface {
	// Supports reports whether this transport can execute the given kind.
	Supports(kind miner.CommandKind) bool

	// Execute runs one command and returns the raw response bytes.
	Execute(ctx context.Context, cmd miner.Command) ([]byte, error)
}

// Set is an ordered group of transports bound to one device.
type Set []Transport

// For returns the first transport in the set that supports the kind.
func (s Set) For(kind miner.CommandKind) (Transport, bool) {
	for _, t := range s {
		if t.Supports(kind) {
			return t, true
		}
	}
	return nil, false
}

// Execute dispatches the command to the first supporting transport.
func (s Set) Execute(ctx context.Context, cmd miner.Command) ([]byte, error) {
	t, ok := s.For(cmd.Kind)
	if !ok {
		return nil, &NoTransportError{Kind: cmd.Kind}
	}
	return t.Execute(ctx, cmd)
}
