package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/miner"
)

// Framing selects the wire format of a raw TCP RPC endpoint.
type Framing uint8

const (
	// FramingPlain is the cgminer convention: a bare JSON request, the
	// response read until the device closes the connection, padded with NUL
	// bytes.
	FramingPlain Framing = iota

	// FramingLengthPrefix is the convention of newer WhatsMiner control
	// boards: a little-endian uint32 byte length precedes each JSON document
	// in both directions.
	FramingLengthPrefix
)

const (
	// DefaultRPCPort is the cgminer API port.
	DefaultRPCPort = 4028

	// LengthPrefixRPCPort is the WhatsMiner length-prefixed API port.
	LengthPrefixRPCPort = 4433

	// DefaultRPCTimeout bounds one command round trip.
	DefaultRPCTimeout = 5 * time.Second
)

// maxFrameSize caps a length-prefixed response so a bogus frame header
// cannot force a huge allocation.
const maxFrameSize = 8 << 20

// RPC executes commands against a device's raw TCP API.
type RPC struct {
	host    string
	port    int
	framing Framing
	timeout time.Duration
	logger  *zap.Logger
}

// RPCOption configures an RPC transport.
type RPCOption func(*RPC)

// WithRPCPort overrides the framing's default port.
func WithRPCPort(port int) RPCOption {
	return func(r *RPC) {
		r.port = port
	}
}

// WithRPCFraming selects the wire format. The default port follows the
// framing unless WithRPCPort overrides it.
func WithRPCFraming(f Framing) RPCOption {
	return func(r *RPC) {
		r.framing = f
	}
}

// WithRPCTimeout bounds each command round trip.
func WithRPCTimeout(timeout time.Duration) RPCOption {
	return func(r *RPC) {
		r.timeout = timeout
	}
}

// WithRPCLogger sets the logger. The default discards everything.
func WithRPCLogger(logger *zap.Logger) RPCOption {
	return func(r *RPC) {
		r.logger = logger
	}
}

// NewRPC creates an RPC transport for the given device address.
func NewRPC(ip net.IP, opts ...RPCOption) *RPC {
	r := &RPC{
		host:    ip.String(),
		framing: FramingPlain,
		timeout: DefaultRPCTimeout,
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.port == 0 {
		switch r.framing {
		case FramingLengthPrefix:
			r.port = LengthPrefixRPCPort
		default:
			r.port = DefaultRPCPort
		}
	}

	return r
}

// Supports implements Transport.
func (r *RPC) Supports(kind miner.CommandKind) bool {
	return kind == miner.KindRPC
}

// Execute implements Transport.
func (r *RPC) Execute(ctx context.Context, cmd miner.Command) ([]byte, error) {
	if cmd.Kind != miner.KindRPC {
		return nil, &NoTransportError{Kind: cmd.Kind}
	}

	payload, err := r.encodeRequest(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Name, err)
	}

	addr := net.JoinHostPort(r.host, strconv.Itoa(r.port))
	dialer := net.Dialer{Timeout: r.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if r.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(r.timeout))
	}

	r.logger.Debug("rpc command",
		zap.String("addr", addr),
		zap.String("command", cmd.Name))

	switch r.framing {
	case FramingLengthPrefix:
		return r.roundTripLengthPrefix(conn, payload)
	default:
		return r.roundTripPlain(conn, payload)
	}
}

func (r *RPC) encodeRequest(cmd miner.Command) ([]byte, error) {
	switch r.framing {
	case FramingLengthPrefix:
		req := map[string]string{"cmd": cmd.Name}
		if cmd.Params != "" {
			req["param"] = cmd.Params
		}
		return json.Marshal(req)
	default:
		req := map[string]string{"command": cmd.Name}
		if cmd.Params != "" {
			req["parameter"] = cmd.Params
		}
		return json.Marshal(req)
	}
}

func (r *RPC) roundTripPlain(conn net.Conn, payload []byte) ([]byte, error) {
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil && len(raw) == 0 {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// cgminer pads responses with NUL bytes.
	raw = bytes.ReplaceAll(raw, []byte{0}, nil)
	if len(raw) == 0 {
		return nil, ErrEmptyResponse
	}
	return raw, nil
}

func (r *RPC) roundTripLengthPrefix(conn net.Conn, payload []byte) ([]byte, error) {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := conn.Write(header[:]); err != nil {
		return nil, fmt.Errorf("write frame header: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	size := binary.LittleEndian.Uint32(header[:])
	if size == 0 {
		return nil, ErrEmptyResponse
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("%d byte frame exceeds %d byte limit", size, maxFrameSize)
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(conn, raw); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return raw, nil
}

var _ Transport = (*RPC)(nil)
