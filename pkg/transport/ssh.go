package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/minefleet/asicscan/pkg/miner"
)

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHTimeout bounds connect plus command execution.
	DefaultSSHTimeout = 10 * time.Second
)

// SSH executes shell commands on a device over SSH with password auth.
// Miner control boards predate host key provisioning, so verification is
// skipped.
type SSH struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
	logger   *zap.Logger
}

// SSHOption configures an SSH transport.
type SSHOption func(*SSH)

// WithSSHPort overrides the default port.
func WithSSHPort(port int) SSHOption {
	return func(s *SSH) {
		s.port = port
	}
}

// WithSSHCredentials sets the login credentials.
func WithSSHCredentials(username, password string) SSHOption {
	return func(s *SSH) {
		s.username = username
		s.password = password
	}
}

// WithSSHTimeout bounds connect plus command execution.
func WithSSHTimeout(timeout time.Duration) SSHOption {
	return func(s *SSH) {
		s.timeout = timeout
	}
}

// WithSSHLogger sets the logger. The default discards everything.
func WithSSHLogger(logger *zap.Logger) SSHOption {
	return func(s *SSH) {
		s.logger = logger
	}
}

// NewSSH creates an SSH transport for the given device address.
func NewSSH(ip net.IP, opts ...SSHOption) *SSH {
	s := &SSH{
		host:     ip.String(),
		port:     DefaultSSHPort,
		username: "root",
		password: "root",
		timeout:  DefaultSSHTimeout,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Supports implements Transport.
func (s *SSH) Supports(kind miner.CommandKind) bool {
	return kind == miner.KindSSH
}

// Execute implements Transport. The command name is the shell command line.
// The trimmed combined output comes back encoded as a JSON string so that
// extractors can address it with ExtractRoot.
func (s *SSH) Execute(ctx context.Context, cmd miner.Command) ([]byte, error) {
	if cmd.Kind != miner.KindSSH {
		return nil, &NoTransportError{Kind: cmd.Kind}
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	config := &ssh.ClientConfig{
		User:            s.username,
		Auth:            []ssh.AuthMethod{ssh.Password(s.password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.timeout,
	}

	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if s.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session on %s: %w", addr, err)
	}
	defer session.Close()

	s.logger.Debug("ssh command",
		zap.String("addr", addr),
		zap.String("command", cmd.Name))

	out, err := session.CombinedOutput(cmd.Name)
	if err != nil {
		return nil, fmt.Errorf("ssh run %q on %s: %w", cmd.Name, addr, err)
	}
	return json.Marshal(string(bytes.TrimSpace(out)))
}

var _ Transport = (*SSH)(nil)
