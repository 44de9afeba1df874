package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/miner"
)

const (
	// DefaultGraphQLPort is the BraiinsOS web port serving /graphql.
	DefaultGraphQLPort = 80

	// DefaultGraphQLTimeout bounds one query round trip.
	DefaultGraphQLTimeout = 10 * time.Second
)

// graphqlLoginQuery is the BraiinsOS auth mutation. The session arrives as a
// session_id cookie, which the client's jar carries afterwards.
const graphqlLoginQuery = `mutation ($username: String!, $password: String!) {
	auth {
		login(username: $username, password: $password) {
			... on VoidResult { void }
		}
	}
}`

// GraphQL executes queries against a BraiinsOS-style /graphql endpoint,
// logging in once per session with the configured credentials.
type GraphQL struct {
	host     string
	port     int
	endpoint string
	username string
	password string
	timeout  time.Duration
	client   *http.Client
	logger   *zap.Logger

	loginMu  sync.Mutex
	loggedIn bool
}

// GraphQLOption configures a GraphQL transport.
type GraphQLOption func(*GraphQL)

// WithGraphQLPort overrides the default web port.
func WithGraphQLPort(port int) GraphQLOption {
	return func(g *GraphQL) {
		g.port = port
	}
}

// WithGraphQLCredentials sets the login credentials. BraiinsOS ships with
// user root and an empty password.
func WithGraphQLCredentials(username, password string) GraphQLOption {
	return func(g *GraphQL) {
		g.username = username
		g.password = password
	}
}

// WithGraphQLTimeout bounds each round trip.
func WithGraphQLTimeout(timeout time.Duration) GraphQLOption {
	return func(g *GraphQL) {
		g.timeout = timeout
	}
}

// WithGraphQLLogger sets the logger. The default discards everything.
func WithGraphQLLogger(logger *zap.Logger) GraphQLOption {
	return func(g *GraphQL) {
		g.logger = logger
	}
}

// NewGraphQL creates a GraphQL transport for the given device address.
func NewGraphQL(ip net.IP, opts ...GraphQLOption) *GraphQL {
	g := &GraphQL{
		host:     ip.String(),
		port:     DefaultGraphQLPort,
		username: "root",
		timeout:  DefaultGraphQLTimeout,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.endpoint = fmt.Sprintf("http://%s/graphql", net.JoinHostPort(g.host, strconv.Itoa(g.port)))

	jar, _ := cookiejar.New(nil)
	g.client = &http.Client{Timeout: g.timeout, Jar: jar}

	return g
}

// Supports implements Transport.
func (g *GraphQL) Supports(kind miner.CommandKind) bool {
	return kind == miner.KindGraphQL
}

// Execute implements Transport. The command name carries the full query
// text; the returned bytes are the whole response document, so extractor
// paths start at "data".
func (g *GraphQL) Execute(ctx context.Context, cmd miner.Command) ([]byte, error) {
	if cmd.Kind != miner.KindGraphQL {
		return nil, &NoTransportError{Kind: cmd.Kind}
	}

	if err := g.ensureSession(ctx); err != nil {
		return nil, err
	}

	body, err := g.post(ctx, map[string]any{"query": cmd.Name})
	if err != nil {
		return nil, err
	}

	if errs := gjson.GetBytes(body, "errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return nil, fmt.Errorf("graphql errors from %s: %s", g.host, errs.Raw)
	}
	if data := gjson.GetBytes(body, "data"); !data.Exists() || data.Type == gjson.Null {
		return nil, fmt.Errorf("graphql returned no data from %s: %w", g.host, ErrEmptyResponse)
	}

	return body, nil
}

// ensureSession performs the login mutation once per transport.
func (g *GraphQL) ensureSession(ctx context.Context) error {
	g.loginMu.Lock()
	defer g.loginMu.Unlock()

	if g.loggedIn {
		return nil
	}

	g.logger.Debug("graphql login", zap.String("host", g.host))

	body, err := g.post(ctx, map[string]any{
		"query": graphqlLoginQuery,
		"variables": map[string]string{
			"username": g.username,
			"password": g.password,
		},
	})
	if err != nil {
		return err
	}

	if errs := gjson.GetBytes(body, "errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return fmt.Errorf("graphql login rejected by %s: %w", g.host, ErrAuthenticationFailed)
	}

	g.loggedIn = true
	return nil
}

func (g *GraphQL) post(ctx context.Context, payload map[string]any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode graphql payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request to %s: %w", g.host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read graphql response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: trimForError(body), Endpoint: "graphql"}
	}

	return body, nil
}

var _ Transport = (*GraphQL)(nil)
