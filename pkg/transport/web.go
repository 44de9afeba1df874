package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/miner"
)

// DefaultWebTimeout bounds one web API round trip.
const DefaultWebTimeout = 10 * time.Second

// unlockConfig describes a bearer-token login endpoint declaratively: where
// to POST, what body to send, and where the token lives in the response.
type unlockConfig struct {
	path      string
	body      any
	tokenPath string
}

// formLoginConfig describes a LuCI-style form login that establishes a
// session cookie.
type formLoginConfig struct {
	path string
	form url.Values
}

// Web executes commands against a device's HTTP API. Depending on options it
// authenticates with digest credentials, a bearer token obtained from an
// unlock endpoint, or a form login session cookie.
type Web struct {
	host     string
	scheme   string
	port     int
	base     string
	timeout  time.Duration
	insecure bool
	logger   *zap.Logger

	client *http.Client
	digest *DigestAuth

	unlock *unlockConfig
	tokens *TokenCache

	formLogin *formLoginConfig
	loginMu   sync.Mutex
	loggedIn  bool
}

// WebOption configures a Web transport.
type WebOption func(*Web)

// WithWebScheme sets the URL scheme, "http" or "https".
func WithWebScheme(scheme string) WebOption {
	return func(w *Web) {
		w.scheme = scheme
	}
}

// WithWebPort overrides the scheme's default port.
func WithWebPort(port int) WebOption {
	return func(w *Web) {
		w.port = port
	}
}

// WithWebTimeout bounds each round trip.
func WithWebTimeout(timeout time.Duration) WebOption {
	return func(w *Web) {
		w.timeout = timeout
	}
}

// WithWebLogger sets the logger. The default discards everything.
func WithWebLogger(logger *zap.Logger) WebOption {
	return func(w *Web) {
		w.logger = logger
	}
}

// WithWebDigestAuth answers digest challenges with the given credentials.
func WithWebDigestAuth(username, password string) WebOption {
	return func(w *Web) {
		w.digest = NewDigestAuth(username, password)
	}
}

// WithWebBearerUnlock obtains a bearer token by POSTing body to path and
// reading the token at tokenPath in the JSON response. The token is attached
// to every request and refreshed once on 401.
func WithWebBearerUnlock(path string, body any, tokenPath string) WebOption {
	return func(w *Web) {
		w.unlock = &unlockConfig{path: path, body: body, tokenPath: tokenPath}
	}
}

// WithWebTokenCache shares a bearer token cache across transports.
func WithWebTokenCache(cache *TokenCache) WebOption {
	return func(w *Web) {
		w.tokens = cache
	}
}

// WithWebFormLogin establishes a session cookie by POSTing the form to path
// before the first command.
func WithWebFormLogin(path string, form url.Values) WebOption {
	return func(w *Web) {
		w.formLogin = &formLoginConfig{path: path, form: form}
	}
}

// WithWebInsecureTLS skips certificate verification. Device dashboards serve
// self-signed certificates.
func WithWebInsecureTLS() WebOption {
	return func(w *Web) {
		w.insecure = true
	}
}

// WithWebHTTPClient sets a custom HTTP client, bypassing the assembled
// digest and TLS configuration.
func WithWebHTTPClient(client *http.Client) WebOption {
	return func(w *Web) {
		w.client = client
	}
}

// NewWeb creates a web transport for the given device address.
func NewWeb(ip net.IP, opts ...WebOption) *Web {
	w := &Web{
		host:    ip.String(),
		scheme:  "http",
		timeout: DefaultWebTimeout,
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.port == 0 {
		if w.scheme == "https" {
			w.port = 443
		} else {
			w.port = 80
		}
	}
	w.base = fmt.Sprintf("%s://%s", w.scheme, net.JoinHostPort(w.host, strconv.Itoa(w.port)))

	if w.client == nil {
		var base http.RoundTripper = http.DefaultTransport
		if w.insecure {
			base = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			}
		}
		var rt http.RoundTripper = base
		if w.digest != nil {
			rt = &DigestTransport{Auth: w.digest, Transport: base}
		}
		w.client = &http.Client{Timeout: w.timeout, Transport: rt}
	}
	if w.formLogin != nil && w.client.Jar == nil {
		jar, _ := cookiejar.New(nil)
		w.client.Jar = jar
	}
	if w.unlock != nil && w.tokens == nil {
		w.tokens = NewTokenCache()
	}

	return w
}

// Supports implements Transport.
func (w *Web) Supports(kind miner.CommandKind) bool {
	return kind == miner.KindWebAPI
}

// Execute implements Transport.
func (w *Web) Execute(ctx context.Context, cmd miner.Command) ([]byte, error) {
	if cmd.Kind != miner.KindWebAPI {
		return nil, &NoTransportError{Kind: cmd.Kind}
	}
	return w.get(ctx, cmd, true)
}

func (w *Web) get(ctx context.Context, cmd miner.Command, retryAuth bool) ([]byte, error) {
	if w.formLogin != nil {
		if err := w.ensureFormSession(ctx); err != nil {
			return nil, err
		}
	}

	u := w.base + "/" + strings.TrimPrefix(cmd.Name, "/")
	if cmd.Params != "" {
		var params map[string]string
		if err := json.Unmarshal([]byte(cmd.Params), &params); err != nil {
			return nil, fmt.Errorf("decode params for %s: %w", cmd.Name, err)
		}
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", cmd.Name, err)
	}
	req.Header.Set("Accept", "application/json")

	if w.unlock != nil {
		token, err := w.ensureToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w.logger.Debug("web command",
		zap.String("host", w.host),
		zap.String("path", cmd.Name))

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", cmd.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", cmd.Name, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && w.unlock != nil && retryAuth {
		// The token went stale. Unlock again and retry once.
		w.tokens.Clear(w.host)
		return w.get(ctx, cmd, false)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    trimForError(body),
			Endpoint:   cmd.Name,
		}
	}

	return body, nil
}

// ensureToken returns a cached bearer token or performs the unlock.
func (w *Web) ensureToken(ctx context.Context) (string, error) {
	if token := w.tokens.Get(w.host); token != "" {
		return token, nil
	}

	payload, err := json.Marshal(w.unlock.body)
	if err != nil {
		return "", fmt.Errorf("encode unlock body: %w", err)
	}

	u := w.base + "/" + strings.TrimPrefix(w.unlock.path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create unlock request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("unlock %s: %w", w.host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read unlock response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unlock %s rejected (HTTP %d): %w", w.host, resp.StatusCode, ErrAuthenticationFailed)
	}

	token := gjson.GetBytes(body, w.unlock.tokenPath).String()
	if token == "" {
		return "", fmt.Errorf("unlock response missing %q: %w", w.unlock.tokenPath, ErrAuthenticationFailed)
	}

	w.tokens.Set(w.host, token)
	return token, nil
}

// ensureFormSession performs the form login once per transport.
func (w *Web) ensureFormSession(ctx context.Context) error {
	w.loginMu.Lock()
	defer w.loginMu.Unlock()

	if w.loggedIn {
		return nil
	}

	u := w.base + "/" + strings.TrimPrefix(w.formLogin.path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u,
		strings.NewReader(w.formLogin.form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("form login %s: %w", w.host, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("form login %s rejected (HTTP %d): %w", w.host, resp.StatusCode, ErrAuthenticationFailed)
	}

	w.loggedIn = true
	return nil
}

// trimForError keeps error messages readable when a device responds with a
// whole HTML page.
func trimForError(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

var _ Transport = (*Web)(nil)
