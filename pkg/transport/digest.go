package transport

import (
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// DigestAuth holds credentials for HTTP Digest Authentication. Stock AntMiner
// web interfaces challenge every request with MD5 digest auth.
type DigestAuth struct {
	Username string
	Password string
	nc       uint64 // nonce counter
}

// NewDigestAuth creates a digest auth handler.
func NewDigestAuth(username, password string) *DigestAuth {
	return &DigestAuth{Username: username, Password: password}
}

// DigestTransport is an http.RoundTripper that answers digest challenges.
type DigestTransport struct {
	Auth      *DigestAuth
	Transport http.RoundTripper
}

// RoundTrip implements http.RoundTripper with digest auth support.
func (t *DigestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	// First request without auth to obtain the challenge.
	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	authHeader := resp.Header.Get("WWW-Authenticate")
	if !strings.HasPrefix(authHeader, "Digest ") {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	challenge := parseDigestChallenge(authHeader)
	if challenge == nil {
		return resp, nil
	}

	newReq := req.Clone(req.Context())
	newReq.Header.Set("Authorization", t.Auth.authorize(req.Method, req.URL.RequestURI(), challenge))

	return transport.RoundTrip(newReq)
}

// digestChallenge contains parsed WWW-Authenticate header values.
type digestChallenge struct {
	Realm     string
	Nonce     string
	QOP       string
	Algorithm string
	Opaque    string
}

// parseDigestChallenge parses a WWW-Authenticate: Digest header.
func parseDigestChallenge(header string) *digestChallenge {
	if !strings.HasPrefix(header, "Digest ") {
		return nil
	}

	challenge := &digestChallenge{}
	for _, part := range strings.Split(header[7:], ",") {
		part = strings.TrimSpace(part)
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:idx]))
		value := strings.Trim(strings.TrimSpace(part[idx+1:]), "\"")

		switch key {
		case "realm":
			challenge.Realm = value
		case "nonce":
			challenge.Nonce = value
		case "qop":
			challenge.QOP = value
		case "algorithm":
			challenge.Algorithm = value
		case "opaque":
			challenge.Opaque = value
		}
	}

	return challenge
}

// authorize builds the Authorization header answering a challenge.
func (a *DigestAuth) authorize(method, uri string, c *digestChallenge) string {
	nc := atomic.AddUint64(&a.nc, 1)
	ncStr := fmt.Sprintf("%08x", nc)
	cnonce := fmt.Sprintf("%08x", nc*12345)

	// HA1 = MD5(username:realm:password), HA2 = MD5(method:uri)
	ha1 := md5Hash(fmt.Sprintf("%s:%s:%s", a.Username, c.Realm, a.Password))
	ha2 := md5Hash(fmt.Sprintf("%s:%s", method, uri))

	var response string
	if c.QOP == "auth" || c.QOP == "auth-int" {
		response = md5Hash(fmt.Sprintf("%s:%s:%s:%s:%s:%s",
			ha1, c.Nonce, ncStr, cnonce, c.QOP, ha2))
	} else {
		response = md5Hash(fmt.Sprintf("%s:%s:%s", ha1, c.Nonce, ha2))
	}

	header := fmt.Sprintf(`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		a.Username, c.Realm, c.Nonce, uri, response)

	if c.QOP != "" {
		header += fmt.Sprintf(`, qop=%s, nc=%s, cnonce="%s"`, c.QOP, ncStr, cnonce)
	}
	if c.Opaque != "" {
		header += fmt.Sprintf(`, opaque="%s"`, c.Opaque)
	}

	return header
}

// md5Hash returns the MD5 hash of a string as hex.
func md5Hash(s string) string {
	h := md5.New()
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}
