package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minefleet/asicscan/pkg/miner"
)

// webFromServer builds a Web transport pointed at an httptest server.
func webFromServer(t *testing.T, server *httptest.Server, opts ...WebOption) *Web {
	t.Helper()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	opts = append([]WebOption{WithWebPort(port)}, opts...)
	return NewWeb(net.ParseIP(u.Hostname()), opts...)
}

func TestWebGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/system/info", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		fmt.Fprint(w, `{"ASICModel":"BM1368"}`)
	}))
	defer server.Close()

	web := webFromServer(t, server)
	raw, err := web.Execute(context.Background(), miner.WebAPI("api/system/info"))
	require.NoError(t, err)
	assert.Equal(t, `{"ASICModel":"BM1368"}`, string(raw))
}

func TestWebQueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/luci/admin/status", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	web := webFromServer(t, server)
	_, err := web.Execute(context.Background(),
		miner.WebAPIParams("cgi-bin/luci/admin/status", map[string]string{"format": "json"}))
	require.NoError(t, err)
}

func TestWebAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err":"boom"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	web := webFromServer(t, server)
	_, err := web.Execute(context.Background(), miner.WebAPI("api/v1/info"))
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "api/v1/info", apiErr.Endpoint)
}

func TestWebDigestAuth(t *testing.T) {
	var challenged atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			challenged.Store(true)
			w.Header().Set("WWW-Authenticate",
				`Digest realm="antMiner Configuration", nonce="abc123", qop="auth"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Contains(t, auth, `username="root"`)
		assert.Contains(t, auth, `realm="antMiner Configuration"`)
		assert.Contains(t, auth, `qop=auth`)
		assert.Contains(t, auth, `response="`)
		fmt.Fprint(w, `{"minertype":"Antminer S19j Pro"}`)
	}))
	defer server.Close()

	web := webFromServer(t, server, WithWebDigestAuth("root", "root"))
	raw, err := web.Execute(context.Background(), miner.WebAPI("cgi-bin/get_system_info.cgi"))
	require.NoError(t, err)
	assert.True(t, challenged.Load())
	assert.Contains(t, string(raw), "Antminer S19j Pro")
}

func TestWebBearerUnlock(t *testing.T) {
	var unlocks atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/unlock":
			assert.Equal(t, http.MethodPost, r.Method)
			unlocks.Add(1)
			fmt.Fprint(w, `{"token":"tok-1"}`)
		case "/api/v1/summary":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"miner":{"miner_status":{"miner_state":"mining"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	web := webFromServer(t, server,
		WithWebBearerUnlock("api/v1/unlock", map[string]string{"pw": "admin"}, "token"))

	for i := 0; i < 2; i++ {
		raw, err := web.Execute(context.Background(), miner.WebAPI("api/v1/summary"))
		require.NoError(t, err)
		assert.Contains(t, string(raw), "mining")
	}

	// The token is cached; two commands need one unlock.
	assert.Equal(t, int32(1), unlocks.Load())
}

func TestWebBearerRetriesOnceOnStaleToken(t *testing.T) {
	var unlocks atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/unlock":
			n := unlocks.Add(1)
			fmt.Fprintf(w, `{"token":"tok-%d"}`, n)
		case "/api/v1/info":
			// Only the second token is accepted, as if the first expired.
			if r.Header.Get("Authorization") != "Bearer tok-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"miner":"Antminer S19"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	web := webFromServer(t, server,
		WithWebBearerUnlock("api/v1/unlock", map[string]string{"pw": "admin"}, "token"))

	raw, err := web.Execute(context.Background(), miner.WebAPI("api/v1/info"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "S19")
	assert.Equal(t, int32(2), unlocks.Load())
}

func TestWebFormLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/luci":
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("luci_username") != "root" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "sysauth", Value: "session-1", Path: "/"})
			w.WriteHeader(http.StatusOK)
		case "/cgi-bin/luci/admin/network/iface_status/lan":
			cookie, err := r.Cookie("sysauth")
			if err != nil || cookie.Value != "session-1" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			fmt.Fprint(w, `[{"macaddr":"00:1A:2B:3C:4D:5E"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	web := webFromServer(t, server,
		WithWebFormLogin("cgi-bin/luci", url.Values{
			"luci_username": {"root"},
			"luci_password": {""},
		}))

	raw, err := web.Execute(context.Background(),
		miner.WebAPI("cgi-bin/luci/admin/network/iface_status/lan"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "macaddr"))
}

func TestWebSupports(t *testing.T) {
	web := NewWeb(net.ParseIP("10.0.0.1"))
	assert.True(t, web.Supports(miner.KindWebAPI))
	assert.False(t, web.Supports(miner.KindRPC))
}
