package goproxy

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transparentProxy(t *testing.T) (*ProxyHttpServer, string) {
	t.Helper()
	proxy := NewProxyHttpServer(testProxyOptions())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = proxy.ServeTransparent(ln) }()
	t.Cleanup(func() { ln.Close() })
	return proxy, ln.Addr().String()
}

func TestIsTLSHandshake(t *testing.T) {
	assert.True(t, isTLSHandshake([]byte{0x16, 0x03, 0x01, 0x00, 0x10}))
	assert.True(t, isTLSHandshake([]byte{0x16, 0x03, 0x03}))
	assert.False(t, isTLSHandshake([]byte("GET / HTTP/1.1")))
	assert.False(t, isTLSHandshake([]byte{0x16}))
}

func TestTransparentHTTP(t *testing.T) {
	srv := newTestServer(t)
	proxy, addr := transparentProxy(t)
	proxy.OnResponse().Do(HandleBytes(func(b []byte, ctx *ProxyCtx) []byte {
		return append(b, '!')
	}))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		_, err = io.WriteString(conn, "GET /bobo HTTP/1.1\r\nHost: "+srv.Listener.Addr().String()+"\r\n\r\n")
		require.NoError(t, err)

		resp, err := http.ReadResponse(reader, nil)
		require.NoError(t, err)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "bobo!", string(b))
	}
}

func TestTransparentTLSUsesSNI(t *testing.T) {
	https := httptest.NewTLSServer(newMux())
	defer https.Close()
	proxy, addr := transparentProxy(t)

	seen := make(chan string, 1)
	proxy.OnRequest().HandleConnectFunc(func(host string, ctx *ProxyCtx) (*ConnectAction, string) {
		seen <- host
		return OkConnect, https.Listener.Addr().String()
	})

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: "localhost", InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "GET /bobo HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "bobo", string(b))
	assert.Equal(t, "localhost:443", <-seen)
}

func TestTransparentPipelinedRequests(t *testing.T) {
	srv := newTestServer(t)
	_, addr := transparentProxy(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	req := "GET /bobo HTTP/1.1\r\nHost: " + srv.Listener.Addr().String() + "\r\n\r\n"
	_, err = io.WriteString(conn, req+req)
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		resp, err := http.ReadResponse(reader, nil)
		require.NoError(t, err)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "bobo", string(b))
	}
}
