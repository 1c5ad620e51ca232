package goproxy

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windscribe/goproxy-intercept/internal/signer"
)

func echoWebsocket() http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			mt, message, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(mt, append([]byte("ECHO: "), message...)); err != nil {
				return
			}
		}
	})
}

func TestWebsocketMitm(t *testing.T) {
	backend := httptest.NewTLSServer(echoWebsocket())
	defer backend.Close()

	ca, err := signer.NewCA("Intercept Test", time.Hour)
	require.NoError(t, err)
	opt := testProxyOptions()
	opt.TLSTerminator = NewCertTerminator(ca, time.Hour)
	proxy := NewProxyHttpServer(opt)
	proxy.OnRequest().HandleConnect(AlwaysMitm)
	var sawUpgrade atomic.Bool
	proxy.OnRequest().DoFunc(func(req *http.Request, ctx *ProxyCtx) (*http.Request, *http.Response) {
		sawUpgrade.Store(isWebSocketRequest(req))
		return req, nil
	})
	proxyServer := httptest.NewServer(proxy)
	defer proxyServer.Close()

	proxyURL, err := url.Parse(proxyServer.URL)
	require.NoError(t, err)
	roots := x509.NewCertPool()
	roots.AddCert(ca.Leaf)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyURL(proxyURL),
		TLSClientConfig:  &tls.Config{RootCAs: roots},
		HandshakeTimeout: 5 * time.Second,
	}

	target := "wss" + strings.TrimPrefix(strings.Replace(backend.URL, "127.0.0.1", "localhost", 1), "https")
	c, _, err := dialer.Dial(target, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, sawUpgrade.Load())

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("Hello WebSocket")))
	mt, response, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "ECHO: Hello WebSocket", string(response))
}

// Plain proxies get the upgrade in absolute form, which no websocket client
// library sends, so the frames are written by hand.
func TestWebsocketPlain(t *testing.T) {
	backend := httptest.NewServer(echoWebsocket())
	defer backend.Close()
	proxyServer := httptest.NewServer(NewProxyHttpServer(testProxyOptions()))
	defer proxyServer.Close()

	conn, err := net.Dial("tcp", strings.TrimPrefix(proxyServer.URL, "http://"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	host := strings.TrimPrefix(backend.URL, "http://")
	_, err = io.WriteString(conn, "GET "+backend.URL+"/ws HTTP/1.1\r\n"+
		"Host: "+host+"\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n"+
		"Sec-WebSocket-Version: 13\r\n\r\n")
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", resp.Header.Get("Sec-WebSocket-Accept"))

	// a masked text frame, as clients must send
	payload := []byte("hi")
	mask := []byte{1, 2, 3, 4}
	frame := []byte{0x81, 0x80 | byte(len(payload))}
	frame = append(frame, mask...)
	for i, b := range payload {
		frame = append(frame, b^mask[i%4])
	}
	_, err = conn.Write(frame)
	require.NoError(t, err)

	echo := make([]byte, 2+len("ECHO: hi"))
	_, err = io.ReadFull(reader, echo)
	require.NoError(t, err)
	assert.Equal(t, byte(0x81), echo[0])
	assert.Equal(t, "ECHO: hi", string(echo[2:]))
}

func TestWebsocketRejectedByHandler(t *testing.T) {
	backend := httptest.NewServer(echoWebsocket())
	defer backend.Close()

	opt := testProxyOptions()
	proxy := NewProxyHttpServer(opt)
	proxy.OnRequest().DoFunc(func(req *http.Request, ctx *ProxyCtx) (*http.Request, *http.Response) {
		return req, NewResponse(req, ContentTypeText, http.StatusForbidden, "no sockets")
	})
	proxyServer := httptest.NewServer(proxy)
	defer proxyServer.Close()

	conn, err := net.Dial("tcp", strings.TrimPrefix(proxyServer.URL, "http://"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(conn, "GET "+backend.URL+"/ws HTTP/1.1\r\nHost: x\r\n"+
		"Upgrade: websocket\r\nConnection: Upgrade\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "no sockets", string(b))
}
