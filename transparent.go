package goproxy

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	vhost "github.com/Windscribe/go-vhost"
)

// isTLSHandshake checks if the given byte slice starts with a TLS handshake record.
// TLS records start with content type 0x16 (handshake) followed by version bytes.
func isTLSHandshake(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	// ContentType(1) | Version(2) | Length(2)
	// SSL 3.0 (0x0300) up to TLS 1.3 (0x0304)
	return data[0] == 0x16 && data[1] == 0x03 && data[2] <= 0x04
}

// peekClientHello reads enough bytes to determine if this is a TLS connection.
func peekClientHello(conn net.Conn) (peeked []byte, isTLS bool, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return nil, false, err
	}
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
	}()

	buf := make([]byte, 5)
	n, err := io.ReadFull(conn, buf)
	if err != nil {
		if n > 0 {
			return buf[:n], false, nil
		}
		return nil, false, err
	}
	return buf, isTLSHandshake(buf), nil
}

// prefixConn replays prefix before reading from the wrapped connection.
type prefixConn struct {
	net.Conn
	prefix []byte
	mu     sync.Mutex
}

func (pc *prefixConn) Read(b []byte) (int, error) {
	pc.mu.Lock()
	if len(pc.prefix) > 0 {
		n := copy(b, pc.prefix)
		pc.prefix = pc.prefix[n:]
		pc.mu.Unlock()
		return n, nil
	}
	pc.mu.Unlock()
	return pc.Conn.Read(b)
}

// HandleTransparentConnection handles a raw TCP connection in transparent proxy mode.
// TLS connections are treated as a CONNECT to their SNI host, plain HTTP
// requests are read off the socket and proxied to their Host header.
func (proxy *ProxyHttpServer) HandleTransparentConnection(conn net.Conn) {
	defer conn.Close()

	ctx := proxy.newCtx(&http.Request{
		Method:     http.MethodConnect,
		URL:        &url.URL{},
		Header:     make(http.Header),
		RemoteAddr: conn.RemoteAddr().String(),
	})

	peeked, isTLS, err := peekClientHello(conn)
	if err != nil {
		ctx.Options.Debugf(ctx, "Error peeking connection: %v", err)
		return
	}
	prefixed := &prefixConn{Conn: conn, prefix: peeked}

	if !isTLS {
		proxy.serveConn(ctx, prefixed, "http", "")
		return
	}

	tlsConn, err := vhost.TLS(prefixed)
	if err != nil {
		ctx.Options.Warnf(ctx, "Error parsing TLS ClientHello: %v", err)
		return
	}
	host := tlsConn.Host()
	if host == "" {
		ctx.Options.Warnf(ctx, "Cannot support non-SNI enabled clients")
		return
	}

	addr := net.JoinHostPort(host, "443")
	ctx.Req.Host = addr
	ctx.Req.URL = &url.URL{Opaque: addr, Host: addr}
	proxy.connect(ctx, tlsConn, addr, true)
}

// ServeTransparent accepts connections on the listener and handles them in transparent mode.
// The listener may be a plain one fed by a redirect rule, or a TPROXY socket.
func (proxy *ProxyHttpServer) ServeTransparent(ln net.Listener) error {
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			var ne net.Error
			if errors.As(err, &ne) && !ne.Timeout() {
				return err
			}
			proxy.opt.Logger.Warnf(0, "Error accepting connection: %v", err)
			continue
		}

		go proxy.HandleTransparentConnection(conn)
	}
}
