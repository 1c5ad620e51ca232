package goproxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
)

func headerContains(header http.Header, name string, value string) bool {
	for _, v := range header.Values(name) {
		for _, s := range strings.Split(v, ",") {
			if strings.EqualFold(value, strings.TrimSpace(s)) {
				return true
			}
		}
	}
	return false
}

func isWebSocketRequest(r *http.Request) bool {
	return headerContains(r.Header, "Connection", "upgrade") &&
		headerContains(r.Header, "Upgrade", "websocket")
}

// bufferedConn reads through r, which may hold bytes already taken off Conn.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func (proxy *ProxyHttpServer) hijackWebsocket(ctx *ProxyCtx, w http.ResponseWriter, req *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		ctx.Options.Errorf(ctx, "httpserver does not support hijacking")
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, rw, err := hj.Hijack()
	if err != nil {
		ctx.Options.Warnf(ctx, "Hijack error: %v", err)
		return
	}
	defer client.Close()
	proxy.serveWebsocket(ctx, &bufferedConn{Conn: client, r: rw.Reader}, req)
}

// serveWebsocket runs the upgrade handshake through the handler chains, then
// relays frames untouched until either side hangs up.
func (proxy *ProxyHttpServer) serveWebsocket(ctx *ProxyCtx, client net.Conn, r *http.Request) {
	req, resp := proxy.filterRequest(r, ctx)
	if req == nil {
		req = r
	}
	if resp != nil {
		proxy.writeHandshake(ctx, client, req, proxy.filterResponse(resp, ctx))
		return
	}
	if !proxy.opt.KeepProxyHeaders {
		// Connection carries the upgrade, RemoveProxyHeaders would drop it
		req.RequestURI = ""
		req.Header.Del("Proxy-Connection")
		req.Header.Del("Proxy-Authenticate")
		req.Header.Del("Proxy-Authorization")
	}

	target, err := proxy.dialWebsocket(req)
	if err != nil {
		ctx.Error = err
		ctx.Options.Warnf(ctx, "Error dialing websocket target %s: %v", req.URL.Host, err)
		proxy.writeHandshake(ctx, client, req, proxy.filterResponse(nil, ctx))
		return
	}
	defer target.Close()

	if err := req.Write(target); err != nil {
		ctx.Options.Warnf(ctx, "Error writing upgrade request: %v", err)
		return
	}
	reader := bufio.NewReader(target)
	resp, ctx.Error = http.ReadResponse(reader, req)
	if ctx.Error != nil {
		ctx.Options.Warnf(ctx, "Error reading handshake response: %v", ctx.Error)
	}
	resp = proxy.filterResponse(resp, ctx)
	if !proxy.writeHandshake(ctx, client, req, resp) || resp == nil || resp.StatusCode != http.StatusSwitchingProtocols {
		return
	}

	ctx.Options.Debugf(ctx, "Relaying websocket to %s", req.URL.Host)
	proxy.tunnel(ctx, client, &bufferedConn{Conn: target, r: reader})
}

// writeHandshake sends resp, or an error response when the chain produced
// none, and reports whether the client got it.
func (proxy *ProxyHttpServer) writeHandshake(ctx *ProxyCtx, client net.Conn, req *http.Request, resp *http.Response) bool {
	if resp == nil {
		err := ctx.Error
		if err == nil {
			err = &net.OpError{Op: "read", Net: "tcp", Err: errNoResponse}
		}
		resp = proxy.errorResponse(ctx, req, err)
	}
	if resp.StatusCode == http.StatusSwitchingProtocols {
		if err := resp.Write(client); err != nil {
			ctx.Options.Warnf(ctx, "Error writing handshake response: %v", err)
			return false
		}
		return true
	}
	if err := writeConnResponse(ctx, client, resp); err != nil {
		ctx.Options.Warnf(ctx, "Error writing handshake response: %v", err)
		return false
	}
	return true
}

func (proxy *ProxyHttpServer) dialWebsocket(req *http.Request) (net.Conn, error) {
	secure := req.URL.Scheme == "https" || req.URL.Scheme == "wss"
	host := req.URL.Host
	if !hasPort(host) {
		if secure {
			host = net.JoinHostPort(host, "443")
		} else {
			host = net.JoinHostPort(host, "80")
		}
	}

	conn, err := proxy.connectDial(context.Background(), "tcp", host)
	if err != nil || !secure {
		return conn, err
	}

	cfg := &tls.Config{}
	if proxy.transport.TLSClientConfig != nil {
		cfg = proxy.transport.TLSClientConfig.Clone()
	}
	cfg.ServerName = stripPort(host)
	cfg.NextProtos = []string{"http/1.1"}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(req.Context()); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}
