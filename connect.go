package goproxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
)

type ConnectActionLiteral int

const (
	ConnectAccept ConnectActionLiteral = iota
	ConnectReject
	ConnectMitm
	ConnectHijack
)

func (a ConnectActionLiteral) String() string {
	switch a {
	case ConnectAccept:
		return "accept"
	case ConnectReject:
		return "reject"
	case ConnectMitm:
		return "mitm"
	case ConnectHijack:
		return "hijack"
	}
	return "unknown"
}

var (
	OkConnect     = &ConnectAction{Action: ConnectAccept}
	MitmConnect   = &ConnectAction{Action: ConnectMitm}
	RejectConnect = &ConnectAction{Action: ConnectReject}
)

// AlwaysMitm is a HttpsHandler that MITMs every tunnel, to be used with a TLSTerminator.
var AlwaysMitm HttpsHandlerFunc = func(host string, ctx *ProxyCtx) (*ConnectAction, string) {
	return MitmConnect, host
}

// AlwaysReject is a HttpsHandler that drops any CONNECT request
var AlwaysReject HttpsHandlerFunc = func(host string, ctx *ProxyCtx) (*ConnectAction, string) {
	return RejectConnect, host
}

// ConnectAction enables the caller to override the standard connect flow.
// When Action is ConnectHijack, it is up to the implementer to send the
// HTTP 200, or any other valid http response back to the client from within the
// Hijack func
type ConnectAction struct {
	Action ConnectActionLiteral
	Hijack func(req *http.Request, client net.Conn, ctx *ProxyCtx)
}

func (proxy *ProxyHttpServer) connectDial(ctx context.Context, network, addr string) (net.Conn, error) {
	if proxy.opt.ConnectDial == nil {
		return proxy.dial(ctx, network, addr)
	}
	return proxy.opt.ConnectDial(ctx, network, addr)
}

func (proxy *ProxyHttpServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := proxy.newCtx(r)

	hij, ok := w.(http.Hijacker)
	if !ok {
		ctx.Options.Errorf(ctx, "httpserver does not support hijacking")
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	proxyClient, _, err := hij.Hijack()
	if err != nil {
		ctx.Options.Errorf(ctx, "Cannot hijack connection %v", err)
		return
	}

	proxy.connect(ctx, proxyClient, r.URL.Host, false)
}

// connect decides the fate of a tunnel to host. Transparent tunnels never
// received a CONNECT, so no status line is sent back on them.
func (proxy *ProxyHttpServer) connect(ctx *ProxyCtx, proxyClient net.Conn, host string, transparent bool) {
	// Allow connect per default, using the remote host from the request.
	// Potential handlers for https might change this decision further
	// down.
	todo := OkConnect

	ctx.Options.Debugf(ctx, "Running %d CONNECT handlers", len(proxy.httpsHandlers))
	for i, h := range proxy.httpsHandlers {
		newtodo, newhost := h.HandleConnect(host, ctx)

		// If found a result, break the loop immediately
		if newtodo != nil {
			todo, host = newtodo, newhost
			ctx.Options.Debugf(ctx, "on %dth handler: %v %s", i, todo.Action, host)
			break
		}
	}

	established := func() bool {
		if transparent {
			return true
		}
		if _, err := io.WriteString(proxyClient, "HTTP/1.0 200 Connection established\r\n\r\n"); err != nil {
			ctx.Options.Warnf(ctx, "Error responding to client: %v", err)
			proxyClient.Close()
			return false
		}
		return true
	}

	switch todo.Action {
	case ConnectAccept:
		if !hasPort(host) {
			host += ":80"
		}
		targetSite, err := proxy.connectDial(context.Background(), "tcp", host)
		if err != nil {
			ctx.Options.Warnf(ctx, "Error dialing to %s: %v", host, err)
			httpError(proxyClient, ctx, err)
			return
		}
		ctx.Options.Debugf(ctx, "Accepting CONNECT to %s", host)
		if !established() {
			targetSite.Close()
			return
		}
		proxy.tunnel(ctx, proxyClient, targetSite)

	case ConnectHijack:
		ctx.Options.Debugf(ctx, "Hijacking CONNECT to %s", host)
		todo.Hijack(ctx.Req, proxyClient, ctx)

	case ConnectMitm:
		if proxy.opt.TLSTerminator == nil {
			ctx.Options.Warnf(ctx, "MITM requested for %s without a TLS terminator", host)
			httpError(proxyClient, ctx, nil)
			return
		}
		if !established() {
			return
		}
		ctx.Options.Debugf(ctx, "Assuming CONNECT is TLS, mitm proxying it")
		plain, err := proxy.opt.TLSTerminator.Terminate(ctx, host, proxyClient)
		if err != nil {
			ctx.Options.Warnf(ctx, "Cannot handshake client %v %v", proxyClient.RemoteAddr(), err)
			proxyClient.Close()
			return
		}
		defer plain.Close()
		proxy.serveConn(ctx, plain, "https", host)

	case ConnectReject:
		if ctx.Resp != nil {
			if err := ctx.Resp.Write(proxyClient); err != nil {
				ctx.Options.Warnf(ctx, "Cannot write response that reject http CONNECT: %v", err)
			}
		}
		proxyClient.Close()
	}
}

// tunnel copies bytes both ways until either side is done.
func (proxy *ProxyHttpServer) tunnel(ctx *ProxyCtx, client, target net.Conn) {
	for _, c := range []net.Conn{client, target} {
		if tcp, ok := c.(*net.TCPConn); ok && proxy.opt.KeepAlive.enabled() {
			if err := setKeepaliveParameters(tcp, proxy.opt.KeepAlive); err != nil {
				ctx.Options.Warnf(ctx, "Cannot tune keepalive: %v", err)
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go proxy.copyOrWarn(ctx, target, client, &wg)
	go proxy.copyOrWarn(ctx, client, target, &wg)
	wg.Wait()
}

func (proxy *ProxyHttpServer) copyOrWarn(ctx *ProxyCtx, dst net.Conn, src net.Conn, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := proxy.bufs.Get()
	defer proxy.bufs.Put(buf)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil && !isClosedErr(err) {
		ctx.Options.Warnf(ctx, "Error copying to client: %s", err)
	}

	// Close both ends, so that another goroutine of this function in the
	// other direction terminates as well.
	src.Close()
	dst.Close()
}

func httpError(w io.WriteCloser, ctx *ProxyCtx, err error) {
	if _, err := io.WriteString(w, "HTTP/1.1 502 Bad Gateway\r\n\r\n"); err != nil {
		ctx.Options.Warnf(ctx, "Error responding to client: %s", err)
	}
	if err := w.Close(); err != nil {
		ctx.Options.Warnf(ctx, "Error closing client connection: %s", err)
	}
}

func hasPort(host string) bool {
	_, port, err := net.SplitHostPort(host)
	return err == nil && port != ""
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
