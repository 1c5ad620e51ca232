package goproxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oxtoacart/bpool"
)

var errNoResponse = errors.New("no response from remote server")

// The basic proxy type. Implements http.Handler.
type ProxyHttpServer struct {
	// session variable must be aligned in i386
	// see http://golang.org/src/pkg/sync/atomic/doc.go#L41
	sess          atomic.Int64
	opt           Options
	transport     *http.Transport
	reqHandlers   []ReqHandler
	respHandlers  []RespHandler
	httpsHandlers []HttpsHandler
	// tunnel copy buffers
	bufs *bpool.BytePool
}

func copyHeaders(dst, src http.Header, keepDestHeaders bool) {
	if !keepDestHeaders {
		for k := range dst {
			dst.Del(k)
		}
	}
	for k, vs := range src {
		// direct assignment to avoid canonicalization
		dst[k] = append([]string(nil), vs...)
	}
}

func (proxy *ProxyHttpServer) filterRequest(r *http.Request, ctx *ProxyCtx) (req *http.Request, resp *http.Response) {
	req = r
	for _, h := range proxy.reqHandlers {
		req, resp = h.Handle(req, ctx)
		// non-nil resp means the handler decided to skip sending the request
		// and return canned response instead.
		if resp != nil {
			break
		}
		ctx.Req = req
	}
	return
}

func (proxy *ProxyHttpServer) filterResponse(respOrig *http.Response, ctx *ProxyCtx) (resp *http.Response) {
	resp = respOrig
	for _, h := range proxy.respHandlers {
		ctx.Resp = resp
		resp = h.Handle(resp, ctx)
	}
	return
}

// RemoveProxyHeaders removes all proxy headers which should not propagate to the next hop
func RemoveProxyHeaders(ctx *ProxyCtx, r *http.Request) {
	r.RequestURI = "" // this must be reset when serving a request with the client
	ctx.Options.Debugf(ctx, "Sending request %v %v", r.Method, r.URL.String())
	// If no Accept-Encoding header exists, Transport will add the headers it can accept
	// and would wrap the response body with the relevant reader.
	r.Header.Del("Accept-Encoding")
	// curl can add that, see
	// https://jdebp.eu./FGA/web-proxy-connection-header.html
	r.Header.Del("Proxy-Connection")
	r.Header.Del("Proxy-Authenticate")
	r.Header.Del("Proxy-Authorization")
	// Connection, Authenticate and Authorization are single hop Header:
	// http://www.w3.org/Protocols/rfc2616/rfc2616.txt
	// 14.10 Connection
	//   The Connection general-header field allows the sender to specify
	//   options that are desired for that particular connection and MUST NOT
	//   be communicated by proxies over further connections.
	r.Header.Del("Connection")
}

// roundTrip runs r through the request chain, the remote server and the response chain.
// The returned response is never nil.
func (proxy *ProxyHttpServer) roundTrip(ctx *ProxyCtx, r *http.Request) *http.Response {
	req, resp := proxy.filterRequest(r, ctx)
	if req == nil {
		req = r
	}
	if resp == nil {
		if !proxy.opt.KeepProxyHeaders {
			RemoveProxyHeaders(ctx, req)
		}
		resp, ctx.Error = ctx.RoundTrip(req)
		if ctx.Error != nil {
			ctx.Options.Infof(ctx, "Error reading response %v: %v", req.URL.Host, ctx.Error)
		}
	}

	resp = proxy.filterResponse(resp, ctx)
	if resp == nil {
		err := ctx.Error
		if err == nil {
			err = &net.OpError{Op: "read", Net: "tcp", Err: errNoResponse}
		}
		resp = proxy.errorResponse(ctx, req, err)
	}
	return resp
}

func (proxy *ProxyHttpServer) errorResponse(ctx *ProxyCtx, req *http.Request, err error) *http.Response {
	if proxy.opt.ErrorHandler != nil {
		if resp := proxy.opt.ErrorHandler(ctx, err); resp != nil {
			return resp
		}
	}
	if proxy.opt.ErrorPages.Enabled() {
		return proxy.opt.ErrorPages.Response(err, req)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewResponse(req, ContentTypeText, http.StatusGatewayTimeout, "[proxy] timeout during request to remote server: "+err.Error())
	}
	return NewResponse(req, ContentTypeText, http.StatusBadGateway, "[proxy] error during request to remote server: "+err.Error())
}

// Standard net/http function. Shouldn't be used directly, http.Serve will use it.
func (proxy *ProxyHttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		proxy.handleConnect(w, r)
	} else {
		proxy.handleHttp(w, r)
	}
}

// Options returns a copy of the options the proxy runs with.
func (proxy *ProxyHttpServer) Options() Options {
	return proxy.opt
}

// NewProxyHttpServer creates and returns a proxy server. Zero fields of opt
// are filled from DefaultOptions.
func NewProxyHttpServer(opt Options) *ProxyHttpServer {
	def := DefaultOptions()
	if opt.Logger == nil {
		opt.Logger = def.Logger
	}
	if opt.NonProxyHandler == nil {
		opt.NonProxyHandler = def.NonProxyHandler
	}

	proxy := &ProxyHttpServer{
		opt:  opt,
		bufs: bpool.NewBytePool(256, 32*1024),
	}
	proxy.transport = opt.Transport
	if proxy.transport == nil {
		proxy.transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           proxy.dial,
			MaxIdleConns:          100,
			IdleConnTimeout:       10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			TLSClientConfig:       tlsClientSkipVerify,
			DisableCompression:    true,
		}
	}
	return proxy
}

func (proxy *ProxyHttpServer) newCtx(req *http.Request) *ProxyCtx {
	return &ProxyCtx{
		Req:       req,
		SessionID: proxy.sess.Add(1),
		Options:   proxy.opt,
		proxy:     proxy,
	}
}

// dial connects through the configured Resolver, trying every address in turn.
func (proxy *ProxyHttpServer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if proxy.opt.Resolver == nil {
		return d.DialContext(ctx, network, addr)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := proxy.opt.Resolver.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, ip := range ips {
		conn, err := d.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
