package goproxy

import (
	"net/http"
	"regexp"
)

// ProxyCtx is the Proxy context, contains useful information about every request. It is passed to
// every user function. Also used as a logger.
type ProxyCtx struct {
	// Will contain the client request from the proxy
	Req *http.Request
	// Will contain the remote server's response (if available. nil if the request wasn't sent yet)
	Resp *http.Response
	// Sends the request instead of the proxy transport when set, e.g. to
	// replay an exchange somewhere else
	RoundTripper RoundTripper
	// will contain the recent error that occurred while trying to send receive or parse traffic
	Error error
	// A handle for the user to keep data in the context, from the call of ReqHandler to the
	// call of RespHandler
	UserData any
	// Will connect a request to a response
	SessionID int64
	Options   Options
	proxy     *ProxyHttpServer
}

var charsetFinder = regexp.MustCompile("charset=([^ ;]*)")

// Charset returns the charset of the response's Content-Type, or "" when none is declared.
func (ctx *ProxyCtx) Charset() string {
	if ctx.Resp == nil {
		return ""
	}
	charsets := charsetFinder.FindStringSubmatch(ctx.Resp.Header.Get("Content-Type"))
	if charsets == nil {
		return ""
	}
	return charsets[1]
}

type RoundTripper interface {
	RoundTrip(req *http.Request, ctx *ProxyCtx) (*http.Response, error)
}

type RoundTripperFunc func(req *http.Request, ctx *ProxyCtx) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request, ctx *ProxyCtx) (*http.Response, error) {
	return f(req, ctx)
}

// RoundTrip sends req upstream through ctx.RoundTripper or the proxy transport.
func (ctx *ProxyCtx) RoundTrip(req *http.Request) (*http.Response, error) {
	if ctx.RoundTripper != nil {
		return ctx.RoundTripper.RoundTrip(req, ctx)
	}
	return ctx.proxy.transport.RoundTrip(req)
}
