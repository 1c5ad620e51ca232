package goproxy

import (
	"net"
	"net/http"
)

// ReqHandler will "tamper" with the request coming to the proxy server
// If Handle returns req,nil the proxy will send the returned request
// to the destination server. If it returns nil,resp the proxy will
// skip sending any requests, and will simply return the response `resp`
// to the client.
type ReqHandler interface {
	Handle(req *http.Request, ctx *ProxyCtx) (*http.Request, *http.Response)
}

// A wrapper that would convert a function to a ReqHandler interface type
type ReqHandlerFunc func(req *http.Request, ctx *ProxyCtx) (*http.Request, *http.Response)

// ReqHandlerFunc.Handle(req,ctx) <=> ReqHandlerFunc(req,ctx)
func (f ReqHandlerFunc) Handle(req *http.Request, ctx *ProxyCtx) (*http.Request, *http.Response) {
	return f(req, ctx)
}

// after the proxy have sent the request to the destination server, it will
// "filter" the response through the RespHandlers it has.
// The proxy server will send to the client the response returned by the RespHandler.
// In case of error, resp will be nil, and ctx.Error will contain the error
type RespHandler interface {
	Handle(resp *http.Response, ctx *ProxyCtx) *http.Response
}

// A wrapper that would convert a function to a RespHandler interface type
type RespHandlerFunc func(resp *http.Response, ctx *ProxyCtx) *http.Response

// RespHandlerFunc.Handle(req,ctx) <=> RespHandlerFunc(req,ctx)
func (f RespHandlerFunc) Handle(resp *http.Response, ctx *ProxyCtx) *http.Response {
	return f(resp, ctx)
}

// When a client send a CONNECT request to a host, the request is filtered through
// all the HttpsHandlers the proxy has. The first one returning a non nil action
// decides what happens to the tunnel. With ConnectMitm the requests sent inside
// the tunnel are filtered through the usual flow (ReqHandlers and RespHandlers).
type HttpsHandler interface {
	HandleConnect(host string, ctx *ProxyCtx) (*ConnectAction, string)
}

// A wrapper that would convert a function to a HttpsHandler interface type
type HttpsHandlerFunc func(host string, ctx *ProxyCtx) (*ConnectAction, string)

// HttpsHandlerFunc should implement the HttpsHandler interface
func (f HttpsHandlerFunc) HandleConnect(host string, ctx *ProxyCtx) (*ConnectAction, string) {
	return f(host, ctx)
}

// TLSTerminator performs the server side TLS handshake with a client whose
// CONNECT tunnel is being MITM'd, and returns the plaintext side.
// Certificate authorities and signing live behind this interface.
type TLSTerminator interface {
	Terminate(ctx *ProxyCtx, host string, client net.Conn) (net.Conn, error)
}
