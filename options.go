package goproxy

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Options are the params a ProxyHttpServer is created with.
//
// DefaultOptions contains options that should work for most applications.
// Consider using that as a starting point before customizing it for your own needs.
type Options struct {
	Logger          Logger
	NonProxyHandler http.Handler
	// Transport is used for every outgoing round trip. When nil, one is built
	// that dials through Resolver.
	Transport *http.Transport
	// ErrorHandler will be invoked to return a custom response
	// to clients, when an error occurs inside request handling
	// (e.g. failure to connect to the remote server).
	ErrorHandler func(ctx *ProxyCtx, err error) *http.Response
	// ErrorPages is used when ErrorHandler is nil and all pages are set.
	ErrorPages *ErrorPages
	// ConnectDial will be used to create TCP connections for CONNECT requests.
	// If it's not specified, the proxy dialer (and Resolver) is used.
	ConnectDial func(ctx context.Context, network string, addr string) (net.Conn, error)
	// Resolver replaces the system resolver for outgoing connections.
	Resolver Resolver
	// TLSTerminator completes the client side handshake of MITM'd CONNECT tunnels.
	// Without it, ConnectMitm is answered with a 502.
	TLSTerminator TLSTerminator
	// KeepAlive tunes tunnelled TCP connections. The zero value leaves the
	// operating system defaults.
	KeepAlive KeepAlive
	// KeepProxyHeaders indicates when the proxy should forward also the proxy specific headers (e.g. Proxy-Authorization)
	// to the destination server. Usually, this should be false.
	KeepProxyHeaders bool
	// KeepDestinationHeaders indicates when the proxy should retain any headers present in the http.Response
	// before proxying
	KeepDestinationHeaders bool
}

// KeepAlive holds TCP keepalive probe settings.
type KeepAlive struct {
	Period   time.Duration
	Count    int
	Interval time.Duration
}

func (k KeepAlive) enabled() bool {
	return k.Period > 0 || k.Count > 0 || k.Interval > 0
}

// DefaultOptions returns the recommended initial options for the proxy server.
// You can freely edit them before passing it to the proxy server initialization.
func DefaultOptions() Options {
	return Options{
		Logger: NewDefaultLogger(INFO),
		NonProxyHandler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "This is a proxy server. Does not respond to non-proxy requests.", http.StatusInternalServerError)
		}),
	}
}
