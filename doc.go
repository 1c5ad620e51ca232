/*
Package goproxy provides a customizable HTTP proxy whose traffic can be
paused, inspected and rewritten from an operator console.

The proxy itself is simply a `net/http` handler. Request and response
handlers are registered with conditions:

	proxy := goproxy.NewProxyHttpServer(goproxy.DefaultOptions())
	proxy.OnRequest(goproxy.DstHostIs("example.com")).DoFunc(
		func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
			r.Header.Set("X-Seen", "1")
			return r, nil
		})
	log.Fatal(http.ListenAndServe(":8080", proxy))

CONNECT tunnels are accepted by default. When a HttpsHandler asks for
MitmConnect, the TLSTerminator from Options terminates the client side and
the plaintext requests take the same path as plain HTTP ones.

The intercept package parks matching exchanges in a queue until the
console releases or drops them.
*/
package goproxy
