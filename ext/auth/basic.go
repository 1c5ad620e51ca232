// Package auth guards the proxy with HTTP basic authentication.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/Windscribe/goproxy-intercept"
)

var unauthorizedMsg = "407 Proxy Authentication Required"

func BasicUnauthorized(req *http.Request, realm string) *http.Response {
	resp := goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusProxyAuthRequired, unauthorizedMsg)
	resp.Header.Set("Proxy-Authenticate", "Basic realm="+realm)
	return resp
}

var proxyAuthorizatonHeader = "Proxy-Authorization"

func auth(req *http.Request, f func(user, passwd string) bool) bool {
	authheader := strings.SplitN(req.Header.Get(proxyAuthorizatonHeader), " ", 2)
	req.Header.Del(proxyAuthorizatonHeader)
	if len(authheader) != 2 || authheader[0] != "Basic" {
		return false
	}
	userpassraw, err := base64.StdEncoding.DecodeString(authheader[1])
	if err != nil {
		return false
	}
	user, passwd, ok := strings.Cut(string(userpassraw), ":")
	if !ok {
		return false
	}
	return f(user, passwd)
}

// Credentials accepts exactly one user and password.
func Credentials(user, passwd string) func(string, string) bool {
	return func(u, p string) bool {
		userOk := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
		passOk := subtle.ConstantTimeCompare([]byte(p), []byte(passwd)) == 1
		return userOk && passOk
	}
}

func Basic(realm string, f func(user, passwd string) bool) goproxy.ReqHandler {
	return goproxy.ReqHandlerFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		if !auth(req, f) {
			ctx.Options.Infof(ctx, "Rejecting unauthenticated request from %s", req.RemoteAddr)
			return nil, BasicUnauthorized(req, realm)
		}
		return req, nil
	})
}

// BasicConnect rejects unauthenticated CONNECT requests and leaves the others
// to the handlers registered after it.
func BasicConnect(realm string, f func(user, passwd string) bool) goproxy.HttpsHandler {
	return goproxy.HttpsHandlerFunc(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if !auth(ctx.Req, f) {
			ctx.Options.Infof(ctx, "Rejecting unauthenticated CONNECT to %s", host)
			ctx.Resp = BasicUnauthorized(ctx.Req, realm)
			return goproxy.RejectConnect, host
		}
		return nil, host
	})
}
