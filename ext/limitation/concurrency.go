package limitation

import (
	"net/http"

	"github.com/Windscribe/goproxy-intercept"
)

// ConcurrentRequests implements a mechanism to limit the number of
// concurrently handled HTTP requests, configurable by the user.
// The ReqHandler can simply be added to the server with OnRequest().
// A request whose client goes away while waiting for a slot is answered
// with a 503 and never takes one.
func ConcurrentRequests(limit int) goproxy.ReqHandler {
	// Do nothing when the specified limit is invalid
	if limit <= 0 {
		return goproxy.ReqHandlerFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
			return req, nil
		})
	}

	limitation := make(chan struct{}, limit)
	return goproxy.ReqHandlerFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		select {
		case limitation <- struct{}{}:
		case <-req.Context().Done():
			return nil, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusServiceUnavailable, "Too many concurrent requests\n")
		}

		// Release semaphore when request finishes
		go func() {
			<-req.Context().Done()
			<-limitation
		}()

		return req, nil
	})
}
