package limitation_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/ext/limitation"
)

func handled(h goproxy.ReqHandler, req *http.Request) <-chan *http.Response {
	done := make(chan *http.Response, 1)
	go func() {
		_, resp := h.Handle(req, &goproxy.ProxyCtx{})
		done <- resp
	}()
	return done
}

func TestConcurrentRequests(t *testing.T) {
	mockRequest := &http.Request{Host: "test.com"}
	maximumDuration := 100 * time.Millisecond

	t.Run("empty limitation", func(t *testing.T) {
		select {
		case resp := <-handled(limitation.ConcurrentRequests(0), mockRequest):
			assert.Nil(t, resp)
		case <-time.After(maximumDuration):
			t.Error("Limiter took too long")
		}
	})

	t.Run("normal limitation", func(t *testing.T) {
		select {
		case resp := <-handled(limitation.ConcurrentRequests(1), mockRequest):
			assert.Nil(t, resp)
		case <-time.After(maximumDuration):
			t.Error("Limiter took too long")
		}
	})

	t.Run("more than the limitation", func(t *testing.T) {
		oneLimiter := limitation.ConcurrentRequests(1)
		<-handled(oneLimiter, mockRequest)

		select {
		case <-handled(oneLimiter, mockRequest):
			t.Error("Limiter ignored the limit")
		case <-time.After(maximumDuration):
		}
	})

	t.Run("finished request frees its slot", func(t *testing.T) {
		reqCtx, cancel := context.WithCancel(context.Background())
		oneLimiter := limitation.ConcurrentRequests(1)
		<-handled(oneLimiter, mockRequest.WithContext(reqCtx))
		cancel()

		select {
		case resp := <-handled(oneLimiter, mockRequest):
			assert.Nil(t, resp)
		case <-time.After(time.Second):
			t.Error("Limiter took too long")
		}
	})

	t.Run("client gone while waiting", func(t *testing.T) {
		oneLimiter := limitation.ConcurrentRequests(1)
		<-handled(oneLimiter, mockRequest)

		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		select {
		case resp := <-handled(oneLimiter, mockRequest.WithContext(waitCtx)):
			if assert.NotNil(t, resp) {
				assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
			}
		case <-time.After(time.Second):
			t.Error("Limiter took too long")
		}
	})
}
