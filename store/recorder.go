package store

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/intercept"
)

// Recorder saves every proxied exchange once its response is known.
type pending struct {
	raw     []byte
	started time.Time
}

type Recorder struct {
	store   *Store
	enabled atomic.Bool
	// requests waiting for their response, by session
	inflight sync.Map
	// OnSaved is called with each saved request, if set.
	OnSaved func(*Request)
}

func NewRecorder(s *Store) *Recorder {
	r := &Recorder{store: s}
	r.enabled.Store(true)
	return r
}

func (r *Recorder) SetEnabled(on bool) { r.enabled.Store(on) }
func (r *Recorder) Enabled() bool      { return r.enabled.Load() }

// Install registers the recorder. Install it after the handlers whose
// changes should be recorded.
func (r *Recorder) Install(proxy *goproxy.ProxyHttpServer) {
	proxy.OnRequest().Do(goproxy.ReqHandlerFunc(r.HandleRequest))
	proxy.OnResponse().Do(goproxy.RespHandlerFunc(r.HandleResponse))
}

func (r *Recorder) HandleRequest(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if !r.Enabled() {
		return req, nil
	}
	raw, err := intercept.DumpRequest(req)
	if err != nil {
		ctx.Options.Warnf(ctx, "Cannot record request: %v", err)
		return req, nil
	}
	r.inflight.Store(ctx.SessionID, pending{raw: raw, started: time.Now()})
	return req, nil
}

func (r *Recorder) HandleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	v, ok := r.inflight.LoadAndDelete(ctx.SessionID)
	if !ok || !r.Enabled() {
		return resp
	}
	p := v.(pending)

	req := ctx.Req
	rec := &Request{
		SessionID: ctx.SessionID,
		Host:      req.URL.Host,
		Method:    req.Method,
		URL:       req.URL.String(),
		Raw:       p.raw,
		CreatedAt: p.started,
		Duration:  time.Since(p.started),
	}
	switch {
	case resp != nil:
		dump, err := intercept.DumpResponse(resp)
		if err != nil {
			ctx.Options.Warnf(ctx, "Cannot record response: %v", err)
		}
		rec.StatusCode = resp.StatusCode
		rec.Response = dump
	case ctx.Error != nil:
		rec.Error = ctx.Error.Error()
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Save(saveCtx, rec); err != nil {
		ctx.Options.Warnf(ctx, "Cannot save request: %v", err)
		return resp
	}
	ctx.Options.Debugf(ctx, "Recorded %s as %s", rec.URL, rec.ID)
	if r.OnSaved != nil {
		r.OnSaved(rec)
	}
	return resp
}
