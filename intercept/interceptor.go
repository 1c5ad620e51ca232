package intercept

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/Windscribe/goproxy-intercept"
)

// Interceptor parks matching requests and responses in a Queue until the
// operator resolves them. Messages that don't match pass straight through.
type Interceptor struct {
	queue *Queue

	mu        sync.RWMutex
	requests  bool
	responses bool
	filters   []Filter
}

func NewInterceptor(q *Queue) *Interceptor {
	return &Interceptor{queue: q}
}

func (i *Interceptor) Queue() *Queue {
	return i.queue
}

// Install registers the interceptor as a request and a response handler.
func (i *Interceptor) Install(proxy *goproxy.ProxyHttpServer) {
	proxy.OnRequest().Do(goproxy.ReqHandlerFunc(i.HandleRequest))
	proxy.OnResponse().Do(goproxy.RespHandlerFunc(i.HandleResponse))
}

// SetDirections turns interception of requests and responses on or off.
func (i *Interceptor) SetDirections(requests, responses bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.requests, i.responses = requests, responses
}

func (i *Interceptor) Directions() (requests, responses bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.requests, i.responses
}

func (i *Interceptor) AddFilter(f Filter) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.filters = append(i.filters, f)
}

func (i *Interceptor) Filters() []Filter {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]Filter(nil), i.filters...)
}

func (i *Interceptor) ClearFilters() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.filters = nil
}

func (i *Interceptor) active(response bool) (bool, []Filter) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	on := i.requests
	if response {
		on = i.responses
	}
	return on, i.filters
}

// HandleRequest is the ReqHandler installed by Install.
func (i *Interceptor) HandleRequest(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	on, filters := i.active(false)
	if !on {
		return req, nil
	}
	for _, f := range filters {
		if !f.MatchRequest(req, ctx) {
			return req, nil
		}
	}

	raw, err := DumpRequest(req)
	if err != nil {
		ctx.Options.Warnf(ctx, "Cannot dump request for interception: %v", err)
		return req, nil
	}
	ticket, err := i.queue.Enqueue(Exchange{
		Direction: DirectionRequest,
		Host:      req.URL.Host,
		Method:    req.Method,
		URL:       req.URL.String(),
		Content:   raw,
	}, func(content []byte) error {
		_, err := parseRequest(content, req)
		return err
	})
	if err != nil {
		ctx.Options.Warnf(ctx, "Cannot intercept request: %v", err)
		return req, nil
	}
	ctx.Options.Infof(ctx, "Intercepted request %d: %s %s", ticket.ID, req.Method, req.URL)

	out := i.await(req.Context(), ticket)
	if out.State != StateReleased {
		ctx.Options.Infof(ctx, "Request %d dropped: %v", ticket.ID, out.Err)
		return nil, droppedResponse(req, out.Err)
	}
	edited, err := parseRequest(out.Content, req)
	if err != nil {
		ctx.Options.Warnf(ctx, "Released request %d does not parse: %v", ticket.ID, err)
		return nil, droppedResponse(req, err)
	}
	ctx.Options.Debugf(ctx, "Request %d released", ticket.ID)
	return edited, nil
}

// HandleResponse is the RespHandler installed by Install.
func (i *Interceptor) HandleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		return nil
	}
	on, filters := i.active(true)
	if !on {
		return resp
	}
	for _, f := range filters {
		if !f.MatchResponse(resp, ctx) {
			return resp
		}
	}

	req := ctx.Req
	raw, err := DumpResponse(resp)
	if err != nil {
		ctx.Options.Warnf(ctx, "Cannot dump response for interception: %v", err)
		return resp
	}
	ticket, err := i.queue.Enqueue(Exchange{
		Direction: DirectionResponse,
		Host:      req.URL.Host,
		Method:    req.Method,
		URL:       req.URL.String(),
		Content:   raw,
	}, func(content []byte) error {
		_, err := parseResponse(content, req)
		return err
	})
	if err != nil {
		ctx.Options.Warnf(ctx, "Cannot intercept response: %v", err)
		return resp
	}
	ctx.Options.Infof(ctx, "Intercepted response %d: %s %s", ticket.ID, resp.Status, req.URL)

	out := i.await(req.Context(), ticket)
	if out.State != StateReleased {
		ctx.Options.Infof(ctx, "Response %d dropped: %v", ticket.ID, out.Err)
		return droppedResponse(req, out.Err)
	}
	edited, err := parseResponse(out.Content, req)
	if err != nil {
		ctx.Options.Warnf(ctx, "Released response %d does not parse: %v", ticket.ID, err)
		return droppedResponse(req, err)
	}
	return edited
}

// await suspends the calling connection until the operator decides. A client
// that goes away drops its exchange.
func (i *Interceptor) await(ctx context.Context, t *Ticket) Outcome {
	select {
	case out := <-t.C():
		return out
	case <-ctx.Done():
		// Losing the race to the operator is fine, the outcome is buffered.
		_ = i.queue.Drop(t.ID, ErrClientGone)
		return <-t.C()
	}
}

func droppedResponse(req *http.Request, reason error) *http.Response {
	msg := "Dropped by proxy operator"
	if reason != nil && !errors.Is(reason, ErrDropped) {
		msg += ": " + reason.Error()
	}
	return goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusBadGateway, msg+"\n")
}
