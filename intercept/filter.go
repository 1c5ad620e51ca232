package intercept

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Windscribe/goproxy-intercept"
)

// Filter decides whether a message is intercepted.
type Filter interface {
	String() string
	MatchRequest(req *http.Request, ctx *goproxy.ProxyCtx) bool
	MatchResponse(resp *http.Response, ctx *goproxy.ProxyCtx) bool
}

// requestFilter applies a request condition to both directions, responses
// being tested through the request that produced them.
type requestFilter struct {
	expr string
	cond goproxy.ReqCondition
}

func (f requestFilter) String() string { return f.expr }

func (f requestFilter) MatchRequest(req *http.Request, ctx *goproxy.ProxyCtx) bool {
	return f.cond.HandleReq(req, ctx)
}

func (f requestFilter) MatchResponse(resp *http.Response, ctx *goproxy.ProxyCtx) bool {
	return f.cond.HandleReq(ctx.Req, ctx)
}

// headerFilter looks at the headers of the message being intercepted.
type headerFilter struct {
	expr string
	name string
	re   *regexp.Regexp
}

func (f headerFilter) String() string { return f.expr }

func (f headerFilter) match(h http.Header) bool {
	values := h.Values(f.name)
	if f.re == nil {
		return len(values) > 0
	}
	for _, v := range values {
		if f.re.MatchString(v) {
			return true
		}
	}
	return false
}

func (f headerFilter) MatchRequest(req *http.Request, ctx *goproxy.ProxyCtx) bool {
	return goproxy.ReqHeaderMatches(f.name, f.re)(req, ctx)
}

func (f headerFilter) MatchResponse(resp *http.Response, ctx *goproxy.ProxyCtx) bool {
	return f.match(resp.Header)
}

// jsonFilter looks into the JSON body of the message being intercepted.
type jsonFilter struct {
	expr  string
	path  string
	value *string
}

func (f jsonFilter) String() string { return f.expr }

func (f jsonFilter) match(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	res := gjson.GetBytes(body, f.path)
	if !res.Exists() {
		return false
	}
	return f.value == nil || res.String() == *f.value
}

func (f jsonFilter) MatchRequest(req *http.Request, ctx *goproxy.ProxyCtx) bool {
	body, rc, err := goproxy.BufferBody(req.Body)
	req.Body = rc
	if err != nil {
		ctx.Options.Warnf(ctx, "Cannot read request body: %v", err)
		return false
	}
	return f.match(body)
}

func (f jsonFilter) MatchResponse(resp *http.Response, ctx *goproxy.ProxyCtx) bool {
	body, rc, err := goproxy.BufferBody(resp.Body)
	resp.Body = rc
	if err != nil {
		ctx.Options.Warnf(ctx, "Cannot read response body: %v", err)
		return false
	}
	resp.ContentLength = int64(len(body))
	return f.match(body)
}

type notFilter struct {
	inner Filter
}

func (f notFilter) String() string { return "not " + f.inner.String() }

func (f notFilter) MatchRequest(req *http.Request, ctx *goproxy.ProxyCtx) bool {
	return !f.inner.MatchRequest(req, ctx)
}

func (f notFilter) MatchResponse(resp *http.Response, ctx *goproxy.ProxyCtx) bool {
	return !f.inner.MatchResponse(resp, ctx)
}

// FilterKinds lists what ParseFilter understands.
var FilterKinds = []string{"host", "method", "path", "url", "header", "json", "not"}

// ParseFilter builds a filter from console arguments:
//
//	host <regexp>
//	method <method>...
//	path <prefix>
//	url <regexp>
//	header <name> [<regexp>]
//	json <path> [<value>]
//	not <filter>
func ParseFilter(args []string) (Filter, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("filter kind missing, one of %s", strings.Join(FilterKinds, ", "))
	}
	kind, rest := args[0], args[1:]
	expr := strings.Join(args, " ")

	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("%s filter needs %d argument(s)", kind, n)
		}
		return nil
	}

	switch kind {
	case "host":
		if err := need(1); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(rest[0])
		if err != nil {
			return nil, err
		}
		return requestFilter{expr: expr, cond: goproxy.ReqHostMatches(re)}, nil

	case "method":
		if err := need(1); err != nil {
			return nil, err
		}
		return requestFilter{expr: expr, cond: goproxy.ReqMethodIs(rest...)}, nil

	case "path":
		if err := need(1); err != nil {
			return nil, err
		}
		return requestFilter{expr: expr, cond: goproxy.UrlHasPrefix(rest[0])}, nil

	case "url":
		if err := need(1); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(rest[0])
		if err != nil {
			return nil, err
		}
		return requestFilter{expr: expr, cond: goproxy.UrlMatches(re)}, nil

	case "header":
		if err := need(1); err != nil {
			return nil, err
		}
		f := headerFilter{expr: expr, name: rest[0]}
		if len(rest) > 1 {
			re, err := regexp.Compile(rest[1])
			if err != nil {
				return nil, err
			}
			f.re = re
		}
		return f, nil

	case "json":
		if err := need(1); err != nil {
			return nil, err
		}
		f := jsonFilter{expr: expr, path: rest[0]}
		if len(rest) > 1 {
			v := strings.Join(rest[1:], " ")
			f.value = &v
		}
		return f, nil

	case "not":
		inner, err := ParseFilter(rest)
		if err != nil {
			return nil, err
		}
		return notFilter{inner: inner}, nil
	}
	return nil, fmt.Errorf("unknown filter kind %q, one of %s", kind, strings.Join(FilterKinds, ", "))
}
