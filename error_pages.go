package goproxy

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrorPages are HTML templates answered in place of a failed round trip.
// "%H" is replaced by the requested host.
type ErrorPages struct {
	ErrorPageConnect []byte
	ErrorPageDNS     []byte
	ErrorPageGeneral []byte
}

// DefaultErrorPages returns minimal pages for every error class.
func DefaultErrorPages() *ErrorPages {
	return &ErrorPages{
		ErrorPageConnect: []byte("<html><body><h1>Cannot connect to %H</h1></body></html>"),
		ErrorPageDNS:     []byte("<html><body><h1>Cannot resolve %H</h1></body></html>"),
		ErrorPageGeneral: []byte("<html><body><h1>Error while fetching %H</h1></body></html>"),
	}
}

// Response takes an error from a call to ProxyCtx.RoundTrip(), and builds the
// appropriate error page depending on the type of error.
func (e *ErrorPages) Response(err error, req *http.Request) *http.Response {
	var (
		status  int
		body    []byte
		dnsErr  *net.DNSError
		opError *net.OpError
	)
	switch {
	case errors.As(err, &dnsErr):
		status = http.StatusBadRequest
		body = e.ErrorPageDNS
	case errors.As(err, &opError):
		status = http.StatusBadGateway
		body = e.ErrorPageConnect
	default:
		status = http.StatusInternalServerError
		body = e.ErrorPageGeneral
	}
	return NewResponse(req, ContentTypeHtml, status, strings.ReplaceAll(string(body), "%H", req.URL.Hostname()))
}

// Enabled returns true if all of the error pages are set.
func (e *ErrorPages) Enabled() bool {
	return e != nil && e.ErrorPageConnect != nil && e.ErrorPageDNS != nil && e.ErrorPageGeneral != nil
}
