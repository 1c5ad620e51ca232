package goproxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (proxy *ProxyHttpServer) handleHttp(w http.ResponseWriter, r *http.Request) {
	ctx := proxy.newCtx(r)

	ctx.Options.Debugf(ctx, "Got request %s %s %s", r.Method, r.Host, r.URL.String())
	if !r.URL.IsAbs() {
		proxy.opt.NonProxyHandler.ServeHTTP(w, r)
		return
	}
	if isWebSocketRequest(r) {
		proxy.hijackWebsocket(ctx, w, r)
		return
	}

	resp := proxy.roundTrip(ctx, r)
	ctx.Options.Debugf(ctx, "Copying response to client %v [%d]", resp.Status, resp.StatusCode)

	copyHeaders(w.Header(), resp.Header, proxy.opt.KeepDestinationHeaders)
	// handlers may have replaced the body, ContentLength is the authority
	if resp.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	} else {
		w.Header().Del("Content-Length")
	}
	w.WriteHeader(resp.StatusCode)

	var copyWriter io.Writer = w
	// Content-Type header may also contain charset definition, so here we need to check the prefix.
	// Transfer-Encoding can be a list of comma separated values, so we use Contains() for it.
	if strings.HasPrefix(w.Header().Get("content-type"), "text/event-stream") ||
		strings.Contains(w.Header().Get("transfer-encoding"), "chunked") {
		// server-side events, flush the buffered data to the client.
		copyWriter = &flushWriter{w: w}
	}

	if resp.Body == nil {
		return
	}
	nr, err := io.Copy(copyWriter, resp.Body)
	if err := resp.Body.Close(); err != nil {
		ctx.Options.Warnf(ctx, "Can't close response body %v", err)
	}
	ctx.Options.Debugf(ctx, "Copied %d bytes to client error=%v", nr, err)
}

type flushWriter struct {
	w io.Writer
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// serveConn reads requests off a raw client connection, such as a terminated
// TLS tunnel or a transparent socket, and answers each through the handler chains.
// Relative request URLs are completed with scheme and host.
func (proxy *ProxyHttpServer) serveConn(parent *ProxyCtx, conn net.Conn, scheme, host string) {
	reader := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				parent.Options.Debugf(parent, "Cannot read request from %v: %v", conn.RemoteAddr(), err)
			}
			return
		}

		if !req.URL.IsAbs() {
			if req.Host == "" {
				req.Host = host
			}
			req.URL.Scheme = scheme
			req.URL.Host = req.Host
		}
		req.RemoteAddr = conn.RemoteAddr().String()
		if parent.Req != nil && parent.Req.RemoteAddr != "" {
			req.RemoteAddr = parent.Req.RemoteAddr
		}

		// The whole body is read up front, otherwise a handler answering
		// without consuming it would leave the reader mid-message.
		_, req.Body, err = BufferBody(req.Body)
		if err != nil {
			parent.Options.Warnf(parent, "Cannot read request body: %v", err)
			return
		}

		// A new context populated with the previous UserData, to be able
		// to correlate the CONNECT with any subsequent request.
		ctx := proxy.newCtx(req)
		ctx.UserData = parent.UserData

		// handlers holding resources until the request is over watch its context
		reqCtx, cancel := context.WithCancel(context.Background())
		ctx.Req = req.WithContext(reqCtx)

		if isWebSocketRequest(req) {
			proxy.serveWebsocket(ctx, &bufferedConn{Conn: conn, r: reader}, ctx.Req)
			cancel()
			return
		}

		stopWatch := watchClient(conn, reader, cancel)
		resp := proxy.roundTrip(ctx, ctx.Req)
		stopWatch()
		err = writeConnResponse(ctx, conn, resp)
		cancel()
		if err != nil {
			ctx.Options.Warnf(ctx, "Cannot write response to %v: %v", conn.RemoteAddr(), err)
			return
		}
		if req.Close || resp.Close {
			return
		}
	}
}

// aLongTimeAgo is a deadline in the past, it unblocks a pending read at once.
var aLongTimeAgo = time.Unix(1, 0)

// watchClient cancels the request when the client hangs up while the request
// is in flight. The request body is already buffered, so nothing else reads
// conn meanwhile. stop ends the watch and leaves reader usable for the next
// request, pipelined bytes included.
func watchClient(conn net.Conn, reader *bufio.Reader, cancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := reader.Peek(1); err != nil && !isTimeout(err) {
			cancel()
		}
	}()
	return func() {
		_ = conn.SetReadDeadline(aLongTimeAgo)
		<-done
		_ = conn.SetReadDeadline(time.Time{})
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// writeConnResponse serializes resp as HTTP/1.1 with a definite length.
func writeConnResponse(ctx *ProxyCtx, w io.Writer, resp *http.Response) error {
	resp.Proto, resp.ProtoMajor, resp.ProtoMinor = "HTTP/1.1", 1, 1
	if resp.ContentLength < 0 || len(resp.TransferEncoding) > 0 {
		b, err := ReadBody(resp.Body)
		if err != nil {
			ctx.Options.Warnf(ctx, "Error reading response body: %v", err)
		}
		resp.TransferEncoding = nil
		resp.ContentLength = int64(len(b))
		resp.Header.Del("Transfer-Encoding")
		resp.Body = io.NopCloser(bytes.NewReader(b))
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}
	return resp.Write(w)
}
