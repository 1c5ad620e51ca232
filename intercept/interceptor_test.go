package intercept

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windscribe/goproxy-intercept"
)

func backend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/bobo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "bobo")
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, r.Body)
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1234")
		if r.Method != http.MethodHead {
			_, _ = w.Write(make([]byte, 1234))
		}
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":false}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	proxy  *goproxy.ProxyHttpServer
	client *http.Client
	queue  *Queue
	ic     *Interceptor
	seen   <-chan Exchange
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	opt := goproxy.DefaultOptions()
	opt.Logger = goproxy.NopLogger{}
	proxy := goproxy.NewProxyHttpServer(opt)
	s := httptest.NewServer(proxy)
	t.Cleanup(s.Close)

	q := NewQueue()
	// the queue closes first so that suspended handlers let the server close
	t.Cleanup(q.Close)
	ic := NewInterceptor(q)
	ic.Install(proxy)
	seen, _, err := q.Subscribe(8)
	require.NoError(t, err)

	proxyURL, _ := url.Parse(s.URL)
	tr := &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	t.Cleanup(tr.CloseIdleConnections)
	return &harness{proxy: proxy, client: &http.Client{Transport: tr}, queue: q, ic: ic, seen: seen}
}

type result struct {
	status int
	length int64
	body   string
	err    error
}

func (h *harness) do(req *http.Request) <-chan result {
	ch := make(chan result, 1)
	go func() {
		resp, err := h.client.Do(req)
		if err != nil {
			ch <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		ch <- result{status: resp.StatusCode, length: resp.ContentLength, body: string(b), err: err}
	}()
	return ch
}

func (h *harness) next(t *testing.T) Exchange {
	t.Helper()
	select {
	case x := <-h.seen:
		return x
	case <-time.After(5 * time.Second):
		t.Fatal("nothing intercepted")
	}
	return Exchange{}
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("client never got an answer")
	}
	return result{}
}

func TestInterceptRequestRelease(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(true, false)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/bobo", nil)
	ch := h.do(req)

	x := h.next(t)
	assert.Equal(t, DirectionRequest, x.Direction)
	assert.Equal(t, http.MethodGet, x.Method)
	assert.Equal(t, srv.URL+"/bobo", x.URL)
	assert.Contains(t, string(x.Content), "GET /bobo HTTP/1.1\r\n")

	select {
	case <-ch:
		t.Fatal("request went through before release")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, h.queue.Release(x.ID, nil))
	r := wait(t, ch)
	assert.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "bobo", r.body)
}

func TestInterceptEditedRequest(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(true, false)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/echo", strings.NewReader("original"))
	ch := h.do(req)

	x := h.next(t)
	_, body := SplitMessage(x.Content)
	assert.Equal(t, "original", string(body))

	require.NoError(t, h.queue.Update(x.ID, ReplaceBody(x.Content, []byte("edited by hand"))))
	require.NoError(t, h.queue.Release(x.ID, nil))
	assert.Equal(t, "edited by hand", wait(t, ch).body)
}

func TestInterceptDrop(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(true, false)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/bobo", nil)
	ch := h.do(req)
	x := h.next(t)

	require.NoError(t, h.queue.Drop(x.ID, nil))
	r := wait(t, ch)
	assert.Equal(t, http.StatusBadGateway, r.status)
	assert.Equal(t, "Dropped by proxy operator\n", r.body)
}

func TestInterceptMalformedRelease(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(true, false)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/bobo", nil)
	ch := h.do(req)
	x := h.next(t)

	err := h.queue.Release(x.ID, []byte("this is not http"))
	assert.ErrorIs(t, err, ErrMalformedContent)
	r := wait(t, ch)
	assert.Equal(t, http.StatusBadGateway, r.status)
	assert.Contains(t, r.body, "malformed message")
}

func TestInterceptResponse(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(false, true)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/json", nil)
	ch := h.do(req)

	x := h.next(t)
	assert.Equal(t, DirectionResponse, x.Direction)
	assert.Contains(t, string(x.Content), "HTTP/1.1 200 OK\r\n")

	content, err := SetJSON(x.Content, "ok", "true")
	require.NoError(t, err)
	require.NoError(t, h.queue.Release(x.ID, content))

	r := wait(t, ch)
	assert.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, `{"ok":true}`, r.body)
}

func TestNonMatchingPassThrough(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(true, true)
	f, err := ParseFilter([]string{"path", "/json"})
	require.NoError(t, err)
	h.ic.AddFilter(f)
	assert.Len(t, h.ic.Filters(), 1)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/bobo", nil)
	assert.Equal(t, "bobo", wait(t, h.do(req)).body)
	assert.Empty(t, h.queue.List())

	h.ic.ClearFilters()
	h.ic.SetDirections(false, false)
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/json", nil)
	assert.Equal(t, `{"ok":false}`, wait(t, h.do(req)).body)
	assert.Empty(t, h.queue.List())
}

func TestOtherConnectionsKeepFlowing(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(true, false)
	f, err := ParseFilter([]string{"path", "/echo"})
	require.NoError(t, err)
	h.ic.AddFilter(f)

	held, _ := http.NewRequest(http.MethodPost, srv.URL+"/echo", strings.NewReader("held"))
	heldCh := h.do(held)
	x := h.next(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/bobo", nil)
	assert.Equal(t, "bobo", wait(t, h.do(req)).body)

	require.NoError(t, h.queue.Release(x.ID, nil))
	assert.Equal(t, "held", wait(t, heldCh).body)
}

func TestClientGoneDropsExchange(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(true, false)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/bobo", nil)
	ch := h.do(req)
	x := h.next(t)

	cancel()
	r := <-ch
	assert.Error(t, r.err)

	waitCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	state, err := h.queue.Await(waitCtx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDropped, state)
}

func TestClientGoneDropsTransparentExchange(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(true, false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() { _ = h.proxy.ServeTransparent(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = fmt.Fprintf(conn, "GET /bobo HTTP/1.1\r\nHost: %s\r\n\r\n", strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	x := h.next(t)
	require.NoError(t, conn.Close())

	waitCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	state, err := h.queue.Await(waitCtx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDropped, state)
}

func TestInterceptHeadResponseKeepsLength(t *testing.T) {
	srv := backend(t)
	h := newHarness(t)
	h.ic.SetDirections(false, true)

	req, _ := http.NewRequest(http.MethodHead, srv.URL+"/big", nil)
	ch := h.do(req)

	x := h.next(t)
	assert.Equal(t, DirectionResponse, x.Direction)
	assert.Equal(t, http.MethodHead, x.Method)
	assert.Contains(t, string(x.Content), "Content-Length: 1234\r\n")

	edited := strings.Replace(string(x.Content), "\r\n\r\n", "\nX-Seen: yes\n\n", 1)
	require.NoError(t, h.queue.Update(x.ID, normalizeFor(x, []byte(edited))))
	require.NoError(t, h.queue.Release(x.ID, nil))

	r := wait(t, ch)
	assert.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, int64(1234), r.length)
	assert.Empty(t, r.body)
}
