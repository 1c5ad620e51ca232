package store

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/console"
)

func recordingProxy(t *testing.T, s *Store) (*http.Client, *Recorder) {
	t.Helper()
	opt := goproxy.DefaultOptions()
	opt.Logger = goproxy.NopLogger{}
	proxy := goproxy.NewProxyHttpServer(opt)
	rec := NewRecorder(s)
	rec.Install(proxy)

	srv := httptest.NewServer(proxy)
	t.Cleanup(srv.Close)
	proxyURL, _ := url.Parse(srv.URL)
	tr := &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	t.Cleanup(tr.CloseIdleConnections)
	return &http.Client{Transport: tr}, rec
}

type savedLog struct {
	mu   sync.Mutex
	reqs []*Request
}

func (l *savedLog) add(r *Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, r)
}

func (l *savedLog) list() []*Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Request(nil), l.reqs...)
}

func fetch(t *testing.T, client *http.Client, method, u, body string) {
	t.Helper()
	req, err := http.NewRequest(method, u, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func TestRecorder(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo", "1")
		_, _ = w.Write(bytes.ToUpper(b))
	}))
	defer backend.Close()

	s := openStore(t)
	client, rec := recordingProxy(t, s)
	log := &savedLog{}
	rec.OnSaved = log.add

	fetch(t, client, http.MethodPost, backend.URL+"/shout", "hello")
	saved := log.list()
	require.Len(t, saved, 1)

	got, err := s.Get(context.Background(), saved[0].ID)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, backend.URL+"/shout", got.URL)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Contains(t, string(got.Raw), "POST /shout HTTP/1.1\r\n")
	assert.Contains(t, string(got.Raw), "\r\n\r\nhello")
	assert.Contains(t, string(got.Response), "X-Echo: 1\r\n")
	assert.Contains(t, string(got.Response), "HELLO")

	rec.SetEnabled(false)
	fetch(t, client, http.MethodGet, backend.URL+"/quiet", "")
	assert.Len(t, log.list(), 1)
}

func TestRecorderKeepsFailures(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := openStore(t)
	client, rec := recordingProxy(t, s)
	log := &savedLog{}
	rec.OnSaved = log.add

	fetch(t, client, http.MethodGet, "http://"+addr+"/", "")
	saved := log.list()
	require.Len(t, saved, 1)
	assert.Zero(t, saved[0].StatusCode)
	assert.NotEmpty(t, saved[0].Error)
}

func TestHistoryCommands(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	req := &Request{
		ID:         "0123abcd-0000-0000-0000-000000000000",
		Method:     "GET",
		URL:        "http://example.com/",
		StatusCode: 204,
		Raw:        []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"),
		Response:   []byte("HTTP/1.1 204 No Content\r\n\r\n"),
	}
	require.NoError(t, s.Save(ctx, req))

	r := console.NewRegistry(goproxy.NopLogger{})
	loaded := console.LoadPlugins(r, goproxy.NopLogger{}, Commands(s, NewRecorder(s), goproxy.NopLogger{}))
	require.Equal(t, []string{"history"}, loaded)
	d := console.NewDispatcher(r, goproxy.NopLogger{})
	run := func(line string) (string, error) {
		var out bytes.Buffer
		err := d.Execute(ctx, &out, line)
		return out.String(), err
	}

	out, err := run("ls")
	require.NoError(t, err)
	assert.Contains(t, out, "0123abcd")
	assert.Contains(t, out, "204")
	assert.Contains(t, out, "http://example.com/")

	out, err = run("vr 0123")
	require.NoError(t, err)
	assert.Contains(t, out, "GET / HTTP/1.1\r\n")
	assert.Contains(t, out, "HTTP/1.1 204 No Content")

	_, err = run("view nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = run(`meta 0123 tagger color=red score=3 "note=needs review"`)
	require.NoError(t, err)
	out, err = run("meta 0123 tagger")
	require.NoError(t, err)
	assert.Equal(t, "color=\"red\"\nnote=\"needs review\"\nscore=3\n", out)

	_, err = run("meta 0123 tagger broken")
	assert.ErrorIs(t, err, console.ErrHandler)

	out, err = run("record off")
	require.NoError(t, err)
	assert.Equal(t, "recording off\n", out)
	_, err = run("hist zero")
	assert.Error(t, err)
}
