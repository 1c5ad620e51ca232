package intercept

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessage(t *testing.T) {
	in := "POST /x HTTP/1.1\nHost: example.com\nContent-Length: 2\n\nhello"
	assert.Equal(t,
		"POST /x HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello",
		string(NormalizeMessage([]byte(in))))

	// an editor adding a trailing newline must not add a body
	in = "GET / HTTP/1.1\nHost: example.com\n\n\n"
	assert.Equal(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", string(NormalizeMessage([]byte(in))))

	chunked := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	assert.Equal(t, chunked, string(NormalizeMessage([]byte(chunked))))
}

func TestBodilessResponseKeepsLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodHead, "http://example.com/big", nil)
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"application/zip"}},
		ContentLength: 1234,
		Body:          http.NoBody,
		Request:       req,
	}
	raw, err := DumpResponse(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Content-Length: 1234\r\n")
	assert.Equal(t, int64(1234), resp.ContentLength)

	parsed, err := parseResponse(raw, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), parsed.ContentLength)

	// the same response to GET would be rewritten to its real length
	assert.Contains(t, string(NormalizeResponse(raw, http.MethodGet)), "Content-Length: 0\r\n")

	notModified := "HTTP/1.1 304 Not Modified\nEtag: \"x\"\nContent-Length: 1234\n\n"
	assert.Equal(t,
		"HTTP/1.1 304 Not Modified\r\nEtag: \"x\"\r\nContent-Length: 1234\r\n\r\n",
		string(NormalizeMessage([]byte(notModified))))
}

func TestSplitMessage(t *testing.T) {
	head, body := SplitMessage([]byte("A: b\r\n\r\nbody"))
	assert.Equal(t, "A: b", string(head))
	assert.Equal(t, "body", string(body))

	head, body = SplitMessage([]byte("A: b\n"))
	assert.Equal(t, "A: b", string(head))
	assert.Nil(t, body)
}

func TestDumpAndParseRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://example.com/a?b=c", strings.NewReader("payload"))
	require.NoError(t, err)
	req.RemoteAddr = "10.0.0.1:1234"

	raw, err := DumpRequest(req)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "POST /a?b=c HTTP/1.1\r\n")
	assert.Contains(t, string(raw), "payload")

	// the request body is still readable after the dump
	b, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	edited := strings.Replace(string(raw), "payload", "changed payload", 1)
	parsed, err := parseRequest([]byte(edited), req)
	require.NoError(t, err)
	assert.Equal(t, "http", parsed.URL.Scheme)
	assert.Equal(t, "example.com", parsed.URL.Host)
	assert.Equal(t, "/a", parsed.URL.Path)
	assert.Equal(t, "10.0.0.1:1234", parsed.RemoteAddr)
	assert.EqualValues(t, len("changed payload"), parsed.ContentLength)
	b, err = io.ReadAll(parsed.Body)
	require.NoError(t, err)
	assert.Equal(t, "changed payload", string(b))
}

func TestParseRequestRejectsGarbage(t *testing.T) {
	orig := &http.Request{URL: &url.URL{Scheme: "http", Host: "example.com"}}
	_, err := parseRequest([]byte("not a request"), orig)
	assert.Error(t, err)
}

func TestParseResponse(t *testing.T) {
	req := &http.Request{Method: http.MethodGet, URL: &url.URL{Scheme: "http", Host: "example.com"}}
	resp, err := parseResponse([]byte("HTTP/1.1 418 I'm a teapot\nX-A: b\n\nshort and stout"), req)
	require.NoError(t, err)
	assert.Equal(t, 418, resp.StatusCode)
	assert.Equal(t, "b", resp.Header.Get("X-A"))
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "short and stout", string(b))

	_, err = parseResponse([]byte("HTTP/9 what"), req)
	assert.Error(t, err)
}

func TestJSONBody(t *testing.T) {
	raw := []byte("POST /api HTTP/1.1\r\nHost: example.com\r\nContent-Length: 25\r\n\r\n{\"user\":{\"name\":\"alice\"}}")

	v, err := GetJSON(raw, "user.name")
	require.NoError(t, err)
	assert.Equal(t, `"alice"`, v)

	_, err = GetJSON(raw, "user.age")
	assert.Error(t, err)

	updated, err := SetJSON(raw, "user.name", "bob")
	require.NoError(t, err)
	_, body := SplitMessage(updated)
	assert.Equal(t, `{"user":{"name":"bob"}}`, string(body))
	assert.Contains(t, string(updated), "Content-Length: 23\r\n")

	updated, err = SetJSON(updated, "user.admin", "true")
	require.NoError(t, err)
	v, err = GetJSON(updated, "user.admin")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	_, err = SetJSON([]byte("POST / HTTP/1.1\r\n\r\nnot json"), "a", "1")
	assert.Error(t, err)
}
