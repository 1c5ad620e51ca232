package har

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://example.com/submit?b=2&a=1&a=3", strings.NewReader("x=1"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "session", Value: "abc"})

	r := ParseRequest(req, []byte("x=1"))
	assert.Equal(t, "POST", r.Method)
	assert.Equal(t, "http://example.com/submit?b=2&a=1&a=3", r.Url)
	assert.Equal(t, []NameValuePair{{"a", "1"}, {"a", "3"}, {"b", "2"}}, r.QueryString)
	assert.Equal(t, []Cookie{{Name: "session", Value: "abc"}}, r.Cookies)
	require.NotNil(t, r.PostData)
	assert.Equal(t, "x=1", r.PostData.Text)
	assert.EqualValues(t, 3, r.BodySize)

	assert.Nil(t, ParseRequest(nil, nil))
}

func TestParseResponse(t *testing.T) {
	resp := &http.Response{
		Status:     "302 Found",
		StatusCode: 302,
		Proto:      "HTTP/1.1",
		Header:     http.Header{"Location": {"/elsewhere"}, "Content-Type": {"text/plain; charset=utf-8"}},
	}
	r := ParseResponse(resp, []byte("moved"))
	assert.Equal(t, "Found", r.StatusText)
	assert.Equal(t, "/elsewhere", r.RedirectUrl)
	assert.Equal(t, "moved", r.Content.Text)
	assert.Empty(t, r.Content.Encoding)

	resp.Header.Set("Content-Type", "image/png")
	r = ParseResponse(resp, []byte{0x89, 'P', 'N', 'G'})
	assert.Equal(t, "base64", r.Content.Encoding)
	assert.Equal(t, "iVBORw==", r.Content.Text)
}

func TestWrite(t *testing.T) {
	h := New("interceptproxy", "dev")
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.AppendEntry(NewEntry(started, 1500*time.Millisecond, ParseRequest(req, nil), nil))

	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))
	require.True(t, json.Valid(buf.Bytes()))

	doc := buf.Bytes()
	assert.Equal(t, "1.2", gjson.GetBytes(doc, "log.version").String())
	assert.Equal(t, "interceptproxy", gjson.GetBytes(doc, "log.creator.name").String())
	assert.EqualValues(t, 1500, gjson.GetBytes(doc, "log.entries.0.time").Int())
	assert.EqualValues(t, 1500, gjson.GetBytes(doc, "log.entries.0.timings.wait").Int())
	assert.Equal(t, "2024-05-01T12:00:00Z", gjson.GetBytes(doc, "log.entries.0.startedDateTime").String())
	assert.Equal(t, "GET", gjson.GetBytes(doc, "log.entries.0.request.method").String())
}
