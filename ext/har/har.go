// Package har builds HTTP Archive documents.
// HAR specification: http://www.softwareishard.com/blog/har-12-spec/
package har

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

type Har struct {
	Log Log `json:"log"`
}

type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
	Comment string  `json:"comment,omitempty"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func New(creator, version string) *Har {
	return &Har{
		Log: Log{
			Version: "1.2",
			Creator: Creator{Name: creator, Version: version},
			Entries: []Entry{},
		},
	}
}

func (har *Har) AppendEntry(entry ...Entry) {
	har.Log.Entries = append(har.Log.Entries, entry...)
}

// Write encodes the archive as indented JSON.
func (har *Har) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(har)
}

type Entry struct {
	StartedDateTime time.Time `json:"startedDateTime"`
	Time            int64     `json:"time"`
	Request         *Request  `json:"request"`
	Response        *Response `json:"response"`
	Cache           struct{}  `json:"cache"`
	Timings         Timings   `json:"timings"`
	Comment         string    `json:"comment,omitempty"`
}

// NewEntry describes one exchange. The whole duration is accounted as wait time.
func NewEntry(started time.Time, took time.Duration, req *Request, resp *Response) Entry {
	ms := took.Milliseconds()
	return Entry{
		StartedDateTime: started,
		Time:            ms,
		Request:         req,
		Response:        resp,
		Timings:         Timings{Send: 0, Wait: ms, Receive: 0},
	}
}

type Request struct {
	Method      string          `json:"method"`
	Url         string          `json:"url"`
	HttpVersion string          `json:"httpVersion"`
	Cookies     []Cookie        `json:"cookies"`
	Headers     []NameValuePair `json:"headers"`
	QueryString []NameValuePair `json:"queryString"`
	PostData    *PostData       `json:"postData,omitempty"`
	BodySize    int64           `json:"bodySize"`
	HeadersSize int64           `json:"headersSize"`
}

// ParseRequest describes req. body is the already read request body.
func ParseRequest(req *http.Request, body []byte) *Request {
	if req == nil {
		return nil
	}
	harRequest := Request{
		Method:      req.Method,
		Url:         req.URL.String(),
		HttpVersion: req.Proto,
		Cookies:     parseCookies(req.Cookies()),
		Headers:     parseStringArrMap(req.Header),
		QueryString: parseStringArrMap(req.URL.Query()),
		BodySize:    int64(len(body)),
		HeadersSize: -1,
	}
	if len(body) > 0 {
		harRequest.PostData = &PostData{
			MimeType: req.Header.Get("Content-Type"),
			Text:     string(body),
		}
	}
	return &harRequest
}

func parseStringArrMap(stringArrMap map[string][]string) []NameValuePair {
	harQueryString := make([]NameValuePair, 0, len(stringArrMap))
	for k, v := range stringArrMap {
		escapedKey, _ := url.QueryUnescape(k)
		for _, value := range v {
			harQueryString = append(harQueryString, NameValuePair{Name: escapedKey, Value: value})
		}
	}
	sort.SliceStable(harQueryString, func(i, j int) bool {
		return harQueryString[i].Name < harQueryString[j].Name
	})
	return harQueryString
}

func parseCookies(cookies []*http.Cookie) []Cookie {
	harCookies := make([]Cookie, len(cookies))
	for i, cookie := range cookies {
		harCookie := Cookie{
			Name:     cookie.Name,
			Domain:   cookie.Domain,
			HttpOnly: cookie.HttpOnly,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			Value:    cookie.Value,
		}
		if !cookie.Expires.IsZero() {
			harCookie.Expires = &cookie.Expires
		}
		harCookies[i] = harCookie
	}
	return harCookies
}

type Response struct {
	Status      int             `json:"status"`
	StatusText  string          `json:"statusText"`
	HttpVersion string          `json:"httpVersion"`
	Cookies     []Cookie        `json:"cookies"`
	Headers     []NameValuePair `json:"headers"`
	Content     Content         `json:"content"`
	RedirectUrl string          `json:"redirectURL"`
	BodySize    int64           `json:"bodySize"`
	HeadersSize int64           `json:"headersSize"`
	Comment     string          `json:"comment,omitempty"`
}

// ParseResponse describes resp. body is the already read response body,
// binary bodies are stored base64 encoded.
func ParseResponse(resp *http.Response, body []byte) *Response {
	if resp == nil {
		return nil
	}

	statusText := resp.Status
	if len(resp.Status) > 4 {
		statusText = resp.Status[4:]
	}
	harResponse := Response{
		Status:      resp.StatusCode,
		StatusText:  statusText,
		HttpVersion: resp.Proto,
		Cookies:     parseCookies(resp.Cookies()),
		Headers:     parseStringArrMap(resp.Header),
		RedirectUrl: resp.Header.Get("Location"),
		BodySize:    int64(len(body)),
		HeadersSize: -1,
		Content: Content{
			Size:     len(body),
			MimeType: resp.Header.Get("Content-Type"),
		},
	}
	if isText(harResponse.Content.MimeType) && utf8.Valid(body) {
		harResponse.Content.Text = string(body)
	} else if len(body) > 0 {
		harResponse.Content.Text = base64.StdEncoding.EncodeToString(body)
		harResponse.Content.Encoding = "base64"
	}
	return &harResponse
}

func isText(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType == ""
	}
	return strings.HasPrefix(mediaType, "text/") ||
		strings.HasSuffix(mediaType, "json") ||
		strings.HasSuffix(mediaType, "xml") ||
		mediaType == "application/javascript" ||
		mediaType == "application/x-www-form-urlencoded"
}

type Cookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Path     string     `json:"path,omitempty"`
	Domain   string     `json:"domain,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	HttpOnly bool       `json:"httpOnly,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
}

type NameValuePair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type Timings struct {
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
}
