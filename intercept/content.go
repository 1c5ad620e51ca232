package intercept

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Windscribe/goproxy-intercept"
)

// SplitMessage separates the header block of a raw message from its body.
// Both CRLF and bare LF line endings are accepted.
func SplitMessage(raw []byte) (head, body []byte) {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[:i], raw[i+4:]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i], raw[i+2:]
	}
	return bytes.TrimRight(raw, "\r\n"), nil
}

// NormalizeMessage rewrites a hand edited message with CRLF header lines and a
// Content-Length matching its body. Chunked messages are returned untouched,
// and so is the length of a response whose status forbids a body.
func NormalizeMessage(raw []byte) []byte {
	return normalize(raw, bodilessStatus(raw))
}

// NormalizeResponse is NormalizeMessage for a response to a method request.
// A response to HEAD keeps its Content-Length, which describes a body that
// is never sent.
func NormalizeResponse(raw []byte, method string) []byte {
	return normalize(raw, method == http.MethodHead || bodilessStatus(raw))
}

func normalize(raw []byte, bodiless bool) []byte {
	head, body := SplitMessage(raw)
	if bodiless || len(bytes.Trim(body, "\r\n")) == 0 {
		body = nil
	}

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines)+1)
	hadLength := false
	for i, line := range lines {
		if i > 0 {
			name, value, _ := strings.Cut(line, ":")
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "transfer-encoding":
				if strings.Contains(strings.ToLower(value), "chunked") {
					return raw
				}
			case "content-length":
				if bodiless {
					break
				}
				hadLength = true
				continue
			}
		}
		out = append(out, line)
	}
	if !bodiless && (len(body) > 0 || hadLength) {
		out = append(out, "Content-Length: "+strconv.Itoa(len(body)))
	}

	var buf bytes.Buffer
	buf.WriteString(strings.Join(out, "\r\n"))
	buf.WriteString("\r\n\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// bodilessStatus reports whether raw starts with a status line whose code
// forbids a body.
func bodilessStatus(raw []byte) bool {
	line, _, _ := bytes.Cut(raw, []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return false
	}
	code, err := strconv.Atoi(fields[1])
	return err == nil && !bodyAllowed(code)
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

// hasBody reports whether a response with status to a method request has a body.
func hasBody(method string, status int) bool {
	return method != http.MethodHead && bodyAllowed(status)
}

// ReplaceBody swaps the body of a raw message and fixes its length.
func ReplaceBody(raw, body []byte) []byte {
	head, _ := SplitMessage(raw)
	msg := append(append(append([]byte(nil), head...), "\r\n\r\n"...), body...)
	return NormalizeMessage(msg)
}

// DumpRequest buffers the body of req and serializes it with a definite
// Content-Length. The request stays usable.
func DumpRequest(req *http.Request) ([]byte, error) {
	body, rc, err := goproxy.BufferBody(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = rc
	req.ContentLength = int64(len(body))
	req.TransferEncoding = nil
	raw, err := httputil.DumpRequest(req, true)
	if err != nil {
		return nil, err
	}
	return NormalizeMessage(raw), nil
}

// DumpResponse buffers the body of resp and serializes it with a definite
// Content-Length. Responses without a body keep the length they declare.
func DumpResponse(resp *http.Response) ([]byte, error) {
	var method string
	if resp.Request != nil {
		method = resp.Request.Method
	}
	body, rc, err := goproxy.BufferBody(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = rc
	if hasBody(method, resp.StatusCode) {
		resp.ContentLength = int64(len(body))
		resp.TransferEncoding = nil
		resp.Header.Del("Transfer-Encoding")
	} else if method != http.MethodHead {
		resp.ContentLength = 0
	}
	raw, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}
	return NormalizeResponse(raw, method), nil
}

// parseRequest reads an edited request. Relative targets keep the scheme
// and host of orig.
func parseRequest(content []byte, orig *http.Request) (*http.Request, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(NormalizeMessage(content))))
	if err != nil {
		return nil, err
	}
	body, err := goproxy.ReadBody(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))

	if !req.URL.IsAbs() {
		req.URL.Scheme = orig.URL.Scheme
		if req.Host == "" {
			req.Host = orig.URL.Host
		}
		req.URL.Host = req.Host
	}
	if req.URL.Host == "" {
		return nil, fmt.Errorf("request has no host")
	}
	req.RequestURI = ""
	req.RemoteAddr = orig.RemoteAddr
	return req.WithContext(orig.Context()), nil
}

func parseResponse(content []byte, req *http.Request) (*http.Response, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(NormalizeResponse(content, req.Method))), req)
	if err != nil {
		return nil, err
	}
	body, err := goproxy.ReadBody(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if hasBody(req.Method, resp.StatusCode) {
		resp.ContentLength = int64(len(body))
	}
	return resp, nil
}

// normalizeFor normalizes edited content of x.
func normalizeFor(x Exchange, content []byte) []byte {
	if x.Direction == DirectionResponse {
		return NormalizeResponse(content, x.Method)
	}
	return NormalizeMessage(content)
}

// GetJSON reads path from the JSON body of a raw message.
func GetJSON(raw []byte, path string) (string, error) {
	_, body := SplitMessage(raw)
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("body is not JSON")
	}
	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return "", fmt.Errorf("%s: no such field", path)
	}
	return res.Raw, nil
}

// SetJSON sets path in the JSON body of a raw message. A value that is valid
// JSON is inserted as is, anything else as a string.
func SetJSON(raw []byte, path, value string) ([]byte, error) {
	_, body := SplitMessage(raw)
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("body is not JSON")
	}
	var (
		updated []byte
		err     error
	)
	if gjson.Valid(value) {
		updated, err = sjson.SetRawBytes(body, path, []byte(value))
	} else {
		updated, err = sjson.SetBytes(body, path, value)
	}
	if err != nil {
		return nil, err
	}
	return ReplaceBody(raw, updated), nil
}
