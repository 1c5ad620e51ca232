package goproxy

import (
	"bytes"
	"io"
	"net/http"

	"github.com/valyala/bytebufferpool"
)

// ReadBody drains and closes rc. The returned slice is owned by the caller.
func ReadBody(rc io.ReadCloser) ([]byte, error) {
	if rc == nil || rc == http.NoBody {
		return nil, nil
	}
	defer rc.Close()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}

// BufferBody replaces the body with an in-memory copy so it can be read more than once.
func BufferBody(rc io.ReadCloser) ([]byte, io.ReadCloser, error) {
	b, err := ReadBody(rc)
	if err != nil {
		return nil, http.NoBody, err
	}
	return b, io.NopCloser(bytes.NewReader(b)), nil
}
