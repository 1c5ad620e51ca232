package store

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/ext/har"
)

// ExportHAR writes the last n requests as an HTTP Archive. Requests whose
// recording no longer parses are skipped.
func (s *Store) ExportHAR(ctx context.Context, w io.Writer, n int, logger goproxy.Logger) (int, error) {
	list, err := s.Last(ctx, n)
	if err != nil {
		return 0, err
	}
	doc := har.New("interceptproxy", "1")
	for _, rec := range list {
		entry, err := harEntry(&rec)
		if err != nil {
			logger.Warnf(0, "Skipping %s in HAR export: %v", rec.ID, err)
			continue
		}
		doc.AppendEntry(entry)
	}
	return len(doc.Log.Entries), doc.Write(w)
}

func harEntry(rec *Request) (har.Entry, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(rec.Raw)))
	if err != nil {
		return har.Entry{}, err
	}
	reqBody, err := goproxy.ReadBody(req.Body)
	if err != nil {
		return har.Entry{}, err
	}
	// the recorded request line only carries the path
	if u, err := req.URL.Parse(rec.URL); err == nil {
		req.URL = u
	}
	entry := har.NewEntry(rec.CreatedAt, rec.Duration, har.ParseRequest(req, reqBody), nil)

	if len(rec.Response) > 0 {
		resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(rec.Response)), req)
		if err != nil {
			return har.Entry{}, err
		}
		body, err := goproxy.ReadBody(resp.Body)
		if err != nil {
			return har.Entry{}, err
		}
		entry.Response = har.ParseResponse(resp, body)
	}
	if rec.Error != "" {
		entry.Comment = rec.Error
	}
	return entry, nil
}
