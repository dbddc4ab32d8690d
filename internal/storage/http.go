package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	initialHttpRequestSize = 512
	minHttpRequestSize     = 1024
)

// HttpReader reads a remote object with range requests.  Signed URLs are
// supported; the query string is left out of error messages.
type HttpReader struct {
	ctx          context.Context
	url          string
	display      string
	offset       int64
	size         int64
	client       *http.Client
	buffer       ReaderAtSeeker
	bufferOffset int64
	bufferSize   int64
	validator    string
}

type HttpReaderOption func(*HttpReader)

func WithHttpClient(client *http.Client) HttpReaderOption {
	return func(r *HttpReader) {
		r.client = client
	}
}

func NewHttpReader(ctx context.Context, rawUrl string, options ...HttpReaderOption) (*HttpReader, error) {
	reader := &HttpReader{
		ctx:     ctx,
		url:     rawUrl,
		display: redactUrl(rawUrl),
		client:  &http.Client{},
	}
	for _, option := range options {
		option(reader)
	}
	if err := reader.init(); err != nil {
		return nil, err
	}
	return reader, nil
}

// redactUrl drops the query, which holds the SAS token for signed assets.
func redactUrl(rawUrl string) string {
	parsed, err := url.Parse(rawUrl)
	if err != nil || parsed.RawQuery == "" {
		return rawUrl
	}
	parsed.RawQuery = ""
	return parsed.String() + "?<redacted>"
}

func (r *HttpReader) init() error {
	// the first range response tells the object size
	resp, data, err := r.get(0, initialHttpRequestSize-1)
	if err != nil {
		return err
	}

	r.buffer = bytes.NewReader(data)
	r.bufferSize = int64(len(data))

	contentRange := resp.Header.Get("Content-Range")
	_, total, found := strings.Cut(contentRange, "/")
	if !found {
		r.size = int64(len(data))
		return nil
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid content-range header from %s: %w", r.display, err)
	}
	r.size = size
	r.validator = validatorFromResponse(resp)
	return nil
}

func (r *HttpReader) get(start int64, end int64) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid request for %s: %w", r.display, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	if r.validator != "" {
		req.Header.Set("If-Range", r.validator)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request to %s failed: %w", r.display, err)
	}
	defer resp.Body.Close()
	if !success(resp) {
		return nil, nil, fmt.Errorf("unexpected response from %s: %d", r.display, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response from %s: %w", r.display, err)
	}
	return resp, data, nil
}

func success(response *http.Response) bool {
	return response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices
}

func validatorFromResponse(resp *http.Response) string {
	etag := resp.Header.Get("ETag")
	if etag != "" && etag[0] == '"' {
		return etag
	}

	return resp.Header.Get("Last-Modified")
}

func (r *HttpReader) Size() int64 {
	return r.size
}

func (r *HttpReader) ReadAt(data []byte, offset int64) (int, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	total := 0
	for total < len(data) {
		n, err := r.Read(data[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *HttpReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset = r.offset + offset
	case io.SeekEnd:
		offset = r.size + offset
	}

	if offset < 0 {
		return 0, fmt.Errorf("attempt to seek to a negative offset: %d", offset)
	}
	r.offset = offset
	return offset, nil
}

func (r *HttpReader) Read(data []byte) (int, error) {
	if r.offset > r.size {
		return 0, io.EOF
	}
	if r.buffer == nil || r.offset < r.bufferOffset || r.offset > r.bufferOffset+r.bufferSize {
		if err := r.fill(int64(len(data))); err != nil {
			return 0, err
		}
	}
	read, err := r.buffer.ReadAt(data, r.offset-r.bufferOffset)
	r.offset += int64(read)
	if err == io.EOF && r.offset < r.size {
		r.buffer = nil
		return read, nil
	}
	return read, err
}

func (r *HttpReader) fill(size int64) error {
	_, data, err := r.get(r.offset, r.offset+max(size, minHttpRequestSize))
	if err != nil {
		return err
	}

	r.buffer = bytes.NewReader(data)
	r.bufferOffset = r.offset
	r.bufferSize = int64(len(data))
	return nil
}

func (r *HttpReader) Close() error {
	r.buffer = nil
	r.client.CloseIdleConnections()
	return nil
}
