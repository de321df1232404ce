// Package rawhttp is a minimal HTTP/1.1 client over a raw byte stream. It sends
// exactly one GET per connection and never reuses connections.
package rawhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"

	"hls-proxy-go/internal/chunked"
	"hls-proxy-go/internal/model"
)

const (
	maxHeadBytes = 64 * 1024
	readSize     = 32 * 1024
	// defaultStatus is reported when the status line cannot be parsed or never arrives.
	defaultStatus = http.StatusOK
)

var headTerminator = []byte("\r\n\r\n")

var (
	// ErrHeadTooLarge is returned when no CRLFCRLF shows up within maxHeadBytes.
	ErrHeadTooLarge = errors.New("rawhttp: response head too large")
	// ErrInvalidRequest is returned when the request cannot be serialized safely.
	ErrInvalidRequest = errors.New("rawhttp: invalid request")
)

// Head is a parsed response head. Header names are lower-cased; for repeated
// names the last value wins.
type Head struct {
	Status int
	Header map[string]string
}

// Response is a parsed head plus a lazily read body. The caller must close Body.
type Response struct {
	Head
	Body io.ReadCloser
	// Chunked reports whether Body is being de-chunked.
	Chunked bool
}

// Client fetches targets over streams from a Dialer.
type Client struct {
	dialer Dialer
	logger *slog.Logger
}

// NewClient creates a Client.
func NewClient(d Dialer, logger *slog.Logger) *Client {
	return &Client{
		dialer: d,
		logger: logger.With("component", "rawhttp_client"),
	}
}

// Fetch opens a connection, writes one GET request and reads the response head.
// Bytes following the head in the same read are kept as the start of the body.
// If the peer closes before the head is complete, Fetch returns a default head
// (status 200, no headers) with an empty body and no error.
//
// The connection is closed when Body is closed or ctx is done, whichever comes first.
func (c *Client) Fetch(ctx context.Context, req *model.TargetRequest) (*Response, error) {
	raw, err := serializeRequest(req)
	if err != nil {
		return nil, err
	}

	conn, err := c.dialer.Open(ctx, req.Host, req.Port, req.Secure())
	if err != nil {
		return nil, fmt.Errorf("rawhttp: open %s:%d: %w", req.Host, req.Port, err)
	}
	connID := uuid.NewString()
	log := c.logger.With("conn_id", connID, "host", req.Host, "port", req.Port)
	log.Debug("connection opened")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	b := &body{conn: conn, stop: stop, logger: log}

	if _, err := conn.Write(raw); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("rawhttp: write request: %w", err)
	}

	head, rest, err := readHead(conn)
	if err != nil {
		_ = b.Close()
		if errors.Is(err, io.EOF) {
			log.Debug("connection closed before response head")
			return &Response{Head: defaultHead(), Body: http.NoBody}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("rawhttp: read head: %w", ctxErr)
		}
		return nil, fmt.Errorf("rawhttp: read head: %w", err)
	}
	b.pending = rest

	resp := &Response{Head: head, Body: b}
	if te, ok := head.Header["transfer-encoding"]; ok && strings.Contains(strings.ToLower(te), "chunked") {
		delete(head.Header, "transfer-encoding")
		resp.Body = chunked.NewReader(b)
		resp.Chunked = true
	}

	log.Debug("response head received",
		"status", head.Status,
		"chunked", resp.Chunked,
		"body_prefix_bytes", len(rest),
	)
	return resp, nil
}

// serializeRequest renders the request line, headers and the blank line.
// Header names are written in sorted order; Host and Connection are added
// unless the caller set them.
func serializeRequest(req *model.TargetRequest) ([]byte, error) {
	path := req.Path
	if path == "" {
		path = "/"
	}
	if strings.ContainsAny(path, " \r\n") {
		return nil, fmt.Errorf("%w: request target %q", ErrInvalidRequest, path)
	}

	var b bytes.Buffer
	b.WriteString("GET ")
	b.WriteString(path)
	b.WriteString(" HTTP/1.1\r\n")

	if req.Header.Get("Host") == "" {
		writeHeader(&b, "Host", hostHeader(req))
	}

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !httpguts.ValidHeaderFieldName(k) {
			return nil, fmt.Errorf("%w: header name %q", ErrInvalidRequest, k)
		}
		for _, v := range req.Header[k] {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("%w: value of header %q", ErrInvalidRequest, k)
			}
			writeHeader(&b, k, v)
		}
	}

	if req.Header.Get("Connection") == "" {
		writeHeader(&b, "Connection", "close")
	}
	b.WriteString("\r\n")
	return b.Bytes(), nil
}

func writeHeader(b *bytes.Buffer, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func hostHeader(req *model.TargetRequest) string {
	host := req.Host
	if strings.IndexByte(host, ':') >= 0 {
		host = "[" + host + "]"
	}
	if (req.Secure() && req.Port == 443) || (!req.Secure() && req.Port == 80) {
		return host
	}
	return host + ":" + strconv.Itoa(req.Port)
}

// readHead reads from r until the head terminator. It returns io.EOF (possibly
// wrapped) when the stream ends first.
func readHead(r io.Reader) (Head, []byte, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, readSize)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			from := max(0, len(buf)-len(headTerminator)+1)
			buf = append(buf, tmp[:n]...)
			if i := bytes.Index(buf[from:], headTerminator); i >= 0 {
				end := from + i
				rest := bytes.Clone(buf[end+len(headTerminator):])
				return parseHead(buf[:end]), rest, nil
			}
			if len(buf) > maxHeadBytes {
				return Head{}, nil, ErrHeadTooLarge
			}
		}
		if err != nil {
			return Head{}, nil, err
		}
	}
}

func defaultHead() Head {
	return Head{Status: defaultStatus, Header: map[string]string{}}
}

// parseHead parses the status line and header lines of a head without its
// terminating blank line.
func parseHead(raw []byte) Head {
	h := defaultHead()
	lines := strings.Split(string(raw), "\r\n")

	if fields := strings.Fields(lines[0]); len(fields) >= 2 {
		if status, err := strconv.Atoi(fields[1]); err == nil {
			h.Status = status
		}
	}

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		h.Header[name] = strings.TrimSpace(value)
	}
	return h
}

// body yields the bytes read past the head first, then one stream read per Read.
type body struct {
	conn    Stream
	pending []byte
	stop    func() bool
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (b *body) Read(p []byte) (int, error) {
	if len(b.pending) > 0 {
		n := copy(p, b.pending)
		b.pending = b.pending[n:]
		return n, nil
	}
	n, err := b.conn.Read(p)
	if errors.Is(err, io.EOF) {
		_ = b.Close()
	}
	return n, err
}

// Close releases the connection. It is safe to call more than once.
func (b *body) Close() error {
	b.closeOnce.Do(func() {
		b.stop()
		b.closeErr = b.conn.Close()
		b.logger.Debug("connection closed")
	})
	return b.closeErr
}
