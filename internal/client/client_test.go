package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/rawhttp"
	"hls-proxy-go/internal/transport"
)

func testConfig() *config.Config {
	return &config.Config{
		Transport: config.TransportConfig{DialTimeoutSeconds: 5},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func targetFor(t *testing.T, rawURL string, header http.Header) *model.TargetRequest {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	if header == nil {
		header = http.Header{}
	}
	return &model.TargetRequest{
		URL:    rawURL,
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		Path:   u.RequestURI(),
		Header: header,
	}
}

func TestNativeClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-3" {
			t.Errorf("Range = %q, want %q", r.Header.Get("Range"), "bytes=0-3")
		}
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Content-Range", "bytes 0-3/10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("abcd"))
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewNativeClient(testConfig(), testLogger(), m)

	header := http.Header{"Range": {"bytes=0-3"}}
	resp, err := c.Fetch(context.Background(), targetFor(t, srv.URL+"/seg.ts", header))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusPartialContent)
	}
	if resp.Header.Get("Content-Range") != "bytes 0-3/10" {
		t.Errorf("Content-Range = %q", resp.Header.Get("Content-Range"))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "abcd" {
		t.Errorf("body = %q, want %q", body, "abcd")
	}
}

func TestNativeClient_Fetch_Error(t *testing.T) {
	c := NewNativeClient(testConfig(), testLogger(), nil)

	_, err := c.Fetch(context.Background(), targetFor(t, "http://127.0.0.1:1/nonexistent", nil))
	if err == nil {
		t.Fatal("Fetch() expected error for unreachable host, got nil")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %T, want *TransportError", err)
	}
	if te.Transport != transport.Native {
		t.Errorf("Transport = %v, want %v", te.Transport, transport.Native)
	}
}

func TestNativeClient_Fetch_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewNativeClient(testConfig(), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.Fetch(ctx, targetFor(t, srv.URL+"/slow", nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fetch() error = %v, want context.Canceled", err)
	}
}

// pipeDialer serves each Open with one end of a net.Pipe; the other end runs serve.
type pipeDialer struct {
	serve func(conn net.Conn)
}

func (d *pipeDialer) Open(_ context.Context, _ string, _ int, _ bool) (rawhttp.Stream, error) {
	client, server := net.Pipe()
	go d.serve(server)
	return client, nil
}

func TestRawClient_Fetch(t *testing.T) {
	gotRequest := make(chan *http.Request, 1)
	d := &pipeDialer{serve: func(conn net.Conn) {
		defer func() { _ = conn.Close() }()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			t.Errorf("ReadRequest: %v", err)
			return
		}
		gotRequest <- req
		_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\n"+
			"Content-Type: video/mp2t\r\n"+
			"Transfer-Encoding: chunked\r\n"+
			"X-Dup: a\r\nX-Dup: b\r\n\r\n"+
			"3\r\nabc\r\n0\r\n\r\n")
	}}

	m := metrics.New()
	c := NewRawClientWithDialer(d, testLogger(), m)

	header := http.Header{"Referer": {"https://site.example/"}}
	resp, err := c.Fetch(context.Background(), targetFor(t, "https://cdn.example:2228/live/seg.ts", header))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	req := <-gotRequest
	if req.Method != http.MethodGet || req.URL.Path != "/live/seg.ts" {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
	if req.Host != "cdn.example:2228" {
		t.Errorf("Host = %q, want %q", req.Host, "cdn.example:2228")
	}
	if req.Header.Get("Referer") != "https://site.example/" {
		t.Errorf("Referer = %q", req.Header.Get("Referer"))
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "video/mp2t" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Transfer-Encoding") != "" {
		t.Error("Transfer-Encoding should be stripped")
	}
	if got := resp.Header.Values("X-Dup"); len(got) != 1 || got[0] != "b" {
		t.Errorf("X-Dup = %v, want [b]", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "abc" {
		t.Errorf("body = %q, want %q", body, "abc")
	}
}

type failingDialer struct{ err error }

func (d failingDialer) Open(context.Context, string, int, bool) (rawhttp.Stream, error) {
	return nil, d.err
}

func TestRawClient_Fetch_DialError(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	c := NewRawClientWithDialer(failingDialer{err: dialErr}, testLogger(), metrics.New())

	_, err := c.Fetch(context.Background(), targetFor(t, "https://cdn.example:2228/seg.ts", nil))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if te.Transport != transport.RawSocket {
		t.Errorf("Transport = %v, want %v", te.Transport, transport.RawSocket)
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("error does not wrap the dial error: %v", err)
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"canceled", context.Canceled, "canceled"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"dns", &net.DNSError{Err: "no such host", Name: "cdn.example"}, "dns"},
		{"connect", &net.OpError{Op: "dial", Err: errors.New("refused")}, "connect"},
		{"other", errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorType(tt.err); got != tt.want {
				t.Errorf("errorType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNativeClient_NoRetryOnServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewNativeClient(testConfig(), testLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.Fetch(ctx, targetFor(t, srv.URL+"/seg.ts", nil))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}
	if calls != 1 {
		t.Errorf("upstream called %d times, want 1", calls)
	}
}
