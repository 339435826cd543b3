package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vietddude/shopcord/internal/infra/discord/classify"
)

const maxResponseBody = 4 << 20

// Request is one upstream Discord call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a successful (2xx) upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport performs a single Discord request. Failures must be one of
// *classify.HTTPError, *classify.NetworkError or *classify.GenericError, or a
// context error.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// TransportConfig configures HTTPTransport.
type TransportConfig struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport with pooled connections.
func NewHTTPTransport(cfg TransportConfig) *HTTPTransport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "DiscordBot (https://github.com/vietddude/shopcord, 1.0)"
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	return &HTTPTransport{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   cfg.ConnectTimeout,
				ResponseHeaderTimeout: cfg.ReadTimeout,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// Do sends req. Non-2xx responses become *classify.HTTPError and connection
// failures *classify.NetworkError.
func (t *HTTPTransport) Do(ctx context.Context, req Request) (*Response, error) {
	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &classify.GenericError{Message: fmt.Sprintf("create request: %v", err)}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &classify.HTTPError{Status: resp.StatusCode, Header: resp.Header, Body: data}
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func transportError(err error) error {
	if code := classify.NetworkCode(err); code != "" {
		return &classify.NetworkError{Code: code, Message: err.Error()}
	}
	return &classify.GenericError{Message: err.Error()}
}
