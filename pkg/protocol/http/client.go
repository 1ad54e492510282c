package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// FileInfo describes a remote resource before it is downloaded.
type FileInfo struct {
	Size         int64
	Resumable    bool
	Filename     string
	ContentType  string
	LastModified string
	ETag         string
}

type Client struct {
	client    *http.Client
	transport *http.Transport
	config    ClientConfig
}

func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		DisableCompression:    true,

		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout,
		}).DialContext,
	}

	if config.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(config.ProxyURL)
	}

	if config.TLSConfig != nil {
		transport.TLSClientConfig = config.TLSConfig
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return &HTTPError{
					Type:      ErrorTypeHTTP,
					Operation: "redirect",
					URL:       req.URL.String(),
					Status:    http.StatusTooManyRequests,
					Err:       fmt.Errorf("too many redirects (max: %d)", config.MaxRedirects),
				}
			}
			return nil
		},
	}

	return &Client{
		client:    client,
		transport: transport,
		config:    *config,
	}
}

// Probe fetches size and range support of urlStr without downloading it.
func (c *Client) Probe(ctx context.Context, urlStr string) (*FileInfo, error) {
	if len(urlStr) == 0 {
		return nil, NewHTTPValidationError("probe", urlStr, errors.New("url is empty"))
	}

	if !c.Supports(urlStr) {
		return nil, NewHTTPValidationError("probe", urlStr, errors.New("url does not support HTTP/HTTPS"))
	}

	info, headErr := c.headRequest(ctx, urlStr)
	if headErr == nil {
		return info, nil
	}

	var httpErr *HTTPError
	if isHttpError := errors.As(headErr, &httpErr); !isHttpError {
		return nil, headErr
	}

	if httpErr.Status != http.StatusMethodNotAllowed && httpErr.Status != http.StatusForbidden {
		return nil, headErr
	}

	fallbackInfo, fbErr := c.fallbackRangeCheck(ctx, urlStr)
	if fbErr != nil {
		return nil, fmt.Errorf("HEAD error: %w, fallback GET error: %v", headErr, fbErr)
	}

	return fallbackInfo, nil
}

// Open starts a GET of urlStr from byte offset. partial is false when the
// server ignored the range and sends the whole body from the start.
func (c *Client) Open(ctx context.Context, urlStr string, offset int64) (body io.ReadCloser, partial bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create GET request: %w", err)
	}

	c.applyHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, NewHTTPNetworkError("GET", urlStr, err)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		return resp.Body, true, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.Body, false, nil
	default:
		resp.Body.Close()
		return nil, false, NewHTTPStatusError("GET", urlStr, resp.StatusCode,
			fmt.Errorf("GET request returned status %d", resp.StatusCode))
	}
}

func (c *Client) headRequest(ctx context.Context, urlStr string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HEAD request: %w", err)
	}

	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewHTTPNetworkError("HEAD", urlStr, err)
	}
	defer resp.Body.Close()

	// Some servers may return 405 (Method Not Allowed) for HEAD, or 403, or etc.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewHTTPStatusError("HEAD", urlStr, resp.StatusCode,
			fmt.Errorf("HEAD request returned status %d", resp.StatusCode))
	}

	return &FileInfo{
		Size:         resp.ContentLength,
		Resumable:    strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes"),
		Filename:     c.getFilename(resp.Header, urlStr),
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
	}, nil
}

func (c *Client) fallbackRangeCheck(ctx context.Context, urlStr string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback GET request: %w", err)
	}

	c.applyHeaders(req)
	req.Header.Set("Range", "bytes=0-0") // minimal range request

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewHTTPNetworkError("fallbackGET", urlStr, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		totalSize := int64(-1)
		if contentRange := resp.Header.Get("Content-Range"); contentRange != "" {
			// "bytes 0-0/1234"
			if parts := strings.Split(contentRange, "/"); len(parts) == 2 {
				if size, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
					totalSize = size
				}
			}
		}

		return &FileInfo{
			Size:         totalSize,
			Resumable:    true,
			Filename:     c.getFilename(resp.Header, urlStr),
			ContentType:  resp.Header.Get("Content-Type"),
			LastModified: resp.Header.Get("Last-Modified"),
			ETag:         resp.Header.Get("ETag"),
		}, nil

	case http.StatusOK:
		return &FileInfo{
			Size:         resp.ContentLength,
			Resumable:    false,
			Filename:     c.getFilename(resp.Header, urlStr),
			ContentType:  resp.Header.Get("Content-Type"),
			LastModified: resp.Header.Get("Last-Modified"),
			ETag:         resp.Header.Get("ETag"),
		}, nil

	default:
		return nil, NewHTTPStatusError("GET", urlStr, resp.StatusCode,
			fmt.Errorf("unexpected status code"))
	}
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, v := range c.config.DefaultHeaders {
		req.Header.Set(k, v)
	}
}

func (c *Client) getFilename(header http.Header, urlStr string) string {
	if cd := header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if filename := params["filename"]; filename != "" {
				return filename
			}
		}
	}

	parsedURL, _ := url.Parse(urlStr)
	if parsedURL != nil && parsedURL.Path != "" {
		segments := strings.Split(parsedURL.Path, "/")
		if last := segments[len(segments)-1]; last != "" {
			return last
		}
	}

	return "download"
}

// Supports reports whether urlStr is an absolute http or https URL.
func (c *Client) Supports(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}

func (c *Client) Cleanup() error {
	c.transport.CloseIdleConnections()
	return nil
}
