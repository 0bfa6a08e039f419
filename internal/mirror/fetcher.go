package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ErrBlockedHost is returned for URLs resolving to private or metadata addresses.
var ErrBlockedHost = errors.New("blocked host")

// FetcherConfig configures remote requests.
type FetcherConfig struct {
	Timeout   time.Duration
	UserAgent string
	MaxSize   int64
	// AllowPrivate disables the private address guard.
	AllowPrivate bool
}

// Response is the outcome of a probe or download.
type Response struct {
	ContentType string
	// Length is the declared Content-Length, -1 when unknown.
	Length int64
	// Body is set by Get only.
	Body []byte
}

// Fetcher issues HEAD and GET requests with size and address limits.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxSize   int64
	allowPriv bool
}

// NewFetcher creates a fetcher. Connections are checked against the resolved
// address so DNS rebinding cannot reach private hosts.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 << 20
	}
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	safeDialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}
		if !cfg.AllowPrivate {
			for _, ipAddr := range ips {
				if isPrivateIP(ipAddr.IP) {
					return nil, fmt.Errorf("%w: private address %s", ErrBlockedHost, ipAddr.IP)
				}
			}
		}
		for _, ipAddr := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ipAddr.IP.String(), port))
			if err == nil {
				return conn, nil
			}
		}
		return nil, fmt.Errorf("failed to connect to any resolved IP")
	}

	transport := &http.Transport{
		DialContext:           safeDialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return checkURL(req.URL, cfg.AllowPrivate)
			},
		},
		userAgent: cfg.UserAgent,
		maxSize:   cfg.MaxSize,
		allowPriv: cfg.AllowPrivate,
	}
}

// Head probes a URL for its content type and length.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := f.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return &Response{
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
	}, nil
}

// Get downloads a URL, refusing bodies above the size limit.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := f.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("content too large (exceeds %d bytes)", f.maxSize)
	}
	return &Response{
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
		Body:        body,
	}, nil
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if err := checkURL(parsed, f.allowPriv); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: HTTP %d", method, rawURL, resp.StatusCode)
	}
	return resp, nil
}

// checkURL rejects non-http schemes, metadata hosts and literal private IPs.
func checkURL(u *url.URL, allowPrivate bool) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %q (only http/https)", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if host == "metadata.google.internal" {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	if allowPrivate {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return fmt.Errorf("%w: private address %s", ErrBlockedHost, host)
	}
	return nil
}

var privateRanges = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10",
		"169.254.0.0/16",
		"fc00::/7",
		"fe80::/10",
	} {
		_, n, _ := net.ParseCIDR(cidr)
		out = append(out, n)
	}
	return out
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
