package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/cast"

	"github.com/nao1215/lure/internal/model"
)

// Default client settings.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultCacheSize = 4096

	// maxResponseBody caps how much of a response is read.
	maxResponseBody = 1 << 20
)

var (
	// ErrUnavailable wraps transport failures: the tracker could not be reached.
	ErrUnavailable = errors.New("tracker unavailable")

	// ErrHostNotFound is returned when a host lookup has no match.
	ErrHostNotFound = errors.New("tracker host not found")

	// ErrInvalidResponse is returned when a response cannot be decoded.
	ErrInvalidResponse = errors.New("invalid tracker response")

	// ErrInvalidURL is returned by New for a malformed base URL.
	ErrInvalidURL = errors.New("invalid tracker URL")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("tracker %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// alreadyExists reports whether the response denotes a duplicate host.
func (e *APIError) alreadyExists() bool {
	if e.StatusCode == http.StatusConflict {
		return true
	}
	return strings.Contains(strings.ToLower(e.Body), "already exists")
}

// Client talks to one tracker workspace. It is safe for concurrent use.
type Client struct {
	base       *url.URL
	token      string
	workspace  string
	httpClient *http.Client
	hosts      *lru.Cache[string, int64]
	logger     *slog.Logger
	cacheSize  int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheSize sets the number of host ids kept in memory.
func WithCacheSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// New creates a client for workspace at baseURL, authenticating with token.
func New(baseURL, token, workspace string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	c := &Client{
		base:       u,
		token:      token,
		workspace:  workspace,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
		cacheSize:  DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	cache, err := lru.New[string, int64](c.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create host cache: %w", err)
	}
	c.hosts = cache
	return c, nil
}

// Workspace returns the workspace name.
func (c *Client) Workspace() string {
	return c.workspace
}

// endpoint builds the URL of a workspace resource.
func (c *Client) endpoint(resource string, query url.Values) string {
	// JoinPath escapes each element exactly once.
	u := c.base.JoinPath("_api/v3/ws", c.workspace, resource)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, resource string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(resource, query), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, resource, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			Path:       resource,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

// hostRequest is the body of POST /hosts.
type hostRequest struct {
	IP          string `json:"ip"`
	Description string `json:"description"`
}

// EnsureHost creates the host record for ip. An existing host is not an error.
func (c *Client) EnsureHost(ctx context.Context, ip, description string) error {
	if _, ok := c.hosts.Get(ip); ok {
		return nil
	}

	var created map[string]any
	err := c.do(ctx, http.MethodPost, "hosts", nil, hostRequest{IP: ip, Description: description}, &created)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.alreadyExists() {
			c.logger.Debug("tracker host already exists", "ip", ip)
			return nil
		}
		return fmt.Errorf("failed to create host %s: %w", ip, err)
	}

	if id, ok := extractID(created); ok {
		c.hosts.Add(ip, id)
	}
	return nil
}

// hostRow is one entry of the GET /hosts result.
type hostRow struct {
	ID    any            `json:"id"`
	Value map[string]any `json:"value"`
}

type hostSearchResponse struct {
	Rows []hostRow `json:"rows"`
}

// LookupHost returns the tracker id of the host with the given ip.
func (c *Client) LookupHost(ctx context.Context, ip string) (int64, error) {
	if id, ok := c.hosts.Get(ip); ok {
		return id, nil
	}

	var resp hostSearchResponse
	if err := c.do(ctx, http.MethodGet, "hosts", url.Values{"search": {ip}}, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to look up host %s: %w", ip, err)
	}

	for _, row := range resp.Rows {
		if cast.ToString(row.Value["ip"]) != ip {
			continue
		}
		id, ok := rowID(row)
		if !ok {
			return 0, fmt.Errorf("%w: host %s has no id", ErrInvalidResponse, ip)
		}
		c.hosts.Add(ip, id)
		return id, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrHostNotFound, ip)
}

// ResolveHost ensures the host exists and returns its id.
func (c *Client) ResolveHost(ctx context.Context, ip, description string) (int64, error) {
	if err := c.EnsureHost(ctx, ip, description); err != nil {
		return 0, err
	}
	return c.LookupHost(ctx, ip)
}

// Forget drops a cached host id, e.g. after the tracker rejected it.
func (c *Client) Forget(ip string) {
	c.hosts.Remove(ip)
}

// CachedHosts returns the number of cached host ids.
func (c *Client) CachedHosts() int {
	return c.hosts.Len()
}

// Finding is a vulnerability submitted under a host.
type Finding struct {
	Name        string
	Description string
	Severity    model.Severity
	HostID      int64
}

// vulnRequest is the body of POST /vulns.
type vulnRequest struct {
	Name       string `json:"name"`
	Desc       string `json:"desc"`
	Severity   string `json:"severity"`
	Type       string `json:"type"`
	Parent     int64  `json:"parent"`
	ParentType string `json:"parent_type"`
}

// CreateFinding submits f and returns the id assigned by the tracker.
func (c *Client) CreateFinding(ctx context.Context, f Finding) (int64, error) {
	body := vulnRequest{
		Name:       f.Name,
		Desc:       f.Description,
		Severity:   f.Severity.TrackerName(),
		Type:       "Vulnerability",
		Parent:     f.HostID,
		ParentType: "Host",
	}

	var created map[string]any
	if err := c.do(ctx, http.MethodPost, "vulns", nil, body, &created); err != nil {
		return 0, fmt.Errorf("failed to create finding %q: %w", f.Name, err)
	}

	id, ok := extractID(created)
	if !ok {
		return 0, fmt.Errorf("%w: finding response has no id", ErrInvalidResponse)
	}
	return id, nil
}

// extractID reads "_id" or "id" from a creation response.
func extractID(m map[string]any) (int64, bool) {
	for _, key := range []string{"_id", "id"} {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		id, err := cast.ToInt64E(v)
		if err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

func rowID(row hostRow) (int64, bool) {
	if row.ID != nil {
		if id, err := cast.ToInt64E(row.ID); err == nil && id > 0 {
			return id, true
		}
	}
	return extractID(row.Value)
}
