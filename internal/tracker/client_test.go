package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/lure/internal/model"
)

// fakeTracker is an in-memory tracker workspace.
type fakeTracker struct {
	mu        sync.Mutex
	hosts     map[string]int64
	vulns     []map[string]any
	nextID    int64
	lookups   atomic.Int32
	failVulns bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{hosts: make(map[string]int64), nextID: 100}
}

func (f *fakeTracker) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /_api/v3/ws/honeypot/hosts", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.hosts[body["ip"]]; ok {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"Existing value"}`))
			return
		}
		f.nextID++
		f.hosts[body["ip"]] = f.nextID
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": f.nextID, "ip": body["ip"]})
	})
	mux.HandleFunc("GET /_api/v3/ws/honeypot/hosts", func(w http.ResponseWriter, r *http.Request) {
		f.lookups.Add(1)
		ip := r.URL.Query().Get("search")

		f.mu.Lock()
		defer f.mu.Unlock()
		rows := []map[string]any{
			// A partial match that must be skipped.
			{"id": 1, "value": map[string]any{"ip": ip + "0"}},
		}
		if id, ok := f.hosts[ip]; ok {
			rows = append(rows, map[string]any{"id": id, "value": map[string]any{"ip": ip}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"rows": rows})
	})
	mux.HandleFunc("POST /_api/v3/ws/honeypot/vulns", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failVulns {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.vulns = append(f.vulns, body)
		f.nextID++
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"_id": f.nextID})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeTracker) *Client {
	t.Helper()

	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)

	c, err := New(server.URL+"/", "secret", "honeypot", WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

// TestNew tests base URL validation.
func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "http", url: "http://localhost:5985", wantErr: false},
		{name: "https with path", url: "https://tracker.example.com/faraday/", wantErr: false},
		{name: "missing scheme", url: "localhost:5985", wantErr: true},
		{name: "unsupported scheme", url: "ftp://tracker.example.com", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.url, "token", "honeypot")
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidURL) {
				t.Errorf("expected ErrInvalidURL, got %v", err)
			}
		})
	}
}

// TestEndpoint tests URL construction.
func TestEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		base      string
		workspace string
		query     map[string][]string
		want      string
	}{
		{
			name:      "base path and escaped workspace",
			base:      "https://tracker.example.com/faraday/",
			workspace: "my ws",
			query:     map[string][]string{"search": {"192.0.2.1"}},
			want:      "https://tracker.example.com/faraday/_api/v3/ws/my%20ws/hosts?search=192.0.2.1",
		},
		{
			name:      "host only",
			base:      "http://127.0.0.1:5985",
			workspace: "honeypot",
			want:      "http://127.0.0.1:5985/_api/v3/ws/honeypot/hosts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := New(tt.base, "", tt.workspace)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if got := c.endpoint("hosts", tt.query); got != tt.want {
				t.Errorf("endpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestResolveHost tests host creation, lookup and caching.
func TestResolveHost(t *testing.T) {
	t.Parallel()

	f := newFakeTracker()
	c := newTestClient(t, f)
	ctx := context.Background()

	// Pre-existing host: creation returns 409, which is tolerated.
	f.mu.Lock()
	f.hosts["198.51.100.1"] = 7
	f.mu.Unlock()

	id, err := c.ResolveHost(ctx, "198.51.100.1", "honeypot attacker")
	if err != nil {
		t.Fatalf("ResolveHost failed: %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
	if f.lookups.Load() != 1 {
		t.Errorf("lookups = %d, want 1", f.lookups.Load())
	}

	// Second resolution is served from the cache.
	if _, err := c.ResolveHost(ctx, "198.51.100.1", ""); err != nil {
		t.Fatalf("ResolveHost failed: %v", err)
	}
	if f.lookups.Load() != 1 {
		t.Errorf("cached lookup hit the tracker: lookups = %d", f.lookups.Load())
	}

	// New host: the creation response carries the id.
	id, err = c.ResolveHost(ctx, "198.51.100.2", "")
	if err != nil {
		t.Fatalf("ResolveHost failed: %v", err)
	}
	if id == 0 {
		t.Error("expected a host id")
	}
	if c.CachedHosts() != 2 {
		t.Errorf("CachedHosts() = %d, want 2", c.CachedHosts())
	}

	c.Forget("198.51.100.2")
	if c.CachedHosts() != 1 {
		t.Errorf("CachedHosts() after Forget = %d, want 1", c.CachedHosts())
	}
}

// TestLookupHostNotFound tests the no-match case.
func TestLookupHostNotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newFakeTracker())
	_, err := c.LookupHost(context.Background(), "203.0.113.1")
	if !errors.Is(err, ErrHostNotFound) {
		t.Errorf("expected ErrHostNotFound, got %v", err)
	}
}

// TestEnsureHostAlreadyExistsBody tests tolerance of a 400 "already exists" body.
func TestEnsureHostAlreadyExistsBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Host already exists"}`))
	}))
	defer server.Close()

	c, err := New(server.URL, "", "honeypot")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.EnsureHost(context.Background(), "192.0.2.1", ""); err != nil {
		t.Errorf("EnsureHost should tolerate duplicates, got %v", err)
	}
}

// TestCreateFinding tests the vulnerability payload and returned id.
func TestCreateFinding(t *testing.T) {
	t.Parallel()

	f := newFakeTracker()
	c := newTestClient(t, f)

	id, err := c.CreateFinding(context.Background(), Finding{
		Name:        "SSH brute force from 192.0.2.1",
		Description: "## Summary",
		Severity:    model.SeverityHigh,
		HostID:      7,
	})
	if err != nil {
		t.Fatalf("CreateFinding failed: %v", err)
	}
	if id == 0 {
		t.Error("expected a finding id")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.vulns) != 1 {
		t.Fatalf("expected 1 vuln, got %d", len(f.vulns))
	}
	v := f.vulns[0]
	checks := map[string]any{
		"name":        "SSH brute force from 192.0.2.1",
		"desc":        "## Summary",
		"severity":    "high",
		"type":        "Vulnerability",
		"parent":      float64(7),
		"parent_type": "Host",
	}
	for k, want := range checks {
		if v[k] != want {
			t.Errorf("%s = %v, want %v", k, v[k], want)
		}
	}
}

// TestCreateFindingErrors tests API and transport failures.
func TestCreateFindingErrors(t *testing.T) {
	t.Parallel()

	t.Run("server error", func(t *testing.T) {
		t.Parallel()

		f := newFakeTracker()
		f.failVulns = true
		c := newTestClient(t, f)

		_, err := c.CreateFinding(context.Background(), Finding{Name: "x", HostID: 1})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("StatusCode = %d", apiErr.StatusCode)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		c, err := New(url, "", "honeypot", WithTimeout(time.Second))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		_, err = c.CreateFinding(context.Background(), Finding{Name: "x", HostID: 1})
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("response without id", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"name":"x"}`))
		}))
		defer server.Close()

		c, err := New(server.URL, "", "honeypot")
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		_, err = c.CreateFinding(context.Background(), Finding{Name: "x", HostID: 1})
		if !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("expected ErrInvalidResponse, got %v", err)
		}
	})
}

// TestExtractID tests id decoding from loosely typed responses.
func TestExtractID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     map[string]any
		want   int64
		wantOK bool
	}{
		{name: "_id number", in: map[string]any{"_id": float64(12)}, want: 12, wantOK: true},
		{name: "id number", in: map[string]any{"id": float64(5)}, want: 5, wantOK: true},
		{name: "id string", in: map[string]any{"id": "9"}, want: 9, wantOK: true},
		{name: "_id preferred", in: map[string]any{"_id": float64(1), "id": float64(2)}, want: 1, wantOK: true},
		{name: "missing", in: map[string]any{"name": "x"}, wantOK: false},
		{name: "zero", in: map[string]any{"id": float64(0)}, wantOK: false},
		{name: "nil map", in: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := extractID(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("extractID() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
