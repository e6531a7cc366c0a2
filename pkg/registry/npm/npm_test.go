package npm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRegistry serves a minimal npm registry surface from in-memory data.
type fakeRegistry struct {
	mu         sync.Mutex
	packuments map[string]*Packument
	requests   []string
}

func (f *fakeRegistry) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		f.mu.Unlock()

		name, version, ok := splitPath(r.URL.Path)
		pk, exists := f.packuments[name]
		if !ok || !exists {
			http.NotFound(w, r)
			return
		}

		if version == "" {
			_ = json.NewEncoder(w).Encode(pk)
			return
		}
		if version == "latest" {
			version = pk.DistTags["latest"]
		}
		m, found := pk.Versions[version]
		if !found {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(m)
	})
}

// splitPath parses /name and /name/version request paths.
func splitPath(path string) (name, version string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	}
	return "", "", false
}

func newTestClient(t *testing.T, reg *fakeRegistry) *Client {
	t.Helper()
	srv := httptest.NewServer(reg.handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func manifest(name, version string, deps map[string]string) Manifest {
	return Manifest{Name: name, Version: version, Dependencies: deps}
}

func TestManifestExactVersion(t *testing.T) {
	reg := &fakeRegistry{packuments: map[string]*Packument{
		"left-pad": {
			Name:     "left-pad",
			DistTags: map[string]string{"latest": "1.3.0"},
			Versions: map[string]Manifest{
				"1.3.0": manifest("left-pad", "1.3.0", nil),
			},
		},
	}}
	c := newTestClient(t, reg)

	m, err := c.Manifest(context.Background(), "left-pad", "1.3.0")
	if err != nil {
		t.Fatalf("Manifest() error: %v", err)
	}
	if m.Name != "left-pad" || m.Version != "1.3.0" {
		t.Errorf("got %s@%s", m.Name, m.Version)
	}
}

func TestManifestTargetMissingFallsBackToLatest(t *testing.T) {
	reg := &fakeRegistry{packuments: map[string]*Packument{
		"x": {
			Name:     "x",
			DistTags: map[string]string{"latest": "1.0.0"},
			Versions: map[string]Manifest{
				"1.0.0": manifest("x", "1.0.0", nil),
			},
		},
	}}
	c := newTestClient(t, reg)

	m, err := c.Manifest(context.Background(), "x", "9.9.9")
	if err != nil {
		t.Fatalf("Manifest() error: %v", err)
	}
	if m.Version != "1.0.0" {
		t.Errorf("Version = %q, want fallback to 1.0.0", m.Version)
	}
}

func TestManifestPackageMissingRetriesLatestThenSurfaces(t *testing.T) {
	reg := &fakeRegistry{packuments: map[string]*Packument{}}
	c := newTestClient(t, reg)

	_, err := c.Manifest(context.Background(), "ghost", "1.0.0")
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != CodeNotFound {
		t.Fatalf("error = %v, want E404", err)
	}

	// The non-latest query retried once with the latest tag before failing.
	var latestTried bool
	for _, p := range reg.requests {
		if p == "/ghost/latest" {
			latestTried = true
		}
	}
	if !latestTried {
		t.Error("expected a retry against /ghost/latest")
	}
}

func TestManifestLatestQueryDoesNotRetry(t *testing.T) {
	reg := &fakeRegistry{packuments: map[string]*Packument{}}
	c := newTestClient(t, reg)

	_, err := c.Manifest(context.Background(), "ghost", "latest")
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != CodeNotFound {
		t.Fatalf("error = %v, want E404", err)
	}

	var tries int
	for _, p := range reg.requests {
		if p == "/ghost/latest" {
			tries++
		}
	}
	if tries != 1 {
		t.Errorf("tries = %d, want 1 (no second latest retry)", tries)
	}
}

func TestPackument(t *testing.T) {
	reg := &fakeRegistry{packuments: map[string]*Packument{
		"c": {
			Name:     "c",
			DistTags: map[string]string{"latest": "1.2.0"},
			Versions: map[string]Manifest{
				"1.0.0": manifest("c", "1.0.0", nil),
				"1.2.0": manifest("c", "1.2.0", nil),
			},
		},
	}}
	c := newTestClient(t, reg)

	p, err := c.Packument(context.Background(), "c")
	if err != nil {
		t.Fatalf("Packument() error: %v", err)
	}
	if p.Latest() != "1.2.0" {
		t.Errorf("Latest() = %q, want 1.2.0", p.Latest())
	}
	if len(p.Versions) != 2 {
		t.Errorf("len(Versions) = %d, want 2", len(p.Versions))
	}
}

func TestPackumentNotFoundSurfaces(t *testing.T) {
	c := newTestClient(t, &fakeRegistry{packuments: map[string]*Packument{}})

	_, err := c.Packument(context.Background(), "ghost")
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != CodeNotFound {
		t.Errorf("error = %v, want E404", err)
	}
}

func TestManifestCachedAcrossCalls(t *testing.T) {
	reg := &fakeRegistry{packuments: map[string]*Packument{
		"left-pad": {
			Name:     "left-pad",
			DistTags: map[string]string{"latest": "1.3.0"},
			Versions: map[string]Manifest{"1.3.0": manifest("left-pad", "1.3.0", nil)},
		},
	}}
	c := newTestClient(t, reg)

	for range 2 {
		if _, err := c.Manifest(context.Background(), "left-pad", "1.3.0"); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(reg.requests); n != 1 {
		t.Errorf("registry requests = %d, want 1 (second call cached)", n)
	}
}

func TestTarballURL(t *testing.T) {
	c := &Client{baseURL: "https://registry.npmjs.org"}

	tests := []struct {
		name, version, want string
	}{
		{"left-pad", "1.3.0", "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz"},
		{"@scope/foo", "2.0.0", "https://registry.npmjs.org/@scope/foo/-/foo-2.0.0.tgz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.TarballURL(tt.name, tt.version); got != tt.want {
				t.Errorf("TarballURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTarballStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/left-pad/-/left-pad-1.3.0.tgz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("gzip-bytes"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	body, err := c.Tarball(context.Background(), "left-pad", "1.3.0")
	if err != nil {
		t.Fatalf("Tarball() error: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if string(data) != "gzip-bytes" {
		t.Errorf("body = %q", data)
	}
}
