package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/packmule/packmule/pkg/cache"
	pkgerrors "github.com/packmule/packmule/pkg/errors"
)

// fakeTarballs serves tarball bodies from memory and records fetches.
type fakeTarballs struct {
	mu      sync.Mutex
	fetched []string
	fail    map[string]bool
}

func (f *fakeTarballs) Tarball(ctx context.Context, name, version string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, name+"@"+version)
	f.mu.Unlock()

	if f.fail[name+"@"+version] {
		return nil, errors.New("network failure")
	}
	return io.NopCloser(strings.NewReader("tgz:" + name + "@" + version)), nil
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name    string
		version string
		latest  bool
		want    string
	}{
		{"left-pad", "1.3.0", true, "left-pad-1.3.0-latest.tgz"},
		{"left-pad", "1.2.0", false, "left-pad-1.2.0.tgz"},
		{"@scope/foo", "1.2.3", true, "@scope-foo-1.2.3-latest.tgz"},
		{"@a/b", "2.0.0", false, "@a-b-2.0.0.tgz"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Filename(tt.name, tt.version, tt.latest); got != tt.want {
				t.Errorf("Filename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDownloadWritesTarballs(t *testing.T) {
	dir := t.TempDir()
	d := NewDownloader(&fakeTarballs{}, nil, DownloadOptions{Dir: dir})

	pkgs := []Resolved{
		{Name: "left-pad", Version: "1.3.0", Latest: true},
		{Name: "@a/b", Version: "2.0.0"},
	}
	results, cached, err := d.Download(context.Background(), pkgs)
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if cached != 0 {
		t.Errorf("cached = %d, want 0", cached)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	for _, want := range []string{"left-pad-1.3.0-latest.tgz", "@a-b-2.0.0.tgz"} {
		data, err := os.ReadFile(filepath.Join(dir, want))
		if err != nil {
			t.Fatalf("missing %s: %v", want, err)
		}
		if !strings.HasPrefix(string(data), "tgz:") {
			t.Errorf("%s content = %q", want, data)
		}
	}
}

func TestDownloadSkipsCachedEntries(t *testing.T) {
	dir := t.TempDir()
	store, _ := cache.NewFileStore(filepath.Join(t.TempDir(), "index.json"))
	_ = store.Add(context.Background(), "y", "1.0.0")

	tarballs := &fakeTarballs{}
	d := NewDownloader(tarballs, store, DownloadOptions{Dir: dir, UseCache: true})

	pkgs := []Resolved{
		{Name: "y", Version: "1.0.0"},
		{Name: "z", Version: "1.0.0"},
	}
	results, cached, err := d.Download(context.Background(), pkgs)
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if cached != 1 {
		t.Errorf("cached = %d, want 1", cached)
	}
	if len(results) != 1 || results[0].Package.Name != "z" {
		t.Errorf("results = %+v, want only z", results)
	}
	if len(tarballs.fetched) != 1 {
		t.Errorf("fetched = %v, want only z@1.0.0", tarballs.fetched)
	}
	if _, err := os.Stat(filepath.Join(dir, "y-1.0.0.tgz")); !os.IsNotExist(err) {
		t.Error("cached entry was written anyway")
	}
}

func TestDownloadAddsToIndexOnSuccess(t *testing.T) {
	store, _ := cache.NewFileStore(filepath.Join(t.TempDir(), "index.json"))
	d := NewDownloader(&fakeTarballs{}, store, DownloadOptions{Dir: t.TempDir(), UseCache: true})

	_, _, err := d.Download(context.Background(), []Resolved{{Name: "a", Version: "1.0.0"}})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.Exists(context.Background(), "a", "1.0.0"); !ok {
		t.Error("index missing a@1.0.0 after successful write")
	}
}

func TestDownloadPerItemFailureContinuesBatch(t *testing.T) {
	tarballs := &fakeTarballs{fail: map[string]bool{"bad@1.0.0": true}}
	store, _ := cache.NewFileStore(filepath.Join(t.TempDir(), "index.json"))
	d := NewDownloader(tarballs, store, DownloadOptions{Dir: t.TempDir(), UseCache: true})

	results, _, err := d.Download(context.Background(), []Resolved{
		{Name: "bad", Version: "1.0.0"},
		{Name: "good", Version: "1.0.0"},
	})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}

	var failed, succeeded int
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("failed = %d, succeeded = %d, want 1 and 1", failed, succeeded)
	}

	// Failed items must not be recorded in the index.
	if ok, _ := store.Exists(context.Background(), "bad", "1.0.0"); ok {
		t.Error("index recorded a failed download")
	}
}

func TestDownloadDestinationUnwritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "file-not-dir")
	if err := os.WriteFile(dir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDownloader(&fakeTarballs{}, nil, DownloadOptions{Dir: filepath.Join(dir, "sub")})
	_, _, err := d.Download(context.Background(), []Resolved{{Name: "a", Version: "1.0.0"}})
	if !pkgerrors.Is(err, pkgerrors.ErrCodeIOWrite) {
		t.Errorf("error = %v, want IO_WRITE", err)
	}
}

func TestDownloadProgressSettlements(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	opts := DownloadOptions{
		Dir: t.TempDir(),
		Progress: func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
		},
	}
	d := NewDownloader(&fakeTarballs{}, nil, opts)

	_, _, err := d.Download(context.Background(), []Resolved{
		{Name: "a", Version: "1.0.0"},
		{Name: "b", Version: "1.0.0"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want one per settlement", len(events))
	}
	var sawFull bool
	for _, e := range events {
		if e.Stage != StageDownload {
			t.Errorf("event stage = %q", e.Stage)
		}
		if e.Fraction == 1.0 {
			sawFull = true
		}
	}
	if !sawFull {
		t.Error("no event reported fraction 1.0")
	}
}
