package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// searchServer records page requests and serves synthetic results.
type searchServer struct {
	mu        sync.Mutex
	pageSizes []int
	available int // total results the fake index holds
}

func (s *searchServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		size, _ := strconv.Atoi(q.Get("size"))
		from, _ := strconv.Atoi(q.Get("from"))

		s.mu.Lock()
		s.pageSizes = append(s.pageSizes, size)
		s.mu.Unlock()

		var resp searchResponse
		for i := from; i < from+size && i < s.available; i++ {
			var obj struct {
				Package struct {
					Name    string `json:"name"`
					Version string `json:"version"`
				} `json:"package"`
			}
			obj.Package.Name = fmt.Sprintf("pkg-%d", i)
			obj.Package.Version = "1.0.0"
			resp.Objects = append(resp.Objects, obj)
		}
		resp.Total = s.available
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func newSearchClient(t *testing.T, s *searchServer) *Client {
	t.Helper()
	srv := httptest.NewServer(s.handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSearchSinglePage(t *testing.T) {
	s := &searchServer{available: 10000}
	c := newSearchClient(t, s)

	seeds, err := c.Search(context.Background(), "react", 5)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(seeds) != 5 {
		t.Fatalf("len(seeds) = %d, want 5", len(seeds))
	}
	if seeds[0].Name != "pkg-0" || seeds[0].Version != "1.0.0" {
		t.Errorf("seeds[0] = %+v", seeds[0])
	}
}

func TestSearchPagesAt250(t *testing.T) {
	s := &searchServer{available: 10000}
	c := newSearchClient(t, s)

	seeds, err := c.Search(context.Background(), "x", 251)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(seeds) != 251 {
		t.Fatalf("len(seeds) = %d, want 251", len(seeds))
	}
	want := []int{250, 1}
	if len(s.pageSizes) != len(want) {
		t.Fatalf("pages = %v, want %v", s.pageSizes, want)
	}
	for i := range want {
		if s.pageSizes[i] != want[i] {
			t.Errorf("page %d size = %d, want %d", i, s.pageSizes[i], want[i])
		}
	}
}

func TestSearchClampsAt5250(t *testing.T) {
	s := &searchServer{available: 10000}
	c := newSearchClient(t, s)

	seeds, err := c.Search(context.Background(), "x", 5300)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(seeds) != 5250 {
		t.Errorf("len(seeds) = %d, want clamp at 5250", len(seeds))
	}
}

func TestSearchStopsOnShortPage(t *testing.T) {
	s := &searchServer{available: 30}
	c := newSearchClient(t, s)

	seeds, err := c.Search(context.Background(), "x", 500)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(seeds) != 30 {
		t.Errorf("len(seeds) = %d, want 30", len(seeds))
	}
	if len(s.pageSizes) != 1 {
		t.Errorf("pages = %v, want a single short page", s.pageSizes)
	}
}

func TestSearchZeroQuantity(t *testing.T) {
	c := newSearchClient(t, &searchServer{available: 10})

	seeds, err := c.Search(context.Background(), "x", 0)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if seeds != nil {
		t.Errorf("seeds = %v, want nil", seeds)
	}
}
