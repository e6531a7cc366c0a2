package npm

import (
	"context"
	"fmt"
	"net/url"
)

const (
	// searchPageSize is the registry's maximum page size for -/v1/search.
	searchPageSize = 250

	// searchMaxTotal is the hard cap the search endpoint enforces on the
	// from+size window; requests beyond it return nothing useful.
	searchMaxTotal = 5250
)

type searchResponse struct {
	Objects []struct {
		Package struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"package"`
	} `json:"objects"`
	Total int `json:"total"`
}

// Search queries the registry's search endpoint and returns up to
// quantity seeds with concrete versions. Requests are paged at the
// registry's 250-item limit; quantity is clamped to the endpoint's 5250
// result window. Search results are not cached: popularity ordering
// shifts too quickly to be worth a TTL.
func (c *Client) Search(ctx context.Context, text string, quantity int) ([]Seed, error) {
	if quantity <= 0 {
		return nil, nil
	}
	quantity = min(quantity, searchMaxTotal)

	seeds := make([]Seed, 0, quantity)
	for from := 0; from < quantity; from += searchPageSize {
		size := min(searchPageSize, quantity-from)

		var page searchResponse
		u := fmt.Sprintf("%s/-/v1/search?text=%s&size=%d&from=%d", c.baseURL, url.QueryEscape(text), size, from)
		if err := c.Get(ctx, u, &page); err != nil {
			return nil, err
		}

		for _, obj := range page.Objects {
			seeds = append(seeds, Seed{Name: obj.Package.Name, Version: obj.Package.Version})
		}
		if len(page.Objects) < size {
			break
		}
	}
	return seeds, nil
}

// Popular returns the top-n most popular packages as seeds.
func (c *Client) Popular(ctx context.Context, n int) ([]Seed, error) {
	return c.Search(ctx, "boost-exact:false", n)
}
