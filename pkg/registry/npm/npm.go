// Package npm provides a registry client for npm-compatible registries.
package npm

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/packmule/packmule/pkg/registry"
)

// DefaultURL is the public npm registry.
const DefaultURL = "https://registry.npmjs.org"

// Client talks to a single npm-compatible registry.
type Client struct {
	*registry.Client
	baseURL string
}

// NewClient creates a Client for baseURL backed by a file cache with the
// given TTL in cacheDir. An empty baseURL selects the public registry;
// an empty cacheDir selects the default cache location.
func NewClient(baseURL, cacheDir string, cacheTTL time.Duration) (*Client, error) {
	cache, err := registry.NewCache(cacheDir, cacheTTL)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		Client:  registry.NewClient(cache, nil),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// BaseURL returns the registry base URL the client was configured with.
func (c *Client) BaseURL() string { return c.baseURL }

// Manifest fetches the metadata for one exact version of a package.
//
// Lookup failures fall back before surfacing:
//   - ETARGET (version missing): transparently retried with the latest
//     dist-tag carried on the error.
//   - E404 (package missing) with a non-latest query: retried once with
//     the latest tag.
//
// Any other error is surfaced unchanged.
func (c *Client) Manifest(ctx context.Context, name, version string) (*Manifest, error) {
	m, err := c.manifest(ctx, name, version)
	if err == nil {
		return m, nil
	}

	var rerr *Error
	if errors.As(err, &rerr) {
		switch rerr.Code {
		case CodeTarget:
			if latest := rerr.DistTags["latest"]; latest != "" && latest != version {
				return c.manifest(ctx, name, latest)
			}
		case CodeNotFound:
			if version != "latest" {
				return c.manifest(ctx, name, "latest")
			}
		}
	}
	return nil, err
}

func (c *Client) manifest(ctx context.Context, name, version string) (*Manifest, error) {
	key := "manifest:" + name + "@" + version

	var m Manifest
	err := c.Cached(ctx, key, false, &m, func() error {
		if err := c.Get(ctx, c.manifestURL(name, version), &m); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return c.classifyMissing(ctx, name, version)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// classifyMissing turns a manifest 404 into E404 or ETARGET by checking
// whether the package document exists at all. ETARGET errors carry the
// packument's dist-tags for the fallback lookup.
func (c *Client) classifyMissing(ctx context.Context, name, version string) error {
	pk, err := c.Packument(ctx, name)
	if err != nil {
		return &Error{Code: CodeNotFound, Name: name, Version: version, Cause: err}
	}
	return &Error{Code: CodeTarget, Name: name, Version: version, DistTags: pk.DistTags}
}

// Packument fetches the full package document: all versions, dist-tags,
// and publish timestamps. No fallback; errors surface.
func (c *Client) Packument(ctx context.Context, name string) (*Packument, error) {
	key := "packument:" + name

	var p Packument
	err := c.Cached(ctx, key, false, &p, func() error {
		if err := c.Get(ctx, c.baseURL+"/"+escapeName(name), &p); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return &Error{Code: CodeNotFound, Name: name, Cause: err}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Tarball streams the compressed tarball for an exact version. The
// caller must close the returned body.
func (c *Client) Tarball(ctx context.Context, name, version string) (io.ReadCloser, error) {
	return c.Stream(ctx, c.TarballURL(name, version))
}

// TarballURL returns the conventional registry location of a version's
// tarball: <base>/<name>/-/<short-name>-<version>.tgz.
func (c *Client) TarballURL(name, version string) string {
	shortName := name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		shortName = name[idx+1:]
	}
	return c.baseURL + "/" + name + "/-/" + shortName + "-" + version + ".tgz"
}

func (c *Client) manifestURL(name, version string) string {
	return c.baseURL + "/" + escapeName(name) + "/" + version
}

// escapeName percent-encodes a package name for use as a URL path
// segment. Scoped names keep their "@" but encode the slash.
func escapeName(name string) string {
	return url.PathEscape(name)
}
