// Package publish republishes a mirror directory against a private
// npm-compatible registry.
//
// Each tarball's embedded package/package.json provides the publish
// coordinates, so renamed or scoped files never publish under the wrong
// name. Uploads run with bounded concurrency and settle per-item: one
// bad tarball does not stop the batch.
package publish

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/packmule/packmule/pkg/errors"
	"github.com/packmule/packmule/pkg/registry"
	"github.com/packmule/packmule/pkg/registry/npm"
)

// LogFunc receives per-item warnings.
type LogFunc func(format string, args ...any)

// Options configures a publish batch.
type Options struct {
	// Registry is the base URL of the target registry.
	Registry string

	// Token authenticates uploads (bearer).
	Token string

	// Concurrency bounds parallel uploads (default 20, matching the
	// download pipeline).
	Concurrency int

	// Logger receives per-item warnings (default: discard).
	Logger LogFunc
}

// Result is the settlement of one tarball upload.
type Result struct {
	File     string
	Name     string
	Version  string
	Existing bool // registry already had this version
	Err      error
}

// Summary aggregates a publish batch.
type Summary struct {
	Uploaded int
	Existing int
	Failed   int
	Results  []Result
}

// Login authenticates against the registry's couchdb-style user
// endpoint and returns a bearer token.
func Login(ctx context.Context, registryURL, user, pass string) (string, error) {
	client := registry.NewClient(nil, nil)
	id := "org.couchdb.user:" + user
	endpoint := strings.TrimSuffix(registryURL, "/") + "/-/user/" + url.PathEscape(id)

	payload := map[string]any{
		"_id":      id,
		"name":     user,
		"password": pass,
		"type":     "user",
		"roles":    []string{},
	}
	status, body, err := client.PutJSON(ctx, endpoint, payload, nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", pkgerrors.New(pkgerrors.ErrCodeUnauthorized, "registry rejected credentials for %s", user)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", pkgerrors.New(pkgerrors.ErrCodeNetwork, "login failed with status %d", status)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return "", pkgerrors.New(pkgerrors.ErrCodeUnauthorized, "registry returned no token")
	}
	return resp.Token, nil
}

// Publisher uploads tarballs to one registry.
type Publisher struct {
	client *registry.Client
	opts   Options
}

// NewPublisher creates a Publisher for the options' registry.
func NewPublisher(opts Options) *Publisher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 20
	}
	if opts.Logger == nil {
		opts.Logger = func(string, ...any) {}
	}
	opts.Registry = strings.TrimSuffix(opts.Registry, "/")
	return &Publisher{client: registry.NewClient(nil, nil), opts: opts}
}

// Publish uploads every *.tgz in dir. Per-item failures are collected
// in the summary; the batch continues.
func (p *Publisher) Publish(ctx context.Context, dir string) (*Summary, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.tgz"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, pkgerrors.New(pkgerrors.ErrCodeInvalidInput, "no tarballs found in %s", dir)
	}

	results := make([]Result, len(files))
	var settled atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, file := range files {
		g.Go(func() error {
			results[i] = p.publishOne(gctx, file)
			settled.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{Results: results}
	for _, res := range results {
		switch {
		case res.Err != nil:
			summary.Failed++
		case res.Existing:
			summary.Existing++
		default:
			summary.Uploaded++
		}
	}
	return summary, ctx.Err()
}

func (p *Publisher) publishOne(ctx context.Context, file string) Result {
	res := Result{File: file}

	data, err := os.ReadFile(file)
	if err != nil {
		res.Err = err
		return res
	}

	m, err := manifestFromTarball(data)
	if err != nil {
		p.opts.Logger("publish %s: %v", filepath.Base(file), err)
		res.Err = err
		return res
	}
	res.Name, res.Version = m.Name, m.Version

	status, body, err := p.client.PutJSON(ctx,
		p.opts.Registry+"/"+url.PathEscape(m.Name),
		p.publishDocument(m, data),
		map[string]string{"Authorization": "Bearer " + p.opts.Token},
	)
	if err != nil {
		p.opts.Logger("publish %s@%s: %v", m.Name, m.Version, err)
		res.Err = err
		return res
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return res
	case status == http.StatusConflict || bytes.Contains(body, []byte("EPUBLISHCONFLICT")):
		res.Existing = true
		return res
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		res.Err = pkgerrors.New(pkgerrors.ErrCodeUnauthorized, "registry rejected upload of %s@%s", m.Name, m.Version)
	default:
		res.Err = pkgerrors.New(pkgerrors.ErrCodeNetwork, "publish %s@%s failed with status %d", m.Name, m.Version, status)
	}
	p.opts.Logger("%v", res.Err)
	return res
}

// publishDocument builds the couchdb-style publish body: the version's
// manifest, a latest dist-tag, and the tarball as a base64 attachment.
func (p *Publisher) publishDocument(m *npm.Manifest, data []byte) map[string]any {
	shortName := m.Name
	if idx := strings.LastIndex(shortName, "/"); idx >= 0 {
		shortName = shortName[idx+1:]
	}
	tarballName := fmt.Sprintf("%s-%s.tgz", shortName, m.Version)

	version := map[string]any{
		"name":    m.Name,
		"version": m.Version,
		"dist": map[string]string{
			"tarball": fmt.Sprintf("%s/%s/-/%s", p.opts.Registry, m.Name, tarballName),
		},
	}
	if len(m.Dependencies) > 0 {
		version["dependencies"] = m.Dependencies
	}

	return map[string]any{
		"_id":       m.Name,
		"name":      m.Name,
		"dist-tags": map[string]string{"latest": m.Version},
		"versions":  map[string]any{m.Version: version},
		"_attachments": map[string]any{
			tarballName: map[string]any{
				"content_type": "application/octet-stream",
				"data":         base64.StdEncoding.EncodeToString(data),
				"length":       len(data),
			},
		},
	}
}

// manifestFromTarball extracts the embedded package.json from a
// registry tarball (conventionally at package/package.json).
func manifestFromTarball(data []byte) (*npm.Manifest, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidArchive, err, "not a gzip archive")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidArchive, err, "read tarball")
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != "package.json" {
			continue
		}
		// Only the top-level package.json names the package; nested ones
		// belong to bundled dependencies.
		if strings.Count(strings.Trim(hdr.Name, "/"), "/") != 1 {
			continue
		}

		var m npm.Manifest
		if err := json.NewDecoder(tr).Decode(&m); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidArchive, err, "parse package.json")
		}
		if m.Name == "" || m.Version == "" {
			return nil, pkgerrors.New(pkgerrors.ErrCodeInvalidArchive, "package.json is missing name or version")
		}
		return &m, nil
	}
	return nil, pkgerrors.New(pkgerrors.ErrCodeInvalidArchive, "no package.json in tarball")
}
