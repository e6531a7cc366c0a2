package mirror

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/packmule/packmule/pkg/cache"
	pkgerrors "github.com/packmule/packmule/pkg/errors"
)

// TarballFetcher streams package tarballs from a registry. It must be
// safe for concurrent use.
type TarballFetcher interface {
	Tarball(ctx context.Context, name, version string) (io.ReadCloser, error)
}

// Result is the settlement of one download: the written file path on
// success, or the per-item error on rejection. The batch never fails as
// a whole because of item errors.
type Result struct {
	Package Resolved
	Path    string
	Err     error
}

// Downloader writes resolved packages' tarballs into a destination
// directory, honoring the durable tarball index.
type Downloader struct {
	fetcher TarballFetcher
	store   cache.Store
	opts    DownloadOptions
}

// NewDownloader creates a Downloader writing via fetcher and consulting
// store when the options enable the cache.
func NewDownloader(fetcher TarballFetcher, store cache.Store, opts DownloadOptions) *Downloader {
	if store == nil {
		store = cache.NewNullStore()
	}
	return &Downloader{fetcher: fetcher, store: store, opts: opts.withDefaults()}
}

// Download settles every package in pkgs and returns one Result per
// non-cached element plus the count of elements skipped because the
// index already records them. Results preserve input association but
// not input order.
func (d *Downloader) Download(ctx context.Context, pkgs []Resolved) ([]Result, int, error) {
	if err := os.MkdirAll(d.opts.Dir, 0o755); err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "create destination %s", d.opts.Dir)
	}

	toFetch := pkgs
	cached := 0
	if d.opts.UseCache {
		toFetch = make([]Resolved, 0, len(pkgs))
		for _, p := range pkgs {
			ok, err := d.store.Exists(ctx, p.Name, p.Version)
			if err != nil {
				d.opts.Logger("index lookup %s: %v", p, err)
			}
			if ok {
				cached++
				continue
			}
			toFetch = append(toFetch, p)
		}
	}
	if len(toFetch) == 0 {
		return nil, cached, ctx.Err()
	}

	results := make([]Result, len(toFetch))
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, p := range toFetch {
		g.Go(func() error {
			res := d.fetchOne(gctx, p)
			results[i] = res

			n := completed.Add(1)
			d.opts.Progress(Event{
				Stage:    StageDownload,
				Fraction: float64(n) / float64(len(toFetch)),
				Name:     p.Name,
				Version:  p.Version,
				Err:      res.Err,
			})
			return nil
		})
	}
	_ = g.Wait()
	return results, cached, ctx.Err()
}

// fetchOne streams one tarball to disk. The index is updated only after
// a fully successful write; partial files are removed.
func (d *Downloader) fetchOne(ctx context.Context, p Resolved) Result {
	body, err := d.fetcher.Tarball(ctx, p.Name, p.Version)
	if err != nil {
		d.opts.Logger("download %s: %v", p, err)
		return Result{Package: p, Err: err}
	}
	defer body.Close()

	path := filepath.Join(d.opts.Dir, Filename(p.Name, p.Version, p.Latest))
	f, err := os.Create(path)
	if err != nil {
		return Result{Package: p, Err: pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "create %s", path)}
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return Result{Package: p, Err: pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "write %s", path)}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Result{Package: p, Err: pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "close %s", path)}
	}

	if d.opts.UseCache {
		if err := d.store.Add(ctx, p.Name, p.Version); err != nil {
			d.opts.Logger("index add %s: %v", p, err)
		}
	}
	return Result{Package: p, Path: path}
}

// Filename is the destination filename for a resolved package:
// slashes in the name become hyphens, and packages at the registry's
// latest version carry a -latest marker.
//
//	@scope/foo 1.2.3 (latest) → @scope-foo-1.2.3-latest.tgz
func Filename(name, version string, latest bool) string {
	base := strings.ReplaceAll(name, "/", "-") + "-" + version
	if latest {
		base += "-latest"
	}
	return base + ".tgz"
}
