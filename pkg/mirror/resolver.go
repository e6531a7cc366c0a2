package mirror

import (
	"context"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/packmule/packmule/pkg/registry/npm"
	"github.com/packmule/packmule/pkg/semverutil"
)

// ManifestFetcher retrieves package metadata from a registry.
//
// Manifest must apply the registry client's fallback rules (missing
// version → latest dist-tag, missing package → one latest retry) before
// failing. Packument carries the dist-tags consulted for isLatest.
//
// Implementations must be safe for concurrent use; the resolver fetches
// sibling edges from multiple goroutines.
type ManifestFetcher interface {
	Manifest(ctx context.Context, name, version string) (*npm.Manifest, error)
	Packument(ctx context.Context, name string) (*npm.Packument, error)
}

// Resolver expands a root manifest into the flat de-duplicated set of
// transitively required packages.
type Resolver struct {
	fetcher ManifestFetcher
	visited *Visited
	opts    ResolveOptions
}

// NewResolver creates a Resolver over fetcher. The visited set carries
// the pass's de-duplication state; the caller resets it between passes.
func NewResolver(fetcher ManifestFetcher, visited *Visited, opts ResolveOptions) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		visited: visited,
		opts:    opts.withDefaults(),
	}
}

// Resolve walks the dependency graph rooted at root and returns every
// reachable package exactly once.
//
// Ordering: a parent is emitted strictly before its descendants; the
// relative order among siblings follows fetch completion and is not
// deterministic. Per-edge failures are logged and narrow the result
// instead of failing the pass.
//
// Progress advances by 1/rootEdges each time a root edge's entire
// subtree has been expanded; inner completions emit events at the
// current aggregate fraction without advancing it.
func (r *Resolver) Resolve(ctx context.Context, root *npm.Manifest) ([]Resolved, error) {
	w := &walk{r: r}
	if err := w.run(ctx, root); err != nil {
		return nil, err
	}
	return w.out, nil
}

// walk holds the mutable state of one resolve pass: the output in
// emission order and the root-edge progress accounting.
type walk struct {
	r        *Resolver
	out      []Resolved
	done     int
	total    int
	fraction float64
}

// arrival pairs an emitted package with its manifest for recursion.
type arrival struct {
	res Resolved
	man *npm.Manifest
}

func (w *walk) run(ctx context.Context, root *npm.Manifest) error {
	arrivals, attempted := w.fetchLevel(ctx, root)
	if err := ctx.Err(); err != nil {
		return err
	}

	// Edges that failed to fetch have trivially completed their subtree.
	w.total = max(attempted, 1)
	w.done = attempted - len(arrivals)
	if w.done > 0 {
		w.advance()
	}

	for _, a := range arrivals {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !w.r.visited.Seen(a.res.Name, a.res.Version) {
			w.emit(a.res)
			w.expand(ctx, a.man)
		}
		w.done++
		w.advance()
	}
	return ctx.Err()
}

// expand recurses depth-first below one emitted manifest: parallel
// sibling fetch, then sequential recursion in arrival order.
func (w *walk) expand(ctx context.Context, m *npm.Manifest) {
	arrivals, _ := w.fetchLevel(ctx, m)
	for _, a := range arrivals {
		if ctx.Err() != nil {
			return
		}
		if w.r.visited.Seen(a.res.Name, a.res.Version) {
			continue
		}
		w.emit(a.res)
		w.expand(ctx, a.man)
	}
}

// fetchLevel fetches all surviving edges of one manifest in parallel.
// It returns the manifests that arrived, in completion order, and the
// number of edges attempted (arrivals plus failed fetches).
func (w *walk) fetchLevel(ctx context.Context, m *npm.Manifest) ([]arrival, int) {
	r := w.r
	edges := mergeDependencies(m, r.opts)

	var (
		mu       sync.Mutex
		arrivals []arrival
	)
	attempted := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for name, rng := range edges {
		queryVersion := semverutil.Coerce(rng)
		if r.visited.Has(name, queryVersion) {
			continue
		}
		attempted++

		g.Go(func() error {
			man, err := r.fetcher.Manifest(gctx, name, queryVersion)
			if err != nil {
				r.opts.Logger("resolve %s@%s: %v", name, queryVersion, err)
				return nil
			}

			latest := queryVersion == semverutil.Latest
			if !latest {
				latest = r.isLatest(gctx, man.Name, man.Version)
			}

			mu.Lock()
			arrivals = append(arrivals, arrival{
				res: Resolved{Name: man.Name, Version: man.Version, Latest: latest},
				man: man,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return arrivals, attempted
}

// isLatest consults the packument's latest dist-tag. Packument failures
// degrade to false rather than failing the edge.
func (r *Resolver) isLatest(ctx context.Context, name, version string) bool {
	p, err := r.fetcher.Packument(ctx, name)
	if err != nil {
		r.opts.Logger("packument %s: %v", name, err)
		return false
	}
	return p.Latest() == version
}

// emit appends to the output and notifies the sink at the current
// aggregate fraction.
func (w *walk) emit(res Resolved) {
	w.out = append(w.out, res)
	w.r.opts.Progress(Event{
		Stage:    StageResolve,
		Fraction: w.fraction,
		Name:     res.Name,
		Version:  res.Version,
	})
}

// advance moves the root-edge fraction forward and notifies the sink.
func (w *walk) advance() {
	w.fraction = float64(w.done) / float64(w.total)
	w.r.opts.Progress(Event{Stage: StageResolve, Fraction: w.fraction})
}

// mergeDependencies composes a manifest's traversal edges: runtime
// dependencies unioned with the optional, peer, and dev categories the
// options admit. On name collision the later category wins
// (dev > peer > optional > runtime), matching the registry manifest
// merge order.
func mergeDependencies(m *npm.Manifest, opts ResolveOptions) map[string]string {
	edges := make(map[string]string, len(m.Dependencies))
	maps.Copy(edges, m.Dependencies)
	if opts.IncludeOptional {
		maps.Copy(edges, m.OptionalDependencies)
	}
	if opts.IncludePeer {
		maps.Copy(edges, m.PeerDependencies)
	}
	if opts.IncludeDev {
		maps.Copy(edges, m.DevDependencies)
	}
	return edges
}
