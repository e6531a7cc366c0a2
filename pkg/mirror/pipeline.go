package mirror

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/packmule/packmule/pkg/cache"
	pkgerrors "github.com/packmule/packmule/pkg/errors"
	"github.com/packmule/packmule/pkg/observability"
	"github.com/packmule/packmule/pkg/registry/npm"
)

// RegistryClient is the full registry surface the pipeline needs:
// metadata for resolving, tarballs for downloading, and search for
// top-N seeding. *npm.Client satisfies it.
type RegistryClient interface {
	ManifestFetcher
	TarballFetcher
	Popular(ctx context.Context, n int) ([]npm.Seed, error)
}

// Options selects the seed source and configures the stages. Exactly
// one of Specs, ManifestPath, or TopN must be set.
type Options struct {
	// Specs is an explicit seed list (name, name@range, @scope/name@range).
	Specs []string

	// ManifestPath points at a manifest file whose dependencies seed the run.
	ManifestPath string

	// TopN seeds the run with the registry's most popular packages.
	TopN int

	Resolve  ResolveOptions
	Download DownloadOptions
}

// Summary is the aggregate outcome of one pipeline run. A summary is
// produced whenever all stages ran, even when every download failed; a
// failed top-N fetch, a cancelled context, or a destination directory that
// cannot be created ends the run with an error and no summary.
type Summary struct {
	RunID      string
	Stages     int
	Seeds      int
	Resolved   []Resolved
	Results    []Result
	Downloaded int
	Cached     int
	Failed     int
	Elapsed    time.Duration
}

// Pipeline wires a seed source into the resolver and the downloader,
// owning stage transitions and run bookkeeping.
type Pipeline struct {
	client  RegistryClient
	store   cache.Store
	visited *Visited
	logger  *log.Logger
}

// NewPipeline creates a Pipeline over the given registry client and
// tarball index. Pass a nil store to disable the index.
func NewPipeline(client RegistryClient, store cache.Store, logger *log.Logger) *Pipeline {
	if store == nil {
		store = cache.NewNullStore()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		client:  client,
		store:   store,
		visited: NewVisited(),
		logger:  logger,
	}
}

// Run executes the pipeline: acquire seeds, resolve the graph, download
// tarballs. Input validation failures are fatal; everything downstream
// degrades per-edge or per-item and lands in the summary.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := validateSeedSource(opts); err != nil {
		return nil, err
	}

	start := time.Now()
	summary := &Summary{RunID: uuid.NewString(), Stages: 2}
	hasTop := opts.TopN > 0
	if hasTop {
		summary.Stages = 3
	}
	stage := 0
	nextStage := func(name string) {
		stage++
		p.logger.Info("stage", "n", stage, "of", summary.Stages, "name", name, "run", summary.RunID)
	}

	// Seed acquisition.
	var root *npm.Manifest
	var err error
	switch {
	case hasTop:
		nextStage("top packages")
		seeds, serr := p.client.Popular(ctx, opts.TopN)
		if serr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.ErrCodeNetwork, serr, "fetch top %d packages", opts.TopN)
		}
		root = RootFromSeeds(seeds)
	case opts.ManifestPath != "":
		root, err = RootFromFile(opts.ManifestPath)
	default:
		root, err = RootFromSpecs(opts.Specs)
	}
	if err != nil {
		return nil, err
	}
	summary.Seeds = len(root.Dependencies)

	// Resolve.
	nextStage("resolve")
	p.visited.Reset()
	observability.Mirror().OnResolveStart(ctx, summary.RunID, summary.Seeds)

	resolveStart := time.Now()
	resolver := NewResolver(p.client, p.visited, opts.Resolve)
	resolved, err := resolver.Resolve(ctx, root)
	observability.Mirror().OnResolveComplete(ctx, summary.RunID, len(resolved), time.Since(resolveStart), err)
	if err != nil {
		return nil, err
	}
	summary.Resolved = resolved

	// Download.
	nextStage("download")
	observability.Mirror().OnDownloadStart(ctx, summary.RunID, len(resolved), 0)
	downloadStart := time.Now()
	downloader := NewDownloader(p.client, p.store, opts.Download)
	results, cached, err := downloader.Download(ctx, resolved)
	if err != nil {
		return nil, err
	}

	summary.Results = results
	summary.Cached = cached
	for _, res := range results {
		if res.Err != nil {
			summary.Failed++
		} else {
			summary.Downloaded++
		}
	}
	observability.Mirror().OnDownloadComplete(ctx, summary.RunID, summary.Downloaded, summary.Failed, time.Since(downloadStart))

	// A run that wrote nothing should not leave an empty directory behind.
	if summary.Downloaded == 0 {
		p.removeIfEmpty(opts.Download.Dir)
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}

// removeIfEmpty deletes dir when it exists and holds nothing. Earlier
// runs' tarballs keep the directory alive.
func (p *Pipeline) removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		p.logger.Warn("remove empty destination", "dir", dir, "err", err)
	}
}

func validateSeedSource(opts Options) error {
	sources := 0
	if len(opts.Specs) > 0 {
		sources++
	}
	if opts.ManifestPath != "" {
		sources++
	}
	if opts.TopN > 0 {
		sources++
	}
	switch sources {
	case 0:
		return pkgerrors.New(pkgerrors.ErrCodeInvalidInput, "no packages requested: pass specs, a manifest, or a top-N count")
	case 1:
		return nil
	default:
		return pkgerrors.New(pkgerrors.ErrCodeInvalidInput, "specs, manifest, and top-N are mutually exclusive seed sources")
	}
}
