package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/packmule/packmule/pkg/archive"
	"github.com/packmule/packmule/pkg/cache"
	"github.com/packmule/packmule/pkg/config"
	"github.com/packmule/packmule/pkg/mirror"
	"github.com/packmule/packmule/pkg/registry/npm"
)

// registryCacheTTL is how long registry metadata responses are reused.
const registryCacheTTL = 24 * time.Hour

// mirrorOpts holds the command-line flags for the mirror command.
type mirrorOpts struct {
	manifest    string // manifest file seeding the run
	top         int    // top-N popular packages seeding the run
	dest        string // tarball destination directory
	registry    string // registry base URL
	dev         bool   // include devDependencies
	peer        bool   // include peerDependencies
	optional    bool   // include optionalDependencies
	noCache     bool   // skip the durable tarball index
	concurrency int    // parallel download bound
	bundle      string // bundle the destination into this archive
	configPath  string // config file override
}

func newMirrorCmd() *cobra.Command {
	var opts mirrorOpts

	cmd := &cobra.Command{
		Use:   "mirror [specs...]",
		Short: "Resolve packages and download their dependency closure",
		Long: `Resolve a wanted set of packages against the registry, expand the
transitive dependency graph, and download every resolved package as a
tarball into the destination directory.

The wanted set comes from exactly one seed source: explicit specs,
--manifest, or --top.

Examples:
  packmule mirror left-pad react@^18.0.0
  packmule mirror --manifest package.json --dev
  packmule mirror --top 100 --dest ./mirror --bundle mirror.tgz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMirror(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.manifest, "manifest", "m", "", "manifest file whose dependencies seed the run")
	cmd.Flags().IntVarP(&opts.top, "top", "t", 0, "seed with the registry's top-N popular packages")
	cmd.Flags().StringVarP(&opts.dest, "dest", "d", "", "destination directory (default from config)")
	cmd.Flags().StringVarP(&opts.registry, "registry", "r", "", "registry base URL (default from config)")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "include devDependencies")
	cmd.Flags().BoolVar(&opts.peer, "peer", false, "include peerDependencies")
	cmd.Flags().BoolVar(&opts.optional, "optional", false, "include optionalDependencies")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "ignore the durable tarball index")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "parallel download bound (default from config)")
	cmd.Flags().StringVarP(&opts.bundle, "bundle", "b", "", "bundle the destination into a single archive")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file path")

	return cmd
}

func runMirror(cmd *cobra.Command, args []string, opts mirrorOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	tracker := newProgress(logger)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.registry == "" {
		opts.registry = cfg.Registry
	}
	if opts.dest == "" {
		opts.dest = cfg.Destination
	}
	if opts.concurrency == 0 {
		opts.concurrency = cfg.Concurrency
	}

	client, err := npm.NewClient(opts.registry, cfg.CacheDir, registryCacheTTL)
	if err != nil {
		return fmt.Errorf("registry client: %w", err)
	}

	store, err := openIndex(ctx, cfg.Index, opts.noCache)
	if err != nil {
		return fmt.Errorf("tarball index: %w", err)
	}
	defer store.Close()

	events := make(chan mirror.Event, 64)
	sink := func(e mirror.Event) {
		select {
		case events <- e:
		default: // never stall the pipeline on a slow renderer
		}
	}

	pipeline := mirror.NewPipeline(client, store, logger)
	runOpts := mirror.Options{
		Specs:        args,
		ManifestPath: opts.manifest,
		TopN:         opts.top,
		Resolve: mirror.ResolveOptions{
			IncludeDev:      opts.dev,
			IncludePeer:     opts.peer,
			IncludeOptional: opts.optional,
			Logger:          logger.Warnf,
			Progress:        sink,
		},
		Download: mirror.DownloadOptions{
			Dir:         opts.dest,
			UseCache:    !opts.noCache,
			Concurrency: opts.concurrency,
			Logger:      logger.Warnf,
			Progress:    sink,
		},
	}

	type runResult struct {
		summary *mirror.Summary
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		summary, err := pipeline.Run(ctx, runOpts)
		close(events)
		done <- runResult{summary, err}
	}()

	renderProgress(events, logger)
	result := <-done
	if result.err != nil {
		return result.err
	}

	printMirrorSummary(result.summary, opts.dest, tracker)

	if opts.bundle != "" && result.summary.Downloaded+result.summary.Cached > 0 {
		n, err := archive.Create(opts.bundle, opts.dest)
		if err != nil {
			return err
		}
		printSuccess("Bundled %d tarballs", n)
		printFile(opts.bundle)
	}
	return nil
}

// renderProgress drains pipeline events: a live TUI on a terminal,
// debug log lines otherwise.
func renderProgress(events <-chan mirror.Event, logger *log.Logger) {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		if err := runMirrorTUI(events); err == nil {
			return
		}
	}
	for e := range events {
		if e.Name == "" {
			continue
		}
		if e.Err != nil {
			logger.Warnf("%s %s@%s: %v", e.Stage, e.Name, e.Version, e.Err)
		} else {
			logger.Debugf("%s %s@%s (%.0f%%)", e.Stage, e.Name, e.Version, e.Fraction*100)
		}
	}
}

func printMirrorSummary(summary *mirror.Summary, dest string, tracker *progress) {
	if summary.Downloaded == 0 && summary.Cached == 0 {
		printWarning("No packages fetched")
		if summary.Failed > 0 {
			printDetail("%d downloads failed", summary.Failed)
		}
		return
	}

	tracker.done(fmt.Sprintf("Mirrored %d packages", summary.Downloaded))
	printSuccess("Resolved %d packages from %d seeds", len(summary.Resolved), summary.Seeds)
	printDetail("%d downloaded to %s", summary.Downloaded, dest)
	if summary.Cached > 0 {
		printDetail("%d packages already in cache", summary.Cached)
	}
	if summary.Failed > 0 {
		printWarning("%d downloads failed", summary.Failed)
	}
}

// openIndex opens the configured tarball index backend. --no-cache and
// the "none" backend disable it.
func openIndex(ctx context.Context, cfg config.Index, disabled bool) (cache.Store, error) {
	if disabled || cfg.Backend == "none" {
		return cache.NewNullStore(), nil
	}

	switch cfg.Backend {
	case "redis":
		return cache.NewRedisStore(ctx, cfg.Addr)
	case "mongo":
		return cache.NewMongoStore(ctx, cfg.URI, cfg.Database)
	case "", "file":
		path := cfg.Path
		if path == "" {
			p, err := indexPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return cache.NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}
