package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/packmule/packmule/pkg/archive"
	"github.com/packmule/packmule/pkg/publish"
)

// publishOpts holds the command-line flags for the publish command.
type publishOpts struct {
	registry    string
	user        string
	pass        string
	token       string
	concurrency int
}

func newPublishCmd() *cobra.Command {
	var opts publishOpts

	cmd := &cobra.Command{
		Use:   "publish <dir-or-archive>",
		Short: "Republish a mirror directory against a private registry",
		Long: `Upload every tarball of a mirror directory (or a bundle created with
"packmule bundle") to a private registry. Authentication uses --token,
the PACKMULE_TOKEN environment variable, or --user/--pass login.

Examples:
  packmule publish ./mirror --registry https://npm.internal.example.com --token $TOKEN
  packmule publish mirror.tgz -r https://npm.internal.example.com -u alice -p hunter2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.registry, "registry", "r", "", "target registry base URL (required)")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "registry username (logs in for a token)")
	cmd.Flags().StringVarP(&opts.pass, "pass", "p", "", "registry password")
	cmd.Flags().StringVar(&opts.token, "token", "", "registry bearer token (or PACKMULE_TOKEN)")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "parallel upload bound")
	_ = cmd.MarkFlagRequired("registry")

	return cmd
}

func runPublish(cmd *cobra.Command, target string, opts publishOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	tracker := newProgress(logger)

	token := opts.token
	if token == "" {
		token = os.Getenv("PACKMULE_TOKEN")
	}
	if token == "" && opts.user != "" {
		spin := newSpinner(ctx, "Logging in…")
		spin.Start()
		t, err := publish.Login(ctx, opts.registry, opts.user, opts.pass)
		spin.Stop()
		if err != nil {
			return err
		}
		token = t
		printSuccess("Logged in as %s", opts.user)
	}
	if token == "" {
		return fmt.Errorf("no credentials: pass --token, set PACKMULE_TOKEN, or use --user/--pass")
	}

	// A bundle is extracted to a scratch directory first.
	dir := target
	if info, err := os.Stat(target); err == nil && !info.IsDir() && strings.HasSuffix(target, ".tgz") {
		scratch, err := os.MkdirTemp("", "packmule-publish-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(scratch)

		n, err := archive.Extract(target, scratch)
		if err != nil {
			return err
		}
		printInfo("Extracted %d tarballs from %s", n, target)
		dir = scratch
	}

	spin := newSpinner(ctx, "Publishing…")
	spin.Start()
	publisher := publish.NewPublisher(publish.Options{
		Registry:    opts.registry,
		Token:       token,
		Concurrency: opts.concurrency,
		Logger:      logger.Warnf,
	})
	summary, err := publisher.Publish(ctx, dir)
	spin.Stop()
	if err != nil {
		return err
	}

	tracker.done(fmt.Sprintf("Published %d packages", summary.Uploaded))
	if summary.Existing > 0 {
		printDetail("%d versions already published", summary.Existing)
	}
	if summary.Failed > 0 {
		printWarning("%d uploads failed", summary.Failed)
		for _, res := range summary.Results {
			if res.Err != nil {
				printDetail("%s: %v", res.File, res.Err)
			}
		}
	}
	return nil
}
