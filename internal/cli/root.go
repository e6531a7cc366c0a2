package cli

import (
	"context"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/packmule/packmule/pkg/buildinfo"
)

// Execute runs the packmule CLI and returns an error if any command
// fails. Logging defaults to info level on stderr; --verbose (-v)
// switches to debug. The logger is attached to the context and
// retrieved by commands via loggerFromContext.
func Execute(ctx context.Context) error {
	var verbose bool

	root := &cobra.Command{
		Use:          "packmule",
		Short:        "packmule mirrors registry packages into a private registry",
		Long:         `packmule resolves a wanted set of packages against a public registry, downloads the transitive dependency closure as tarballs, and can bundle or republish the result against a private registry.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(os.Stderr, level)))
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newMirrorCmd())
	root.AddCommand(newPublishCmd())
	root.AddCommand(newBundleCmd())
	root.AddCommand(newCacheCmd())

	return root.ExecuteContext(ctx)
}
