package cli

import (
	"github.com/spf13/cobra"

	"github.com/packmule/packmule/pkg/archive"
)

func newBundleCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "bundle <dir>",
		Short: "Pack a mirror directory into a single archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := archive.Create(output, args[0])
			if err != nil {
				return err
			}
			printSuccess("Bundled %d tarballs", n)
			printFile(output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "mirror.tgz", "archive file to write")

	cmd.AddCommand(newBundleExtractCmd())
	return cmd
}

func newBundleExtractCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "extract <archive>",
		Short: "Unpack a bundle back into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := archive.Extract(args[0], output)
			if err != nil {
				return err
			}
			printSuccess("Extracted %d tarballs", n)
			printFile(output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "packages", "directory to extract into")
	return cmd
}
