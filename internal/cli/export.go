package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/huevec/vectorstore"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the revision to a snapshot file",
	Long: `Write the current revision as a self-describing snapshot file. The
snapshot carries the word aggregates, the per-image feature vectors and
the revision state, each section checksummed.

Examples:
  huevec export colorvectors.hvs
  huevec export --all everything.hvs
  huevec export --compression lz4 fast.hvs`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var (
	exportAll         bool
	exportCompression string
)

func init() {
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every revision, not just the current one")
	exportCmd.Flags().StringVar(&exportCompression, "compression", "zstd", "section compression (none, zstd, lz4)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	compression, err := vectorstore.ParseCompression(exportCompression)
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	err = vectorstore.ExportFile(ctx, path, st, func(o *vectorstore.ExportOptions) {
		o.Compression = compression
		if !exportAll {
			o.Revisions = []string{cfg.Revision}
		}
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	scope := cfg.Revision
	if exportAll {
		scope = "all revisions"
	}
	fmt.Printf("Exported %s to %s (%s)\n", scope, path, formatBytes(info.Size()))
	return nil
}
