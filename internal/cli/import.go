package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/huevec/vectorstore"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a snapshot file into the store",
	Long: `Read a snapshot file into the configured store. Records under the
snapshot's keys replace existing ones; --merge combines word aggregates
with running-statistics merging instead, for snapshots built from
disjoint image sets.

Examples:
  huevec import colorvectors.hvs
  huevec import --merge partner-share.hvs`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var importMerge bool

func init() {
	importCmd.Flags().BoolVar(&importMerge, "merge", false, "merge word aggregates instead of overwriting")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	err = vectorstore.ImportFile(ctx, path, st, func(o *vectorstore.ImportOptions) {
		o.MergeWords = importMerge
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	revs, err := st.ListRevisions(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %s\n", path)
	fmt.Printf("Store now holds %d revisions.\n", len(revs))
	return nil
}
