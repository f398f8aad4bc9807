package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/huevec/blobstore"
)

var pullCmd = &cobra.Command{
	Use:   "pull [revision]",
	Short: "Fetch a published revision from the blob store",
	Long: `Download a published revision from the configured blob backend and
import it into the local store. Without an argument the configured
revision is fetched. Only revisions with a commit marker are visible.

Examples:
  huevec pull spring-2026
  huevec pull --merge spring-2026
  huevec pull --list`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPull,
}

var (
	pullMerge bool
	pullList  bool
)

func init() {
	pullCmd.Flags().BoolVar(&pullMerge, "merge", false, "merge word aggregates instead of overwriting")
	pullCmd.Flags().BoolVar(&pullList, "list", false, "list published revisions and exit")
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	bs, _, err := openBlobStore(ctx)
	if err != nil {
		return err
	}

	if pullList {
		revs, err := blobstore.ListPublished(ctx, bs)
		if err != nil {
			return err
		}
		if len(revs) == 0 {
			fmt.Println("No published revisions.")
			return nil
		}
		fmt.Printf("%d published revisions:\n", len(revs))
		for _, rev := range revs {
			m, err := blobstore.LoadManifest(ctx, bs, rev)
			if err != nil {
				fmt.Printf("  %-32s (manifest unreadable: %v)\n", rev, err)
				continue
			}
			fmt.Printf("  %-32s %6d words, %s\n", rev, m.Words, formatBytes(m.SnapshotSize))
		}
		return nil
	}

	rev := cfg.Revision
	if len(args) > 0 {
		rev = args[0]
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	manifest, err := blobstore.Fetch(ctx, bs, st, rev, func(o *blobstore.FetchOptions) {
		o.MergeWords = pullMerge
	})
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	fmt.Printf("Fetched %s:\n", manifest.Revision)
	fmt.Printf("  Words:    %d\n", manifest.Words)
	fmt.Printf("  Vectors:  %d\n", manifest.Vectors)
	fmt.Printf("  Snapshot: %s\n", formatBytes(manifest.SnapshotSize))
	return nil
}
