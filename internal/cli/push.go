package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/huevec/blobstore"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish the revision to the blob store",
	Long: `Export the current revision and upload it to the configured blob
backend, followed by a manifest and a commit marker. A revision that
already carries a commit marker is not overwritten unless --force is
given; with a DynamoDB registry configured, concurrent publishers are
arbitrated server-side.

Examples:
  huevec push
  huevec push -r spring-2026 --force`,
	Args: cobra.NoArgs,
	RunE: runPush,
}

var pushForce bool

func init() {
	pushCmd.Flags().BoolVar(&pushForce, "force", false, "republish an already committed revision")
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	bs, registry, err := openBlobStore(ctx)
	if err != nil {
		return err
	}

	manifest, err := blobstore.Publish(ctx, bs, st, cfg.Revision, func(o *blobstore.PublishOptions) {
		o.Force = pushForce
		o.Registry = registry
	})
	if err != nil {
		if errors.Is(err, blobstore.ErrRevisionCommitted) {
			return fmt.Errorf("revision %s is already published, use --force to republish", cfg.Revision)
		}
		return fmt.Errorf("publish failed: %w", err)
	}

	fmt.Printf("Published %s:\n", manifest.Revision)
	fmt.Printf("  Words:    %d\n", manifest.Words)
	fmt.Printf("  Vectors:  %d\n", manifest.Vectors)
	fmt.Printf("  Snapshot: %s (%s)\n", formatBytes(manifest.SnapshotSize), manifest.Codec)
	fmt.Printf("  Location: %s\n", blobstore.RevisionPath(manifest.Revision))
	return nil
}
