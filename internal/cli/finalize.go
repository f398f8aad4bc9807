package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Mark the revision immutable",
	Long: `Finalize the current revision. Finalized revisions reject every
further write, which makes them safe to publish and compare against.
Finalizing an already finalized revision is a no-op.`,
	Args: cobra.NoArgs,
	RunE: runFinalize,
}

func init() {
	rootCmd.AddCommand(finalizeCmd)
}

func runFinalize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Finalize(ctx, cfg.Revision); err != nil {
		return fmt.Errorf("failed to finalize revision: %w", err)
	}

	fmt.Printf("Revision %s finalized.\n", cfg.Revision)
	return nil
}
