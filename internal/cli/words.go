package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/huevec/vectorstore"
)

var wordsCmd = &cobra.Command{
	Use:   "words",
	Short: "List aggregated words in the revision",
	Args:  cobra.NoArgs,
	RunE:  runWords,
}

var wordsRevisions bool

func init() {
	wordsCmd.Flags().BoolVar(&wordsRevisions, "revisions", false, "list revisions instead of words")
	rootCmd.AddCommand(wordsCmd)
}

func runWords(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if wordsRevisions {
		revs, err := st.ListRevisions(ctx)
		if err != nil {
			return err
		}
		if len(revs) == 0 {
			fmt.Println("No revisions in the store.")
			return nil
		}
		fmt.Printf("%d revisions:\n", len(revs))
		for _, rev := range revs {
			finalized, err := st.Finalized(ctx, rev)
			if err != nil {
				return err
			}
			state := "open"
			if finalized {
				state = "finalized"
			}
			fmt.Printf("  %-32s %s\n", rev, state)
		}
		return nil
	}

	words, err := st.ListWords(ctx, cfg.Revision)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		fmt.Printf("No words in revision %s.\n", cfg.Revision)
		return nil
	}

	finalized, err := st.Finalized(ctx, cfg.Revision)
	if err != nil {
		return err
	}
	state := "open"
	if finalized {
		state = "finalized"
	}

	fmt.Printf("Revision %s (%s), %d words:\n", cfg.Revision, state, len(words))
	for _, w := range words {
		wv, err := st.GetWordVector(ctx, w, cfg.Revision)
		if err != nil {
			if errors.Is(err, vectorstore.ErrNotFound) {
				fmt.Printf("  %-24s (no aggregate)\n", w)
				continue
			}
			return err
		}
		fmt.Printf("  %-24s %6d images\n", w, wv.Count)
	}
	return nil
}
