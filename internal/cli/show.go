package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/huevec/aggregate"
	"github.com/hupe1980/huevec/distance"
	"github.com/hupe1980/huevec/vectorstore"
	"github.com/hupe1980/huevec/vocab"
)

var showCmd = &cobra.Command{
	Use:   "show <word>",
	Short: "Inspect a word vector and its nearest neighbors",
	Long: `Show the aggregate statistics stored for a word in the current
revision, together with the words whose mean color vectors lie closest.

Examples:
  huevec show sunset
  huevec show sunset -k 10 --metric cosine`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var (
	showK      int
	showMetric string
)

func init() {
	showCmd.Flags().IntVarP(&showK, "neighbors", "k", 5, "number of nearest neighbors")
	showCmd.Flags().StringVar(&showMetric, "metric", "l2", "distance metric (l2, l1, cosine)")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	metric, err := distance.ParseMetric(showMetric)
	if err != nil {
		return err
	}
	dist, err := distance.Provider(metric)
	if err != nil {
		return err
	}

	normalizer := vocab.NewNormalizer(func(o *vocab.Options) {
		o.Stemming = cfg.Pipeline.Stemming
	})
	word := normalizer.Normalize(args[0])
	if word == "" {
		return fmt.Errorf("no usable word in %q", args[0])
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	wv, err := st.GetWordVector(ctx, word, cfg.Revision)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return fmt.Errorf("word %q has no aggregate in revision %s", word, cfg.Revision)
		}
		return err
	}

	fmt.Printf("Word:      %s\n", wv.Word)
	fmt.Printf("Revision:  %s\n", wv.Revision)
	fmt.Printf("Images:    %d\n", wv.Count)
	fmt.Printf("Dimension: %d\n", wv.Dim())
	fmt.Printf("Mean:      %s\n", formatVector(wv.Mean, 8))
	fmt.Printf("Variance:  %s\n", formatVector(wv.Variance(), 8))

	images, err := st.ListImages(ctx, word, cfg.Revision)
	if err != nil {
		return err
	}
	if len(images) > 0 {
		fmt.Printf("\nImages (%d):\n", len(images))
		const maxShown = 10
		for i, id := range images {
			if i == maxShown {
				fmt.Printf("  ... and %d more\n", len(images)-maxShown)
				break
			}
			fmt.Printf("  %s\n", id)
		}
	}

	neighbors, err := nearestWords(ctx, st, wv, dist, showK)
	if err != nil {
		return err
	}
	if len(neighbors) > 0 {
		fmt.Printf("\nNearest (%s):\n", metric)
		for _, n := range neighbors {
			fmt.Printf("  %-24s %.6f\n", n.word, n.dist)
		}
	}
	return nil
}

type wordDistance struct {
	word string
	dist float64
}

// nearestWords ranks the other aggregates of the revision by distance
// from wv's mean. Aggregates with a different dimension are skipped.
func nearestWords(ctx context.Context, st vectorstore.Store, wv aggregate.WordVector, dist distance.Func, k int) ([]wordDistance, error) {
	words, err := st.ListWords(ctx, wv.Revision)
	if err != nil {
		return nil, err
	}

	var neighbors []wordDistance
	for _, w := range words {
		if w == wv.Word {
			continue
		}
		other, err := st.GetWordVector(ctx, w, wv.Revision)
		if err != nil {
			if errors.Is(err, vectorstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if other.Dim() != wv.Dim() {
			continue
		}
		neighbors = append(neighbors, wordDistance{word: w, dist: dist(wv.Mean, other.Mean)})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].dist != neighbors[j].dist {
			return neighbors[i].dist < neighbors[j].dist
		}
		return neighbors[i].word < neighbors[j].word
	})
	if k > 0 && len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// formatVector renders the first n components of v.
func formatVector(v []float64, n int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i == n {
			b.WriteString(" ...")
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.4f", x)
	}
	fmt.Fprintf(&b, "] (%d components)", len(v))
	return b.String()
}
