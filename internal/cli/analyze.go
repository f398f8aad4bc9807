package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hupe1980/huevec"
	"github.com/hupe1980/huevec/internal/discovery"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Process images into word color vectors",
	Long: `Walk a directory of images, extract a perceptual color vector from
each and aggregate the vectors per word. The word for an image is the
name of its parent directory, so a collection laid out as

  downloads/
    sunset/  img1.jpg img2.jpg ...
    ocean/   img1.jpg ...

aggregates into the words "sunset" and "ocean". Results accumulate in
the configured store under the current revision.

Examples:
  huevec analyze ./downloads            # Per-directory words
  huevec analyze ./misc --word autumn   # One word for everything
  huevec analyze -r spring-2026 ./d     # Explicit revision`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeWord     string
	analyzeFinalize bool
)

func init() {
	analyzeCmd.Flags().StringVar(&analyzeWord, "word", "", "aggregate every image under this word instead of per-directory words")
	analyzeCmd.Flags().BoolVar(&analyzeFinalize, "finalize", false, "finalize the revision after processing")
	rootCmd.AddCommand(analyzeCmd)
}

// analyzeBatchSize bounds how many decoded images are held in memory
// at once.
const analyzeBatchSize = 64

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	ctx := cmd.Context()

	fmt.Printf("Scanning %s...\n", path)
	walker := discovery.NewWalker(cfg.Discovery.Includes, cfg.Discovery.Excludes)
	found, err := walker.Walk(path)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(found) == 0 {
		fmt.Println("No images matched the discovery globs.")
		return nil
	}

	p, st, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer p.Close()

	bar := progressbar.NewOptions(len(found),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Analyzing[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)

	var (
		processed int
		failed    int
		words     = make(map[string]struct{})
		warnings  []string
	)

	start := time.Now()
	for i := 0; i < len(found); i += analyzeBatchSize {
		end := min(i+analyzeBatchSize, len(found))
		chunk := found[i:end]

		images := make([]huevec.Image, 0, len(chunk))
		for _, f := range chunk {
			raw, err := discovery.DecodeFile(f.Path)
			if err != nil {
				failed++
				warnings = append(warnings, fmt.Sprintf("%s: %v", f.Rel, err))
				bar.Add(1)
				continue
			}
			word := f.Word
			if analyzeWord != "" {
				word = analyzeWord
			}
			images = append(images, huevec.Image{ID: f.Rel, Word: word, Raw: raw})
		}

		for _, r := range p.ProcessBatch(ctx, images) {
			if r.Err != nil {
				failed++
				warnings = append(warnings, fmt.Sprintf("%s: %v", r.ID, r.Err))
			} else {
				processed++
				words[r.Word] = struct{}{}
			}
			bar.Add(1)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if processed > 0 {
			elapsed := time.Since(start)
			rate := float64(processed+failed) / elapsed.Seconds()
			if remaining := len(found) - processed - failed; remaining > 0 && rate > 0 {
				eta := time.Duration(float64(remaining)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Analyzing[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}

	fmt.Printf("\nAnalysis complete:\n")
	fmt.Printf("  Images processed: %d\n", processed)
	fmt.Printf("  Images failed:    %d\n", failed)
	fmt.Printf("  Words:            %d\n", len(words))
	fmt.Printf("  Revision:         %s\n", p.Revision())
	fmt.Printf("  Vector length:    %d\n", p.VectorLength())
	fmt.Printf("  Elapsed:          %s\n", formatDuration(time.Since(start)))

	if len(warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		const maxShown = 20
		for i, w := range warnings {
			if i == maxShown {
				fmt.Printf("  ... and %d more\n", len(warnings)-maxShown)
				break
			}
			fmt.Printf("  - %s\n", w)
		}
	}

	if analyzeFinalize {
		if err := p.Finalize(ctx); err != nil {
			return fmt.Errorf("failed to finalize revision: %w", err)
		}
		fmt.Printf("\nRevision %s finalized.\n", p.Revision())
	}

	return nil
}
