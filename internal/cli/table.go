package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/huevec/colorspace"
	"github.com/hupe1980/huevec/persistence"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Manage the color lookup table",
}

var tableBuildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Precompute the RGB to JzAzBz lookup table",
	Long: `Precompute the lookup table that maps sRGB pixels into the JzAzBz
perceptual color space. Analysis requires a table; building it once and
reusing it across runs keeps image processing fast.

Examples:
  huevec table build                    # Store in .huevec/table.hvt
  huevec table build jzazbz.hvt         # Store at an explicit path
  huevec table build --depth 6          # Coarser, smaller table`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTableBuild,
}

var tableInfoCmd = &cobra.Command{
	Use:   "info [path]",
	Short: "Inspect a color lookup table",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTableInfo,
}

var (
	tableDepth int
	tableRaw   bool
)

func init() {
	tableBuildCmd.Flags().IntVar(&tableDepth, "depth", 8, "per-channel resolution exponent (1-8)")
	tableBuildCmd.Flags().BoolVar(&tableRaw, "raw", false, "store uncompressed for zero-copy mmap reads")
	tableCmd.AddCommand(tableBuildCmd)
	tableCmd.AddCommand(tableInfoCmd)
	rootCmd.AddCommand(tableCmd)
}

func runTableBuild(cmd *cobra.Command, args []string) error {
	path := tableFilePath()
	if len(args) > 0 {
		path = args[0]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create table directory: %w", err)
	}

	fmt.Printf("Building lookup table at depth %d...\n", tableDepth)
	start := time.Now()

	t := colorspace.BuildTable(func(o *colorspace.BuildOptions) {
		o.Depth = tableDepth
	})
	defer t.Close()

	layout := uint8(persistence.LayoutZstd)
	if tableRaw {
		layout = persistence.LayoutRaw
	}
	if err := colorspace.SaveTable(path, t, layout); err != nil {
		return fmt.Errorf("failed to save table: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	fmt.Printf("\nTable built:\n")
	fmt.Printf("  Space:   %s\n", t.Space())
	fmt.Printf("  Entries: %d\n", t.Entries())
	fmt.Printf("  Size:    %s\n", formatBytes(info.Size()))
	fmt.Printf("  Elapsed: %s\n", formatDuration(time.Since(start)))
	fmt.Printf("\nTable stored at: %s\n", path)
	return nil
}

func runTableInfo(cmd *cobra.Command, args []string) error {
	path := tableFilePath()
	if len(args) > 0 {
		path = args[0]
	}

	t, err := colorspace.OpenTable(path)
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Printf("Color table: %s\n", path)
	fmt.Printf("  Space:   %s\n", t.Space())
	fmt.Printf("  Depth:   %d (%d levels per channel)\n", t.Depth(), 1<<t.Depth())
	fmt.Printf("  Entries: %d\n", t.Entries())
	for ch := 0; ch < 3; ch++ {
		lo, hi := t.ChannelRange(ch)
		fmt.Printf("  Channel %d range: [%.6f, %.6f]\n", ch, lo, hi)
	}
	return nil
}
