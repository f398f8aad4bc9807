// Package cli implements the huevec command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hupe1980/huevec/config"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	revision string
)

var rootCmd = &cobra.Command{
	Use:   "huevec",
	Short: "Perceptual color vectors from image collections",
	Long: `huevec extracts perceptual color distributions from images and
aggregates them into per-word feature vectors.

Images live in one directory per word. A revision names one pass over
a collection; finalized revisions are immutable and can be shared
through a blob store.

Example usage:
  huevec table build              # Precompute the color lookup table
  huevec analyze ./downloads      # Process images into word vectors
  huevec words                    # List aggregated words
  huevec show sunset -k 5         # Inspect a word and its neighbors
  huevec push                     # Publish the revision to a blob store`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		// Populate the process environment before the config and the
		// backend credentials read it.
		_ = godotenv.Load()

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if revision != "" {
			cfg.Revision = revision
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./huevec.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVarP(&revision, "revision", "r", "", "revision name (overrides config)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
