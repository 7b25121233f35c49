package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/grazing-cli/internal/pipeline"
)

var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Combine class masks into the grazing consensus",
}

var consensusFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "Build one consensus mask per NDVI/SAVI tile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := applyWorkers(cmd); err != nil {
			return err
		}
		return runStages(cmd, "consensus files", pipeline.StageConsensus)
	},
}

var consensusMosaicCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "Merge the per-tile masks into the grazing mosaic",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStages(cmd, "consensus mosaic", pipeline.StageMosaic)
	},
}

var consensusFarmsCmd = &cobra.Command{
	Use:   "farms",
	Short: "Force farm pixels to the configured class, window by window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := cmd.Flags()
		for _, err := range []error{
			applyWorkers(cmd),
			override(cmd, "window-size", f.GetInt, &cfg.Consensus.WindowSize),
			override(cmd, "keep-artifacts", f.GetBool, &cfg.Consensus.KeepArtifacts),
		} {
			if err != nil {
				return err
			}
		}
		return runStages(cmd, "consensus farms", pipeline.StageFarmOverride)
	},
}

func applyWorkers(cmd *cobra.Command) error {
	return override(cmd, "workers", cmd.Flags().GetInt, &cfg.Pool.MaxWorkers)
}

func init() {
	consensusFilesCmd.Flags().Int("workers", 0, "override pool.max_workers")
	consensusFarmsCmd.Flags().Int("workers", 0, "override pool.max_workers")
	consensusFarmsCmd.Flags().Int("window-size", 0, "override consensus.window_size")
	consensusFarmsCmd.Flags().Bool("keep-artifacts", false, "keep per-window artifacts after assembly")

	consensusCmd.AddCommand(consensusFilesCmd)
	consensusCmd.AddCommand(consensusMosaicCmd)
	consensusCmd.AddCommand(consensusFarmsCmd)
	rootCmd.AddCommand(consensusCmd)
}
