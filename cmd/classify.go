package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/grazing-cli/internal/pipeline"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Reclassify input rasters into class masks",
	Long:  "Turns vegetation index, slope and land-cover rasters into masks of 1 (qualifies), 2 (does not) and 0 (nodata).",
}

var classifyIndicesCmd = &cobra.Command{
	Use:   "indices",
	Short: "Threshold NDVI and SAVI rasters into activity masks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := override(cmd, "workers", cmd.Flags().GetInt, &cfg.Pool.ClassifyWorkers); err != nil {
			return err
		}
		return runStages(cmd, "classify indices", pipeline.StageIndices)
	},
}

var classifySlopeCmd = &cobra.Command{
	Use:   "slope",
	Short: "Reclassify the slope raster by the gentle slope limit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := override(cmd, "gentle-max", cmd.Flags().GetFloat64, &cfg.Thresholds.SlopeReclass.GentleMaxDeg); err != nil {
			return err
		}
		return runStages(cmd, "classify slope", pipeline.StageSlope)
	},
}

var classifyLandCoverCmd = &cobra.Command{
	Use:   "landcover",
	Short: "Reclassify the raw land-cover raster by compatible codes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := override(cmd, "codes", cmd.Flags().GetIntSlice, &cfg.LandCover.CompatibleCodes); err != nil {
			return err
		}
		return runStages(cmd, "classify landcover", pipeline.StageLandCover)
	},
}

func init() {
	classifyIndicesCmd.Flags().Int("workers", 0, "override pool.classify_workers")
	classifySlopeCmd.Flags().Float64("gentle-max", 0, "override thresholds.slope_reclass.gentle_max_deg")
	classifyLandCoverCmd.Flags().IntSlice("codes", nil, "override land_cover.compatible_codes")

	classifyCmd.AddCommand(classifyIndicesCmd)
	classifyCmd.AddCommand(classifySlopeCmd)
	classifyCmd.AddCommand(classifyLandCoverCmd)
	rootCmd.AddCommand(classifyCmd)
}
