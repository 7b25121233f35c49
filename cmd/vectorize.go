package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/grazing-cli/internal/pipeline"
)

var vectorizeCmd = &cobra.Command{
	Use:   "vectorize",
	Short: "Extract, smooth and filter grazing patches into shapefile and GeoJSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := cmd.Flags()
		vc := &cfg.Vectorize
		for _, err := range []error{
			override(cmd, "min-pixels", f.GetInt, &vc.MinPixels),
			override(cmd, "min-ha", f.GetFloat64, &vc.MinHa),
			override(cmd, "max-ha", f.GetFloat64, &vc.MaxHa),
			override(cmd, "tolerance", f.GetFloat64, &vc.SimplifyToleranceM),
		} {
			if err != nil {
				return err
			}
		}
		return runStages(cmd, "vectorize", pipeline.StageVectorize)
	},
}

func init() {
	vectorizeCmd.Flags().Int("min-pixels", 0, "override vectorize.min_pixels")
	vectorizeCmd.Flags().Float64("min-ha", 0, "override vectorize.min_ha")
	vectorizeCmd.Flags().Float64("max-ha", 0, "override vectorize.max_ha")
	vectorizeCmd.Flags().Float64("tolerance", 0, "override vectorize.simplify_tolerance_m")

	rootCmd.AddCommand(vectorizeCmd)
}
