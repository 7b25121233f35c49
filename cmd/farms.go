package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/grazing-cli/internal/pipeline"
)

var farmsCmd = &cobra.Command{
	Use:   "farms",
	Short: "Farm boundary commands",
}

var farmsRasterizeCmd = &cobra.Command{
	Use:   "rasterize",
	Short: "Burn the farm shapefile onto the grazing mosaic grid",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := override(cmd, "shapefile", cmd.Flags().GetString, &cfg.Paths.Farms.Shapefile); err != nil {
			return err
		}
		return runStages(cmd, "farms rasterize", pipeline.StageFarmMask)
	},
}

func init() {
	farmsRasterizeCmd.Flags().String("shapefile", "", "override paths.farms.farm_shp")

	farmsCmd.AddCommand(farmsRasterizeCmd)
	rootCmd.AddCommand(farmsCmd)
}
