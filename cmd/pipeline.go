package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/grazing-cli/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run every stage from reclassification to vectorization",
	Long: "Runs the stages in order: " + strings.Join(pipeline.Stages, ", ") + ". " +
		"Stages whose outputs exist are not recomputed; --stages limits the run to the named stages.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stages, err := cmd.Flags().GetStringSlice("stages")
		if err != nil {
			return eris.Wrap(err, "flag --stages")
		}
		return runStages(cmd, "pipeline", stages...)
	},
}

func init() {
	pipelineCmd.Flags().StringSlice("stages", nil, "run only these stages")
	rootCmd.AddCommand(pipelineCmd)
}
