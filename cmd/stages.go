package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/grazing-cli/internal/model"
	"github.com/sells-group/grazing-cli/internal/pipeline"
)

// runStages executes the given pipeline stages (all of them when none are
// given) and prints a per-stage summary.
func runStages(cmd *cobra.Command, command string, stages ...string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Flags may have overridden validated settings.
	if err := cfg.Validate(); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close() //nolint:errcheck
	}

	res, err := pipeline.New(cfg, st).Run(ctx, command, stages...)
	if res != nil {
		formatStageResults(cmd.OutOrStdout(), res)
	}
	return err
}

// formatStageResults writes one line per stage plus the patch totals.
func formatStageResults(out io.Writer, res *model.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tSTATUS\tDONE\tEXISTING\tSKIPPED\tDURATION\tOUTPUT")
	for _, s := range res.Stages {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			s.Name,
			s.Status,
			s.Done,
			s.AlreadyDone,
			len(s.Skipped),
			(time.Duration(s.Duration) * time.Millisecond).String(),
			s.Output,
		)
	}
	_ = w.Flush()

	for _, s := range res.Stages {
		for _, msg := range s.Skipped {
			_, _ = fmt.Fprintf(out, "skipped %s: %s\n", s.Name, msg)
		}
	}
	if res.Patches > 0 {
		_, _ = fmt.Fprintf(out, "%d patches, %.2f ha\n", res.Patches, res.AreaHa)
	}
	if res.Error != "" {
		_, _ = fmt.Fprintf(out, "error: %s\n", res.Error)
	}
}
