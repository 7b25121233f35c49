package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// override copies flag name into dst when it was set on the command line.
// get is the matching pflag getter, e.g. cmd.Flags().GetInt.
func override[T any](cmd *cobra.Command, name string, get func(string) (T, error), dst *T) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := get(name)
	if err != nil {
		return eris.Wrapf(err, "flag --%s", name)
	}
	*dst = v
	return nil
}
