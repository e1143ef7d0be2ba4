package main

import (
	"fmt"

	"slice2series/core/reshaper"

	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	f := &specFlags{}
	cmd := &cobra.Command{
		Use:   "verify [flags] [slice files...]",
		Short: "Compare existing time-series outputs with their inputs",
		Long: `verify re-reads the outputs a conversion would write and compares their
most recent records with the inputs, value for value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := f.specifiers(args)
			if err != nil {
				return err
			}
			failed := 0
			for i, s := range specs {
				e, err := reshaper.NewWithContext(cmd.Context(), s, reshaper.Options{
					Serial:     true,
					Once:       f.once,
					Preprocess: f.preprocess,
					Logger:     a.logger,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", specLabel(s, i), err)
				}
				if err := e.Verify(cmd.Context()); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAILED %s\n%v\n", specLabel(s, i), err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK %s (%d variables)\n", specLabel(s, i), len(e.Inventory().Series))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs failed verification", failed, len(specs))
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
