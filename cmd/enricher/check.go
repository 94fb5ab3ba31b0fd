package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the config and every resource once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(context.Background())
			if err != nil {
				return err
			}
			defer a.cache.Reset()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config %s (version %s) ok\n", configFile, a.cfg.Version)
			fmt.Fprintf(out, "mode: %s\n", a.stage.Mode())
			fmt.Fprintf(out, "geo database: %s\n", a.cfg.Resources.GeoDatabase)
			if p := a.cfg.Resources.GeoCityFilter; p != "" {
				f, err := a.cache.CityFilter(p)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "city filter: %s (%d cities)\n", p, f.Len())
			}
			if p := a.cfg.Resources.URLAllowList; p != "" {
				l, err := a.cache.AllowList(p)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "url allow list: %s (%d click, %d impression hosts)\n", p, len(l.Click), len(l.Impression))
			}
			return nil
		},
	}
}
