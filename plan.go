package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"autoscout-scraper/scraper/autoscout"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the queries a run would issue, without opening a browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		queries, err := planQueries()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tORIGIN\tRADIUS\tURL")
		for i, q := range queries {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, q.Origin.Name, q.Radius, autoscout.BuildURL(cfg.Scrape.BaseURL, q, 1))
		}
		return tw.Flush()
	},
}

func init() {
	addSearchFlags(planCmd.Flags())
}
