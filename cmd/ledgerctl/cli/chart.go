package cli

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/akaunkita/finledger/internal/ledger"
)

type chartAccount struct {
	Key  string `json:"key"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type chartReport struct {
	Source   string         `json:"source"`
	TaxCode  string         `json:"taxCode"`
	Accounts []chartAccount `json:"accounts"`
}

func newChartCommand(flags *globalFlags) *cobra.Command {
	chart := &cobra.Command{
		Use:   "chart",
		Short: "Inspect the chart of accounts used for posting",
	}
	chart.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Parse a chart file (or the built-in chart) and list its accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			c, err := ledger.LoadChart(path)
			if err != nil {
				return err
			}
			report := chartReport{Source: path, TaxCode: c.TaxCode}
			if report.Source == "" {
				report.Source = "built-in"
			}
			for key, acct := range c.Accounts {
				report.Accounts = append(report.Accounts, chartAccount{Key: key, Code: acct.Code, Name: acct.Name})
			}
			sort.Slice(report.Accounts, func(i, j int) bool { return report.Accounts[i].Key < report.Accounts[j].Key })
			return flags.print(cmd.OutOrStdout(), report)
		},
	})
	return chart
}
