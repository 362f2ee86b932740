package cmd

import (
	"fmt"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jmorganca/speedtest/envconfig"
)

func ConfigHandler(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if must(cmd.Flags().GetBool("example")) {
		fmt.Fprint(out, envconfig.GenerateExampleConfig())
		return nil
	}

	path := envconfig.ConfigPath()
	if path == "" {
		path = "(none)"
	}
	fmt.Fprintf(out, "Config file: %s\n\n", path)

	vars := envconfig.AsMap()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var data [][]string
	for _, k := range keys {
		data = append(data, []string{k, fmt.Sprintf("%v", vars[k].Value), vars[k].Description})
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"NAME", "VALUE", "DESCRIPTION"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.Render()

	return nil
}
