package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"yqhp/load-engine/pkg/scenario"
	"yqhp/load-engine/pkg/types"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "列出已注册的场景及其默认参数",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listScenarios(cmd.OutOrStdout(), scenario.DefaultRegistry)
		},
	}
}

func listScenarios(w io.Writer, reg *scenario.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLOAD\tTHRESHOLDS\tDESCRIPTION")
	for _, s := range reg.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, describeLoad(s.Defaults), describeThresholds(s.Defaults.Thresholds), s.Description)
	}
	return tw.Flush()
}

func describeLoad(d scenario.Defaults) string {
	switch {
	case len(d.Stages) > 0:
		return fmt.Sprintf("%d stages, max %d VUs, %s", len(d.Stages), types.MaxStageTarget(d.StartVUs, d.Stages), types.TotalStagesDuration(d.Stages))
	case d.Iterations > 0:
		return fmt.Sprintf("%d VUs, %d iterations", max(d.VUs, 1), d.Iterations)
	case d.Duration > 0:
		return fmt.Sprintf("%d VUs, %s", max(d.VUs, 1), d.Duration)
	default:
		return "-"
	}
}

func describeThresholds(thresholds map[string][]types.ThresholdConfig) string {
	if len(thresholds) == 0 {
		return "-"
	}
	var parts []string
	for metric, list := range thresholds {
		for _, t := range list {
			parts = append(parts, metric+":"+t.Expression)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
