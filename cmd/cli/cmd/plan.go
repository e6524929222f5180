package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"cifleet/internal/planner"
	"cifleet/pkg/api"
)

var (
	planUnitTests    string
	planIntegrations string
	planMachines     int
	planOS           []string
	planSpecial      []string
	planCosts        string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Split tests across machines",
	Long: `Split unit and integration tests across machines so they finish at about
the same time. The controller's recorded test durations are used unless
--costs points to a local cost table, in which case nothing is sent.

Example:
  fleetctl plan --unittests "gle_basic gle_join" --integrations "shell: 1 2 ; gap: 3" --machines 2 --os ubuntu,centos7`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		req := api.PlanRequest{
			UnitTests:    planUnitTests,
			Integrations: planIntegrations,
			Machines:     planMachines,
			OSLabels:     planOS,
			Special:      planSpecial,
		}

		if planCosts == "" {
			plan, err := newClient().Plan(req)
			if err != nil {
				printError(cmd, err)
				return
			}
			for _, b := range plan.Buckets {
				cmd.Printf("%s%-8s%s %6.1fm  %s | %s\n", colorBold, b.OS, colorReset, b.Cost,
					joinOrNone(b.UnitTests), joinOrNone(b.Integrations))
			}
			cmd.Println(plan.Formatted)
			return
		}

		formatted, err := planLocally(req, planCosts)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Println(formatted)
	},
}

func planLocally(req api.PlanRequest, costFile string) (string, error) {
	costs, err := planner.LoadCostTable(costFile)
	if err != nil {
		return "", err
	}
	integrations, err := planner.ParseIntegrations(req.Integrations)
	if err != nil {
		return "", err
	}
	buckets, err := planner.Plan(planner.Request{
		UnitTests:    planner.ParseUnitTests(req.UnitTests),
		Integrations: integrations,
		Machines:     req.Machines,
		OSLabels:     req.OSLabels,
		Special:      req.Special,
	}, costs)
	if err != nil {
		return "", err
	}

	var used []planner.Bucket
	for _, b := range buckets {
		if !b.Empty() {
			used = append(used, b)
		}
	}
	return planner.Format(used), nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, " ")
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planUnitTests, "unittests", "", "space separated unit test groups")
	planCmd.Flags().StringVar(&planIntegrations, "integrations", "", "integration tests as \"type: n1 n2 ; type2: n3\"")
	planCmd.Flags().IntVar(&planMachines, "machines", 1, "number of machines")
	planCmd.Flags().StringSliceVar(&planOS, "os", []string{"ubuntu"}, "OS labels assigned to machines round-robin")
	planCmd.Flags().StringSliceVar(&planSpecial, "special", nil, "unit test prefixes that need a modern OS")
	planCmd.Flags().StringVar(&planCosts, "costs", "", "plan locally with this cost table file")
}
