package cmd

import (
	"github.com/spf13/cobra"
)

var renewForce bool

var renewCmd = &cobra.Command{
	Use:   "renew [kind] [id] [duration]",
	Short: "Extend the debug window of a failed job",
	Long: `Extend the debug window of a failed build or test job so its machines
stay reserved. Duration is like 2h, 30m or 1d. Only the job owner may renew.
Use --force to reopen a window that has already expired.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseJobID(args[1])
		if err != nil {
			cmd.Println(err)
			return
		}
		job, err := newClient().Renew(args[0], id, args[2], renewForce)
		if err != nil {
			printError(cmd, err)
			return
		}
		if job.DebugEnd != nil {
			cmd.Printf("Debug window of %s job %d now ends %s\n", job.Kind, job.ID, formatTimeWithRelative(job.DebugEnd))
			return
		}
		cmd.Printf("Renewed %s job %d\n", job.Kind, job.ID)
	},
}

var reclaimCmd = &cobra.Command{
	Use:   "reclaim [kind] [id]",
	Short: "End a debug session and release its machines",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseJobID(args[1])
		if err != nil {
			cmd.Println(err)
			return
		}
		job, err := newClient().Reclaim(args[0], id)
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("Reclaimed %s job %d, machines released\n", job.Kind, job.ID)
	},
}

func init() {
	rootCmd.AddCommand(renewCmd, reclaimCmd)
	renewCmd.Flags().BoolVar(&renewForce, "force", false, "reopen an expired debug window")
}
