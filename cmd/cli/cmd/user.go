package cmd

import (
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Show what a user holds",
}

var userThrottleCmd = &cobra.Command{
	Use:   "throttle [name]",
	Short: "Show how many submission slots a user has left",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		usage, err := newClient().CheckThrottle(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		if usage.Limit == 0 {
			cmd.Printf("%s holds %d jobs, unlimited\n", usage.User, usage.OpCount)
			return
		}
		color := colorGreen
		if usage.Remaining == 0 {
			color = colorRed
		}
		cmd.Printf("%s holds %d of %d slots, %s%d remaining%s\n",
			usage.User, usage.OpCount, usage.Limit, color, usage.Remaining, colorReset)
	},
}

var userActivityCmd = &cobra.Command{
	Use:   "activity [name]",
	Short: "List a user's running and debugging jobs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		activity, err := newClient().Activity(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Print(activity.Summary)
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userThrottleCmd, userActivityCmd)
}
