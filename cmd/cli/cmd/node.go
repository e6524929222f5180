package cmd

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	nodeMessage string
	nodeLogDir  string
	eventsAfter int64
	eventsLimit int
	follow      bool
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Take machines offline or online and read their history",
}

var nodeOfflineCmd = &cobra.Command{
	Use:   "offline [name]",
	Short: "Take a machine offline",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		node, err := newClient().TakeOffline(args[0], nodeMessage, nodeLogDir)
		if err != nil {
			printError(cmd, err)
			return
		}
		printNode(cmd, node)
	},
}

var nodeOnlineCmd = &cobra.Command{
	Use:   "online [name]",
	Short: "Clean a machine and return it to the pool",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		node, err := newClient().TakeOnline(args[0], nodeLogDir)
		if err != nil {
			printError(cmd, err)
			return
		}
		printNode(cmd, node)
	},
}

var nodeEventsCmd = &cobra.Command{
	Use:   "events [name]",
	Short: "Show the offline/online history of a machine",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

		if follow {
			// Trap Ctrl+C to exit gracefully
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				os.Exit(0)
			}()
		}

		client := newClient()
		lastID := eventsAfter

		for {
			events, err := client.NodeEvents(name, lastID, eventsLimit)
			if err != nil {
				printError(cmd, err)
				if !follow {
					break
				}
				time.Sleep(2 * time.Second)
				continue
			}

			for _, e := range events {
				line := e.CreatedAt.Format(time.RFC3339) + " " + e.Event
				if e.JobID != 0 {
					line += " job=" + strconv.FormatInt(e.JobID, 10)
				}
				if e.Message != "" {
					line += " " + e.Message
				}
				cmd.Println(line)

				if e.ID > lastID {
					lastID = e.ID
				}
			}

			if !follow {
				// A short page means we caught up.
				if len(events) < eventsLimit {
					break
				}
				continue
			}
			time.Sleep(time.Second)
		}
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.AddCommand(nodeOfflineCmd, nodeOnlineCmd, nodeEventsCmd)

	nodeOfflineCmd.Flags().StringVarP(&nodeMessage, "message", "m", "", "offline message shown to other users")
	nodeOfflineCmd.Flags().StringVar(&nodeLogDir, "log-dir", "", "log directory recorded with the event")
	nodeOnlineCmd.Flags().StringVar(&nodeLogDir, "log-dir", "", "log directory recorded with the event")

	nodeEventsCmd.Flags().Int64Var(&eventsAfter, "after", 0, "only show events with a larger id")
	nodeEventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "events per page")
	nodeEventsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new events")
}
