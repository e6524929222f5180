package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cifleet/pkg/api"
)

var (
	jobID      int64
	jobParent  int64
	jobBuild   int64
	jobLogDir  string
	jobBranch  string
	jobCommits []string
	jobCascade bool
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and manage jobs",
}

var jobGetCmd = &cobra.Command{
	Use:   "get [kind] [id]",
	Short: "Show a job",
	Long:  `Show a job of the given kind (mit, mwh, build, test or mr), including its status, timestamps and debug window.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseJobID(args[1])
		if err != nil {
			cmd.Println(err)
			return
		}
		job, err := newClient().GetJob(args[0], id)
		if err != nil {
			printError(cmd, err)
			return
		}
		printJob(cmd, job)
	},
}

var jobCreateCmd = &cobra.Command{
	Use:   "create [kind]",
	Short: "Register a new job",
	Long: `Register a new job. Top-level kinds (mit, mwh) count against the
submitting user's throttle and are rejected once the user holds too many
running or debugging jobs.

Example:
  fleetctl job create mwh --id 100 --user alice --commit gle=abc123`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if jobID <= 0 {
			cmd.Println("--id is required")
			return
		}
		commits, err := parseCommits(jobCommits)
		if err != nil {
			cmd.Println(err)
			return
		}

		req := api.JobRequest{
			ID:      jobID,
			Parent:  jobParent,
			Build:   jobBuild,
			Commits: commits,
		}
		if jobLogDir != "" {
			req.LogDir = &jobLogDir
		}
		if jobBranch != "" {
			req.BaseBranch = &jobBranch
		}

		job, err := newClient().CreateJob(args[0], req)
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("Created %s job %d\n", job.Kind, job.ID)
	},
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete [kind] [id]",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseJobID(args[1])
		if err != nil {
			cmd.Println(err)
			return
		}
		if err := newClient().DeleteJob(args[0], id, jobCascade); err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("Deleted %s job %d\n", args[0], id)
	},
}

func parseJobID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

// parseCommits turns repo=hash pairs into a map.
func parseCommits(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	commits := make(map[string]string, len(pairs))
	for _, p := range pairs {
		repo, hash, ok := strings.Cut(p, "=")
		if !ok || repo == "" || hash == "" {
			return nil, fmt.Errorf("invalid commit %q, expected repo=hash", p)
		}
		commits[repo] = hash
	}
	return commits, nil
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobGetCmd, jobCreateCmd, jobDeleteCmd)

	jobCreateCmd.Flags().Int64Var(&jobID, "id", 0, "job id (required)")
	jobCreateCmd.Flags().Int64Var(&jobParent, "parent", 0, "parent request id for build and test jobs")
	jobCreateCmd.Flags().Int64Var(&jobBuild, "build", 0, "build job a test job runs against")
	jobCreateCmd.Flags().StringVar(&jobLogDir, "log-dir", "", "log directory of the job")
	jobCreateCmd.Flags().StringVar(&jobBranch, "base-branch", "", "base branch of the job")
	jobCreateCmd.Flags().StringArrayVar(&jobCommits, "commit", nil, "repository commit as repo=hash (repeatable)")

	jobDeleteCmd.Flags().BoolVar(&jobCascade, "cascade", false, "also delete build and test jobs of a request")
}
