package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl is a command line tool for the cifleet controller",
	Long: `fleetctl is the command-line interface for the cifleet CI controller.

cifleet tracks CI jobs and the machines they run on. When a build or test
job fails, its machines stay reserved for a debug session that expires
unless the owner renews it. Expired sessions are reclaimed: physical
machines are cleaned and returned to the pool, pods and containers are
deleted.

Common workflows:

  Inspect a job:
    fleetctl job get test 42

  Keep a failed job's machines for two more hours:
    fleetctl renew test 42 2h --user alice

  Give the machines back now:
    fleetctl reclaim test 42

  See what a user holds:
    fleetctl user activity alice

  Split tests across machines:
    fleetctl plan --unittests "gle_basic gle_join" --machines 2 --os ubuntu,centos7

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    CIFLEET_URL      API endpoint (default: http://localhost:6161)
    CIFLEET_TOKEN    API token, when the controller requires one
    CIFLEET_USER     User name sent with every request`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".fleetctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".fleetctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "CIFLEET_VARNAME"
	viper.SetEnvPrefix("CIFLEET")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds a client from the resolved configuration.
func newClient() *FleetClient {
	return NewFleetClient(viper.GetString("url"), viper.GetString("token"), viper.GetString("user"))
}

// printError renders API errors with their status code.
func printError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fleetctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "cifleet controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().StringP("user", "u", "", "user name to act as")
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}
