// Package main is the entry point for the fleetctl CLI.
// fleetctl talks to the cifleet controller over its JSON API.
package main

import (
	"os"

	"cifleet/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
