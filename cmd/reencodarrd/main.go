// Package main is the entry point for the reencodarr daemon.
package main

import (
	"os"

	"github.com/reencodarr/reencodarr/cmd/reencodarrd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
