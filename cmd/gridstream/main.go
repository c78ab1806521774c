// Package main provides the gridstream CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/gridstream/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
