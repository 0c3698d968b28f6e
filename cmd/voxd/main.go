// Package main is the entry point for the voxd CLI.
package main

import (
	"os"

	"github.com/voxd/voxd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
