// Package main provides the entry point for the steroids CLI.
package main

import (
	"os"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
