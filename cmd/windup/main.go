package main

import (
	"os"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode separates bad configuration from runtime failures
func exitCode(err error) int {
	if errors.IsConfig(err) {
		return 2
	}
	return 1
}
