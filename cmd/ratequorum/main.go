package main

import (
	"os"

	"RateQuorum/internal/logger"
)

func main() {
	logger.Init()

	if err := run(os.Args[1:]); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// run builds the command tree and executes it with args.
func run(args []string) error {
	root := newRootCmd()
	root.SetArgs(args)

	return root.Execute()
}
