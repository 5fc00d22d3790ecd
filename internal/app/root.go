package app

import (
	"fmt"
	"os"
)

func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "endpoints":
		return runEndpoints(args[1:])
	case "requests":
		return runRequests(args[1:])
	case "forward":
		return runForward(args[1:])
	case "report":
		return runReport(args[1:])
	case "version", "-v", "--version":
		return runVersion(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 1
	}
}
