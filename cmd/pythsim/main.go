// pythsim runs a local price oracle sandbox.
//
// The sandbox hosts the oracle program on an in-process bank and exposes
// its state over JSON-RPC. The demo subcommand creates a price account,
// publishes a price and prints the decoded record.
package main

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
