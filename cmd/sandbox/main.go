// Command sandbox is the thin CLI front-end over the replay sandbox core.
// Per §1's non-goals, this binary is deliberately minimal: it wires flags to
// the orchestrator and prints results, with no independent business logic.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
