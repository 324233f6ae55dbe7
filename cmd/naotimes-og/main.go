// The main package for the naotimes-og executable.
package main

import (
	"github.com/naoTimesdev/naotimes-og/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
