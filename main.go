// The main package for the tracker executable.
package main

import (
	"github.com/JakeFAU/taleon-tracker/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
