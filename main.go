// The main package for the calsources executable.
package main

import (
	"github.com/JakeFAU/calendar-sources/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
